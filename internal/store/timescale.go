package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
)

// TimescaleStore archives domain events in the device_events hypertable.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var eventColumns = []string{
	"occurred_at",
	"event_id",
	"kind",
	"device_id",
	"login_id",
	"latitude",
	"longitude",
	"altitude",
	"accuracy",
	"heading",
	"speed_mps",
	"captured_at",
	"zone",
	"inside_since",
	"seconds_inside",
	"speed_limit_kmh",
	"speed_kmh",
	"payload",
}

// eventRow flattens ev into eventColumns order. Columns that do not apply to
// the event kind are NULL.
func eventRow(ev domain.Event) ([]interface{}, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	var (
		zone          *string
		insideSince   interface{}
		secondsInside *int64
		limit         *float64
		speedKmh      *float64
		loginID       *string
	)
	if ev.LoginID != "" {
		loginID = &ev.LoginID
	}
	if ev.Zone != nil {
		zone = &ev.Zone.Name
		if ev.Zone.Since != nil {
			insideSince = *ev.Zone.Since
		}
		secondsInside = ev.Zone.TotalSecondsInside
	}
	if ev.Speed != nil {
		zone = &ev.Speed.Zone
		limit = &ev.Speed.Limit
		speedKmh = &ev.Speed.SpeedKmh
	}

	p := ev.Position
	return []interface{}{
		ev.At,
		pgtype.UUID{Bytes: ev.ID, Valid: true},
		string(ev.Kind),
		ev.DeviceID,
		loginID,
		p.Latitude,
		p.Longitude,
		p.Altitude,
		p.Accuracy,
		p.Heading,
		p.Speed,
		p.CapturedAt,
		zone,
		insideSince,
		secondsInside,
		limit,
		speedKmh,
		string(payload),
	}, nil
}

func (s *TimescaleStore) BatchInsert(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		row, err := eventRow(ev)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"device_events"},
		eventColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(events), err)
	}

	return nil
}
