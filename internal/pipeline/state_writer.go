package pipeline

import (
	"context"
	"time"

	"fleet-monitor/geotrack/internal/monitoring"
)

type PositionStateStore interface {
	UpdatePosition(ctx context.Context, u PositionUpdate) error
}

// StateWriter keeps the live position of every device current. Only the newest
// update per device in a batch is written.
type StateWriter struct {
	ch    <-chan PositionUpdate
	state PositionStateStore
}

func NewStateWriter(ch <-chan PositionUpdate, state PositionStateStore) *StateWriter {
	return &StateWriter{ch: ch, state: state}
}

const stateBatchSize = 100

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]PositionUpdate, 0, stateBatchSize)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-w.ch:
			if !ok {
				w.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, u)
			if len(batch) >= stateBatchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.drain(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

// drain writes batch and every update still buffered in the channel.
func (w *StateWriter) drain(ctx context.Context, batch []PositionUpdate) {
	for {
		select {
		case u, ok := <-w.ch:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, u)
		default:
			w.flush(ctx, batch)
			return
		}
	}
}

func (w *StateWriter) flush(ctx context.Context, batch []PositionUpdate) {
	latest := make(map[string]int, len(batch))
	for i, u := range batch {
		latest[u.DeviceID] = i
	}
	for i, u := range batch {
		if latest[u.DeviceID] != i {
			continue
		}
		if err := w.state.UpdatePosition(ctx, u); err != nil {
			monitoring.Logf("position update failed for %s: %v", u.DeviceID, err)
		}
	}
}
