package pipeline

import (
	"context"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/geo"
	"fleet-monitor/geotrack/internal/monitoring"
	"fleet-monitor/geotrack/internal/timeutil"
)

// OverspeedEvaluator compares the overspeed window's fastest sample against the
// global and per-zone limits and manages the overspeed alert.
type OverspeedEvaluator struct {
	settings *config.Settings
	geo      *geo.Cache
	activity ActivitySource
	clock    timeutil.Clock
}

// NewOverspeedEvaluator builds an evaluator. activity may be nil, in which case
// the activity filter never suppresses.
func NewOverspeedEvaluator(
	settings *config.Settings,
	cache *geo.Cache,
	activity ActivitySource,
	clock timeutil.Clock,
) *OverspeedEvaluator {
	return &OverspeedEvaluator{
		settings: settings,
		geo:      cache,
		activity: activity,
		clock:    clock,
	}
}

func exceeds(speed, limit float64, inclusive bool) bool {
	if inclusive {
		return speed >= limit
	}
	return speed > limit
}

func (e *OverspeedEvaluator) Evaluate(ctx context.Context, sc *SessionContext, sample domain.PositionSample) ([]domain.Event, []domain.Command) {
	var (
		events   []domain.Event
		commands []domain.Command
		hard     bool
		soft     bool
	)
	now := e.clock.Now()
	origin := sc.Origin(now)

	if !e.suppressed(ctx, sc.DeviceID) {
		speed := sample.SpeedKmh()

		if limit := e.settings.GlobalLimit(); exceeds(speed, limit, e.settings.GlobalLimitInclusive) {
			monitoring.Logf("%s speed limit reached: %.1f > %.1f km/h", sc.DeviceID, speed, limit)
			events = append(events, domain.NewSpeedExcess(origin, domain.GlobalZone, limit, sample))
			hard = true
		} else if pre := e.settings.GlobalPreLimit(); speed >= pre {
			events = append(events, domain.NewSpeedPreExcess(origin, domain.GlobalZone, pre, sample))
			soft = true
		}

		point := geo.PointOf(sample)
		for _, zone := range sc.Zones {
			if zone.Kind != domain.ZoneSpeedLimit {
				continue
			}
			if !e.geo.IsInside(zone.Name, point) {
				continue
			}
			if limit := domain.Limit(zone.SpeedLimit); exceeds(speed, limit, e.settings.ZoneInclusive()) {
				monitoring.Logf("%s speed limit of %s reached: %.1f km/h", sc.DeviceID, zone.Name, speed)
				events = append(events, domain.NewSpeedExcess(origin, zone.Name, limit, sample))
				hard = true
			} else if pre := domain.Limit(zone.PreLimit); speed >= pre {
				events = append(events, domain.NewSpeedPreExcess(origin, zone.Name, pre, sample))
				soft = true
			}
		}
	}

	switch {
	case hard && e.settings.WarnUser:
		// The device holds a single urgent slot, so repeating the command
		// refreshes the alert instead of stacking another one.
		commands = append(commands, domain.Command{
			Kind:  domain.CommandSetAlert,
			Alert: e.notification(),
		})
		sc.AlertActive = true
	case !hard && !soft && sc.AlertActive && e.settings.AutoClear():
		commands = append(commands, domain.Command{Kind: domain.CommandClearAlert})
		sc.AlertActive = false
	}

	return events, commands
}

// suppressed reports whether the activity filter silences this cycle. Lookup
// failures and unrecognised payloads count as unknown activity.
func (e *OverspeedEvaluator) suppressed(ctx context.Context, deviceID string) bool {
	if !e.settings.ActivityFilter || e.activity == nil {
		return false
	}
	raw, err := e.activity.CurrentActivity(ctx, deviceID)
	if err != nil {
		monitoring.Logf("activity lookup failed for %s: %v", deviceID, err)
		return false
	}
	return ParseActivity(raw) == domain.ActivityStill
}

func (e *OverspeedEvaluator) notification() *domain.Notification {
	t := e.settings.Alert
	return &domain.Notification{
		Title:   t.Title,
		Message: t.Message,
		Color:   t.Color,
		Urgent:  true,
		Actions: []domain.NotificationAction{{
			Name:   "OK",
			Action: domain.ActionAckOverspeed,
		}},
	}
}
