package pipeline

import (
	"context"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/geo"
	"fleet-monitor/geotrack/internal/metrics"
	"fleet-monitor/geotrack/internal/monitoring"
	"fleet-monitor/geotrack/internal/timeutil"
)

// ZoneTracker runs the OUTSIDE/INSIDE state machine of every containment zone
// against the zone window's representative sample. It is the only writer of
// containment state.
type ZoneTracker struct {
	geo   *geo.Cache
	store ContainmentStore
	clock timeutil.Clock
}

func NewZoneTracker(cache *geo.Cache, store ContainmentStore, clock timeutil.Clock) *ZoneTracker {
	return &ZoneTracker{geo: cache, store: store, clock: clock}
}

// Track evaluates sample against sc.Zones. A store failure skips that zone for
// this cycle and leaves its state untouched.
func (t *ZoneTracker) Track(ctx context.Context, sc *SessionContext, sample domain.PositionSample) ([]domain.Event, []domain.Command) {
	var (
		events   []domain.Event
		commands []domain.Command
	)
	point := geo.PointOf(sample)

	for _, zone := range sc.Zones {
		if !zone.Kind.TracksContainment() {
			continue
		}

		isInside := t.geo.IsInside(zone.Name, point)

		since, err := t.store.Get(ctx, sc.DeviceID, zone.Name)
		if err != nil {
			metrics.ContainmentFailures.Add(1)
			monitoring.Logf("containment read failed for %s/%s: %v", sc.DeviceID, zone.Name, err)
			continue
		}
		wasInside := since != nil

		switch {
		case isInside && !wasInside:
			now := t.clock.Now()
			if err := t.store.Set(ctx, sc.DeviceID, zone.Name, &now); err != nil {
				metrics.ContainmentFailures.Add(1)
				monitoring.Logf("containment write failed for %s/%s: %v", sc.DeviceID, zone.Name, err)
				continue
			}
			monitoring.Logf("%s is now inside %s", sc.DeviceID, zone.Name)
			events = append(events, domain.NewZoneEnter(sc.Origin(now), zone.Name, sample))
			commands = append(commands, navigation(sc, zone, true)...)

		case !isInside && wasInside:
			now := t.clock.Now()
			if err := t.store.Set(ctx, sc.DeviceID, zone.Name, nil); err != nil {
				metrics.ContainmentFailures.Add(1)
				monitoring.Logf("containment write failed for %s/%s: %v", sc.DeviceID, zone.Name, err)
				continue
			}
			monitoring.Logf("%s is now outside %s", sc.DeviceID, zone.Name)
			events = append(events, domain.NewZoneExit(sc.Origin(now), zone.Name, *since, sample))
			commands = append(commands, navigation(sc, zone, false)...)
		}

		if zone.Kind == domain.ZoneShowForm && zone.TargetID != "" {
			commands = append(commands, domain.Command{
				Kind:    domain.CommandFormVisibility,
				FormID:  zone.TargetID,
				Visible: isInside,
			})
		}
	}

	return events, commands
}

// navigation returns the open form/task command for a transition, if the zone
// asks for one in that direction and someone is logged in. Whether the device
// is already on the submit page is checked when the command is applied.
func navigation(sc *SessionContext, zone domain.ZoneDefinition, entering bool) []domain.Command {
	if zone.Kind != domain.ZoneOpenForm && zone.Kind != domain.ZoneOpenTask {
		return nil
	}
	if !sc.HasLogin() || zone.TargetID == "" {
		return nil
	}
	if entering && !zone.Trigger.OnEnter {
		return nil
	}
	if !entering && !zone.Trigger.OnExit {
		return nil
	}

	cmd := domain.Command{Kind: domain.CommandNavigate}
	if zone.Kind == domain.ZoneOpenForm {
		cmd.FormID = zone.TargetID
	} else {
		cmd.TaskID = zone.TargetID
	}
	return []domain.Command{cmd}
}
