package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/metrics"
	"fleet-monitor/geotrack/internal/tags"
	"fleet-monitor/geotrack/internal/timeutil"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type sessionFixture struct {
	session   *Session
	clock     *timeutil.MockClock
	store     *memContainment
	events    *eventRecorder
	commands  *commandRecorder
	positions *positionRecorder
	gps       *gpsRecorder
	settings  atomic.Pointer[config.Settings]
	cancel    context.CancelFunc
}

type gpsRecorder struct {
	requests chan config.GPSRequest
}

func (g *gpsRecorder) RequestGPS(_ context.Context, _ string, req config.GPSRequest) error {
	g.requests <- req
	return nil
}

func startSession(t *testing.T, s *config.Settings, loginID string, dir tags.Directory) *sessionFixture {
	t.Helper()
	if dir == nil {
		dir = tags.StaticDirectory{}
	}
	f := &sessionFixture{
		clock:     timeutil.NewMockClock(epoch),
		store:     newMemContainment(),
		events:    &eventRecorder{},
		commands:  newCommandRecorder(),
		positions: &positionRecorder{},
		gps:       &gpsRecorder{requests: make(chan config.GPSRequest, 1)},
	}
	f.settings.Store(s)
	f.session = NewSession("dev-1", loginID, Deps{
		Settings:  f.settings.Load,
		Store:     f.store,
		Directory: dir,
		Events:    f.events,
		Commands:  f.commands,
		Positions: f.positions,
		GPS:       f.gps,
		Clock:     f.clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)
	go f.session.Run(ctx)

	require.Eventually(t, func() bool { return f.clock.Tickers() == 2 }, waitFor, tick)
	return f
}

func (f *sessionFixture) submit(t *testing.T, samples ...domain.PositionSample) {
	t.Helper()
	for _, p := range samples {
		require.True(t, f.session.Submit(p))
	}
}

func (f *sessionFixture) generation() uint64 {
	f.commands.mu.Lock()
	defer f.commands.mu.Unlock()
	return f.commands.generations["dev-1"]
}

func TestSession_OverspeedWindowEvaluatesFastestOnce(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.SpeedLimit = ptr(kmh(4))
		s.WarnUser = true
	})
	f := startSession(t, s, "", nil)

	for _, mps := range []float64{1, 1, 1, 5, 1, 1} {
		f.submit(t, sample(5, 5, mps))
	}
	f.clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		return len(f.events.OfKind(domain.EventSpeedExcess)) == 1
	}, waitFor, tick)
	ev := f.events.OfKind(domain.EventSpeedExcess)[0]
	assert.Equal(t, kmh(5), ev.Speed.SpeedKmh)
	assert.Equal(t, "dev-1", ev.DeviceID)

	require.Eventually(t, func() bool {
		return len(f.commands.OfKind(domain.CommandSetAlert)) == 1
	}, waitFor, tick)
	cmd := f.commands.OfKind(domain.CommandSetAlert)[0]
	assert.Equal(t, "dev-1", cmd.DeviceID)
	assert.Equal(t, uint64(1), cmd.Generation)

	// An empty window emits nothing.
	f.clock.Advance(5 * time.Second)
	f.submit(t, sample(5, 5, 1))
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.commands.OfKind(domain.CommandClearAlert)) == 1
	}, waitFor, tick)
	assert.Len(t, f.events.OfKind(domain.EventSpeedExcess), 1)
}

func TestSession_ZoneEnterAndExit(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.EnableGeofences = true
		s.Geofences = []domain.ZoneDefinition{{Name: "depot", Kind: domain.ZoneDefault, Boundary: unitSquare}}
	})
	f := startSession(t, s, "", nil)

	f.submit(t, sample(0.5, 0.5, 1))
	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.events.OfKind(domain.EventZoneEnter)) == 1
	}, waitFor, tick)

	f.submit(t, sample(5, 5, 1))
	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.events.OfKind(domain.EventZoneExit)) == 1
	}, waitFor, tick)

	exit := f.events.OfKind(domain.EventZoneExit)[0]
	assert.Equal(t, int64(30), *exit.Zone.TotalSecondsInside)
	assert.Len(t, f.events.OfKind(domain.EventZoneEnter), 1)
}

func TestSession_RejectedSamplesNeverReachWindows(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.EnableQualityFilter = true
		s.MaxAccuracy = ptr(10.0)
		s.SpeedLimit = ptr(kmh(4))
		s.Impossible = []domain.ImpossibleSpeedRule{{MaxSpeed: kmh(100)}}
	})
	f := startSession(t, s, "", nil)

	blurry := sample(5, 5, 20)
	blurry.Accuracy = 11
	f.submit(t, blurry, sample(5, 5, 150))
	f.clock.Advance(5 * time.Second)

	// A later accepted sample proves the tick was processed.
	f.submit(t, sample(5, 5, 6))
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.events.OfKind(domain.EventSpeedExcess)) == 1
	}, waitFor, tick)
	assert.Equal(t, kmh(6), f.events.OfKind(domain.EventSpeedExcess)[0].Speed.SpeedKmh)
}

func TestSession_LoginChangeRescopesZones(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.EnableGeofences = true
		s.Geofences = []domain.ZoneDefinition{{
			Name: "night-yard", Kind: domain.ZoneDefault, Boundary: unitSquare, Tags: []string{"night"},
		}}
	})
	dir := tags.StaticDirectory{Logins: map[string][]string{"driver-n": {"night"}}}
	f := startSession(t, s, "driver-d", dir)

	emitted := metrics.ZoneEmissions.Load()
	f.submit(t, sample(0.5, 0.5, 1))
	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return metrics.ZoneEmissions.Load() > emitted }, waitFor, tick)
	assert.Empty(t, f.events.OfKind(domain.EventZoneEnter), "the zone does not apply to driver-d")

	f.submit(t, sample(0.5, 0.5, 1))
	require.NoError(t, f.session.ChangeLogin(context.Background(), "driver-n"))
	assert.Equal(t, uint64(2), f.generation())

	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.events.OfKind(domain.EventZoneEnter)) == 1
	}, waitFor, tick)
	assert.Equal(t, "driver-n", f.events.OfKind(domain.EventZoneEnter)[0].LoginID)
}

func TestSession_ZonesScopedByTags(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.EnableGeofences = true
		s.Geofences = []domain.ZoneDefinition{
			{Name: "everyone", Kind: domain.ZoneDefault, Boundary: unitSquare},
			{Name: "trucks", Kind: domain.ZoneDefault, Boundary: unitSquare, Tags: []string{"truck"}},
			{Name: "night", Kind: domain.ZoneSpeedLimit, Boundary: unitSquare, Tags: []string{"night"}},
			{Name: "broken", Kind: domain.ZoneDefault, Boundary: "LINESTRING(0 0, 1 1)"},
		}
	})
	dir := tags.StaticDirectory{
		Devices: map[string][]string{"dev-1": {"truck"}},
		Logins:  map[string][]string{"driver-n": {"night"}},
	}
	session := NewSession("dev-1", "driver-d", Deps{
		Settings:  func() *config.Settings { return s },
		Directory: dir,
		Commands:  newCommandRecorder(),
	})
	ctx := context.Background()

	names := func() []string {
		var out []string
		for _, z := range session.sc.Zones {
			out = append(out, z.Name)
		}
		return out
	}

	session.configure(ctx)
	assert.Equal(t, []string{"everyone", "trucks"}, names())

	session.sc.LoginID = "driver-n"
	session.configure(ctx)
	assert.Equal(t, []string{"everyone", "trucks", "night"}, names())
	assert.True(t, session.geo.Has("night"))
	assert.False(t, session.geo.Has("broken"))

	s.EnableGeofences = false
	session.configure(ctx)
	assert.Empty(t, names())
	assert.Equal(t, 0, session.geo.Len())
}

func TestSession_ArchivesAcceptedSamples(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.SaveGPS = true
		s.SaveEveryMins = 1
	})
	f := startSession(t, s, "", nil)

	f.submit(t, sample(5, 5, 1), sample(5, 5, 1))
	require.Eventually(t, func() bool { return f.positions.Count() == 2 }, waitFor, tick)
	assert.Len(t, f.events.OfKind(domain.EventPositionSample), 1, "second sample is inside the interval")

	f.clock.Advance(61 * time.Second)
	f.submit(t, sample(5, 5, 1))
	require.Eventually(t, func() bool { return f.positions.Count() == 3 }, waitFor, tick)
	assert.Len(t, f.events.OfKind(domain.EventPositionSample), 2)
}

func TestSession_StartRequestsGPS(t *testing.T) {
	f := startSession(t, config.DefaultSettings(), "", nil)

	select {
	case req := <-f.gps.requests:
		assert.Equal(t, 120*time.Second, req.Timeout)
		assert.Equal(t, 5.0, req.DistanceFilter)
	case <-time.After(waitFor):
		t.Fatal("no GPS request")
	}
}

func TestSession_EndStopsEverything(t *testing.T) {
	f := startSession(t, config.DefaultSettings(), "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.session.End(ctx))

	assert.Equal(t, 0, f.clock.Tickers())
	assert.Equal(t, uint64(2), f.generation(), "pending commands are invalidated")
	assert.False(t, f.session.Submit(sample(0, 0, 1)))
	assert.ErrorIs(t, f.session.Acknowledge(ctx), ErrSessionEnded)
	assert.NoError(t, f.session.End(ctx), "ending twice is harmless")
}

func TestSession_AcknowledgeResetsAlert(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.SpeedLimit = ptr(kmh(4))
		s.WarnUser = true
	})
	f := startSession(t, s, "", nil)

	f.submit(t, sample(5, 5, 10))
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.commands.OfKind(domain.CommandSetAlert)) == 1
	}, waitFor, tick)

	require.NoError(t, f.session.Acknowledge(context.Background()))
	f.submit(t, sample(5, 5, 1))
	f.clock.Advance(5 * time.Second)

	// Acknowledged alerts are not cleared again; a later excess raises a new one.
	f.submit(t, sample(5, 5, 10))
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.commands.OfKind(domain.CommandSetAlert)) == 2
	}, waitFor, tick)
	assert.Empty(t, f.commands.OfKind(domain.CommandClearAlert))
}

func TestSession_LoginChangeAppliesNewWindowPeriods(t *testing.T) {
	s := settingsWith(func(s *config.Settings) {
		s.SpeedLimit = ptr(kmh(4))
		s.OverspeedWindow = time.Minute
		s.ZoneWindow = 2 * time.Minute
		s.EnableGeofences = true
		s.Geofences = []domain.ZoneDefinition{{Name: "depot", Kind: domain.ZoneDefault, Boundary: unitSquare}}
	})
	f := startSession(t, s, "driver-a", nil)

	reloaded := *s
	reloaded.OverspeedWindow = 5 * time.Second
	reloaded.ZoneWindow = 10 * time.Second
	f.settings.Store(&reloaded)
	require.NoError(t, f.session.ChangeLogin(context.Background(), "driver-b"))
	assert.Equal(t, 2, f.clock.Tickers(), "replaced tickers are stopped")

	f.submit(t, sample(0.5, 0.5, 5))
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.events.OfKind(domain.EventSpeedExcess)) == 1
	}, waitFor, tick)

	f.submit(t, sample(0.5, 0.5, 1))
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.events.OfKind(domain.EventZoneEnter)) == 1
	}, waitFor, tick)
	assert.Equal(t, "driver-b", f.events.OfKind(domain.EventZoneEnter)[0].LoginID)
}
