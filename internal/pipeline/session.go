package pipeline

import (
	"context"
	"errors"
	"time"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/geo"
	"fleet-monitor/geotrack/internal/metrics"
	"fleet-monitor/geotrack/internal/monitoring"
	"fleet-monitor/geotrack/internal/tags"
	"fleet-monitor/geotrack/internal/timeutil"
)

var ErrSessionEnded = errors.New("session ended")

// Deps are the collaborators a session runs against. Activity, Positions and GPS
// are optional.
type Deps struct {
	// Settings returns the current snapshot. It is read at session start and on
	// every login change.
	Settings func() *config.Settings

	Store     ContainmentStore
	Directory tags.Directory
	Activity  ActivitySource
	Events    EventSink
	Positions PositionSink
	Commands  CommandSink
	GPS       GPSRequester
	Clock     timeutil.Clock

	BufferSize int
}

type controlKind int

const (
	controlAck controlKind = iota
	controlLogin
	controlEnd
)

type control struct {
	kind    controlKind
	loginID string
	applied chan struct{}
}

// Session evaluates the position stream of one device. Every piece of mutable
// state is owned by the Run goroutine; the exported methods only send messages
// to it.
type Session struct {
	deps Deps

	sc       *SessionContext
	settings *config.Settings
	geo      *geo.Cache

	quality       QualityFilter
	plausibility  PlausibilityFilter
	overspeed     *Window
	zone          *Window
	overspeedTick timeutil.Ticker
	zoneTick      timeutil.Ticker
	tracker       *ZoneTracker
	evaluator     *OverspeedEvaluator

	samples chan domain.PositionSample
	control chan control
	done    chan struct{}
}

func NewSession(deviceID, loginID string, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.BufferSize <= 0 {
		deps.BufferSize = 1000
	}
	if deps.Settings == nil {
		defaults := config.DefaultSettings()
		deps.Settings = func() *config.Settings { return defaults }
	}

	cache := geo.NewCache()
	return &Session{
		deps:    deps,
		sc:      NewSessionContext(deviceID, loginID),
		geo:     cache,
		tracker: NewZoneTracker(cache, deps.Store, deps.Clock),
		samples: make(chan domain.PositionSample, deps.BufferSize),
		control: make(chan control, 8),
		done:    make(chan struct{}),
	}
}

func (s *Session) DeviceID() string { return s.sc.DeviceID }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Submit queues a sample without blocking. It reports false when the sample was
// dropped because the buffer is full or the session has ended.
func (s *Session) Submit(p domain.PositionSample) bool {
	metrics.SamplesReceived.Add(1)
	select {
	case <-s.done:
		metrics.SamplesDropped.Add(1)
		return false
	default:
	}
	select {
	case s.samples <- p:
		return true
	default:
		metrics.SamplesDropped.Add(1)
		return false
	}
}

// Acknowledge records that the user dismissed the overspeed alert. It returns
// once the session has applied it.
func (s *Session) Acknowledge(ctx context.Context) error {
	return s.send(ctx, controlAck, "")
}

// ChangeLogin switches the active login. Tags and zones are resolved again and
// commands still queued for the previous login are discarded.
func (s *Session) ChangeLogin(ctx context.Context, loginID string) error {
	return s.send(ctx, controlLogin, loginID)
}

// End stops the session and waits for Run to return. Ending an ended session
// is a no-op.
func (s *Session) End(ctx context.Context) error {
	err := s.send(ctx, controlEnd, "")
	if err != nil && !errors.Is(err, ErrSessionEnded) {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) send(ctx context.Context, kind controlKind, loginID string) error {
	select {
	case <-s.done:
		return ErrSessionEnded
	default:
	}

	c := control{kind: kind, loginID: loginID, applied: make(chan struct{})}
	select {
	case s.control <- c:
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.applied:
		return nil
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes samples, window ticks and control messages until End is called
// or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	metrics.ActiveSessions.Add(1)
	defer metrics.ActiveSessions.Add(-1)

	s.start(ctx)

	s.overspeedTick = s.deps.Clock.NewTicker(s.overspeed.Period())
	s.zoneTick = s.deps.Clock.NewTicker(s.zone.Period())
	defer func() {
		s.overspeedTick.Stop()
		s.zoneTick.Stop()
	}()

	for {
		select {
		case p := <-s.samples:
			s.handleSample(ctx, p)

		case <-s.overspeedTick.C():
			s.drain(ctx)
			s.flushOverspeed(ctx)

		case <-s.zoneTick.C():
			s.drain(ctx)
			s.flushZones(ctx)

		case c := <-s.control:
			switch c.kind {
			case controlAck:
				s.sc.AlertActive = false
			case controlLogin:
				s.changeLogin(ctx, c.loginID)
			case controlEnd:
				s.end()
				close(c.applied)
				return
			}
			close(c.applied)

		case <-ctx.Done():
			s.end()
			return
		}
	}
}

func (s *Session) start(ctx context.Context) {
	s.sc.Generation = s.deps.Commands.Advance(s.sc.DeviceID)
	s.configure(ctx)
	s.overspeed = NewWindow("overspeed", s.settings.OverspeedWindow, FastestSample)
	s.zone = NewWindow("zone", s.settings.ZoneWindow, LatestSample)

	if s.deps.GPS != nil {
		if err := s.deps.GPS.RequestGPS(ctx, s.sc.DeviceID, s.settings.GPS); err != nil {
			monitoring.Logf("GPS request for %s failed: %v", s.sc.DeviceID, err)
		}
	}
	monitoring.Logf("session started for %s (%d zones)", s.sc.DeviceID, len(s.sc.Zones))
}

// configure reads the settings snapshot, resolves tags and rebuilds the zone
// polygons that apply to the current device and login.
func (s *Session) configure(ctx context.Context) {
	s.settings = s.deps.Settings()

	set, err := tags.Resolve(ctx, s.deps.Directory, s.sc.DeviceID, s.sc.LoginID)
	if err != nil {
		monitoring.Logf("tag lookup failed, only untagged rules apply: %v", err)
		set = tags.NewSet()
	}
	s.sc.Tags = set

	s.geo.Clear()
	s.sc.Zones = s.sc.Zones[:0]
	for _, zone := range s.settings.Zones() {
		if !set.Allows(zone.Tags) {
			continue
		}
		if err := s.geo.Build(zone.Name, zone.Boundary); err != nil {
			metrics.ZoneBuildFailures.Add(1)
			continue
		}
		s.sc.Zones = append(s.sc.Zones, zone)
	}

	s.quality = QualityFilter{
		Enabled:     s.settings.EnableQualityFilter,
		MaxAccuracy: s.settings.AccuracyLimit(),
	}
	s.plausibility = PlausibilityFilter{Rules: s.settings.Impossible, Tags: set}
	s.evaluator = NewOverspeedEvaluator(s.settings, s.geo, s.deps.Activity, s.deps.Clock)
}

func (s *Session) changeLogin(ctx context.Context, loginID string) {
	if loginID == s.sc.LoginID {
		return
	}
	s.sc.LoginID = loginID
	s.sc.Generation = s.deps.Commands.Advance(s.sc.DeviceID)
	s.configure(ctx)
	s.retime()
	monitoring.Logf("login changed on %s, %d zones apply", s.sc.DeviceID, len(s.sc.Zones))
}

// retime applies window periods from the current settings snapshot. Buffered
// samples stay in their window; a changed period restarts its ticker.
func (s *Session) retime() {
	if s.overspeed.Period() != s.settings.OverspeedWindow {
		s.overspeed.SetPeriod(s.settings.OverspeedWindow)
		s.overspeedTick = s.restartTicker(s.overspeedTick, s.settings.OverspeedWindow)
	}
	if s.zone.Period() != s.settings.ZoneWindow {
		s.zone.SetPeriod(s.settings.ZoneWindow)
		s.zoneTick = s.restartTicker(s.zoneTick, s.settings.ZoneWindow)
	}
}

// restartTicker leaves a nil ticker alone; replayed sessions are ticked by hand.
func (s *Session) restartTicker(t timeutil.Ticker, d time.Duration) timeutil.Ticker {
	if t == nil {
		return nil
	}
	t.Stop()
	return s.deps.Clock.NewTicker(d)
}

func (s *Session) end() {
	s.overspeed.Reset()
	s.zone.Reset()
	s.sc.AlertActive = false
	s.deps.Commands.Advance(s.sc.DeviceID)
	monitoring.Logf("session ended for %s", s.sc.DeviceID)
}

// drain moves every queued sample into the windows so that a tick sees all
// samples submitted before it.
func (s *Session) drain(ctx context.Context) {
	for {
		select {
		case p := <-s.samples:
			s.handleSample(ctx, p)
		default:
			return
		}
	}
}

func (s *Session) handleSample(_ context.Context, p domain.PositionSample) {
	if reason, ok := s.quality.Check(p); !ok {
		metrics.QualityRejects.Add(1)
		monitoring.Logf("sample from %s rejected: %s", s.sc.DeviceID, reason)
		return
	}
	if reason, ok := s.plausibility.Check(p); !ok {
		metrics.ImplausibleRejects.Add(1)
		monitoring.Logf("sample from %s rejected: %s", s.sc.DeviceID, reason)
		return
	}

	s.archive(p)
	if s.deps.Positions != nil {
		s.deps.Positions.Position(s.sc.DeviceID, p)
	}

	s.overspeed.Add(p)
	s.zone.Add(p)
}

func (s *Session) archive(p domain.PositionSample) {
	if !s.settings.SaveGPS {
		return
	}
	now := s.deps.Clock.Now()
	if interval := s.settings.ArchiveInterval(); interval > 0 && !s.sc.LastArchived.IsZero() &&
		now.Sub(s.sc.LastArchived) < interval {
		return
	}
	s.sc.LastArchived = now
	s.deps.Events.Emit(domain.NewPositionSample(s.sc.Origin(now), p))
}

func (s *Session) flushOverspeed(ctx context.Context) {
	p, ok := s.overspeed.Flush()
	if !ok {
		return
	}
	metrics.OverspeedEmissions.Add(1)
	events, commands := s.evaluator.Evaluate(ctx, s.sc, p)
	s.publish(events, commands)
}

func (s *Session) flushZones(ctx context.Context) {
	p, ok := s.zone.Flush()
	if !ok {
		return
	}
	metrics.ZoneEmissions.Add(1)
	events, commands := s.tracker.Track(ctx, s.sc, p)
	s.publish(events, commands)
}

func (s *Session) publish(events []domain.Event, commands []domain.Command) {
	for _, ev := range events {
		s.deps.Events.Emit(ev)
	}
	for _, cmd := range commands {
		cmd.DeviceID = s.sc.DeviceID
		cmd.Generation = s.sc.Generation
		s.deps.Commands.Enqueue(cmd)
	}
}
