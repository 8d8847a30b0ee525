package pipeline

import (
	"context"
	"time"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/timeutil"
)

// Replayer runs a recorded track through a session on the caller's goroutine.
// Time is taken from the samples: window boundaries fall every period after the
// start time, and each one is flushed before the first sample captured at or
// after it.
type Replayer struct {
	s     *Session
	clock *timeutil.MockClock

	nextOverspeed time.Time
	nextZone      time.Time
}

// NewReplayer starts a session at start. deps.Clock is replaced.
func NewReplayer(ctx context.Context, deviceID, loginID string, start time.Time, deps Deps) *Replayer {
	clock := timeutil.NewMockClock(start)
	deps.Clock = clock
	s := NewSession(deviceID, loginID, deps)
	s.start(ctx)

	return &Replayer{
		s:             s,
		clock:         clock,
		nextOverspeed: start.Add(s.overspeed.Period()),
		nextZone:      start.Add(s.zone.Period()),
	}
}

func (r *Replayer) Now() time.Time { return r.clock.Now() }

// Feed advances to p.CapturedAt and processes p. Samples without a capture time,
// or captured before the current time, are processed at the current time.
func (r *Replayer) Feed(ctx context.Context, p domain.PositionSample) {
	if p.CapturedAt.After(r.clock.Now()) {
		r.AdvanceTo(ctx, p.CapturedAt)
	}
	r.s.handleSample(ctx, p)
}

// AdvanceTo moves the clock to t, flushing every window boundary up to and
// including t in order.
func (r *Replayer) AdvanceTo(ctx context.Context, t time.Time) {
	for {
		next := r.nextOverspeed
		if r.nextZone.Before(next) {
			next = r.nextZone
		}
		if next.After(t) {
			break
		}
		r.clock.Set(next)
		if !r.nextOverspeed.After(next) {
			r.s.flushOverspeed(ctx)
			r.nextOverspeed = r.nextOverspeed.Add(r.s.overspeed.Period())
		}
		if !r.nextZone.After(next) {
			r.s.flushZones(ctx)
			r.nextZone = r.nextZone.Add(r.s.zone.Period())
		}
	}
	if t.After(r.clock.Now()) {
		r.clock.Set(t)
	}
}

// Acknowledge dismisses the overspeed alert as the user would.
func (r *Replayer) Acknowledge() {
	r.s.sc.AlertActive = false
}

// Finish flushes whatever the windows still hold and ends the session.
func (r *Replayer) Finish(ctx context.Context) {
	last := r.nextOverspeed
	if r.nextZone.After(last) {
		last = r.nextZone
	}
	r.AdvanceTo(ctx, last)
	r.s.end()
}
