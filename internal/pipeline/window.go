package pipeline

import (
	"time"

	"fleet-monitor/geotrack/internal/domain"
)

// Reducer picks the representative sample of a non-empty window.
type Reducer func(buf []domain.PositionSample) domain.PositionSample

// FastestSample keeps the highest speed; a burst must not be hidden by the
// slower samples around it. Ties keep the earliest arrival.
func FastestSample(buf []domain.PositionSample) domain.PositionSample {
	best := buf[0]
	for _, p := range buf[1:] {
		if p.Speed > best.Speed {
			best = p
		}
	}
	return best
}

// LatestSample keeps the most recently captured sample. Ties keep the earliest
// arrival.
func LatestSample(buf []domain.PositionSample) domain.PositionSample {
	best := buf[0]
	for _, p := range buf[1:] {
		if p.CapturedAt.After(best.CapturedAt) {
			best = p
		}
	}
	return best
}

// Window buffers samples between two ticks of its period. It is driven from the
// session goroutine only.
type Window struct {
	name   string
	period time.Duration
	pick   Reducer
	buf    []domain.PositionSample
}

func NewWindow(name string, period time.Duration, pick Reducer) *Window {
	return &Window{name: name, period: period, pick: pick}
}

func (w *Window) Name() string                { return w.name }
func (w *Window) Period() time.Duration       { return w.period }
func (w *Window) Len() int                    { return len(w.buf) }
func (w *Window) Add(p domain.PositionSample) { w.buf = append(w.buf, p) }

// Flush reduces the buffered samples to one and empties the buffer. ok is false
// when nothing arrived during the period.
func (w *Window) Flush() (domain.PositionSample, bool) {
	if len(w.buf) == 0 {
		return domain.PositionSample{}, false
	}
	p := w.pick(w.buf)
	w.Reset()
	return p, true
}

// SetPeriod changes the period for the ticks that follow. Buffered samples are
// kept.
func (w *Window) SetPeriod(d time.Duration) { w.period = d }

func (w *Window) Reset() {
	w.buf = w.buf[:0]
}
