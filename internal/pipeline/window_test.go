package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/geotrack/internal/domain"
)

func TestWindow_OverspeedSelectsFastest(t *testing.T) {
	w := NewWindow("overspeed", 5*time.Second, FastestSample)
	for _, speed := range []float64{1, 1, 1, 5, 1, 1} {
		w.Add(domain.PositionSample{Speed: speed})
	}

	p, ok := w.Flush()
	require.True(t, ok)
	assert.Equal(t, 5.0, p.Speed)

	_, ok = w.Flush()
	assert.False(t, ok, "buffer is cleared after flush")
}

func TestWindow_ZoneSelectsLatestCapture(t *testing.T) {
	w := NewWindow("zone", 30*time.Second, LatestSample)
	w.Add(domain.PositionSample{Latitude: 1, CapturedAt: epoch.Add(2 * time.Second)})
	w.Add(domain.PositionSample{Latitude: 2, CapturedAt: epoch.Add(5 * time.Second)})
	// Arrives last but was captured earlier.
	w.Add(domain.PositionSample{Latitude: 3, CapturedAt: epoch.Add(1 * time.Second)})

	p, ok := w.Flush()
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Latitude)
}

func TestWindow_TiesKeepEarliestArrival(t *testing.T) {
	fast := NewWindow("overspeed", time.Second, FastestSample)
	fast.Add(domain.PositionSample{Speed: 3, Latitude: 1})
	fast.Add(domain.PositionSample{Speed: 3, Latitude: 2})
	p, _ := fast.Flush()
	assert.Equal(t, 1.0, p.Latitude)

	latest := NewWindow("zone", time.Second, LatestSample)
	latest.Add(domain.PositionSample{CapturedAt: epoch, Latitude: 1})
	latest.Add(domain.PositionSample{CapturedAt: epoch, Latitude: 2})
	p, _ = latest.Flush()
	assert.Equal(t, 1.0, p.Latitude)
}

func TestWindow_EmptyEmitsNothing(t *testing.T) {
	w := NewWindow("zone", time.Second, LatestSample)
	_, ok := w.Flush()
	assert.False(t, ok)
	assert.Equal(t, 0, w.Len())
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow("zone", time.Second, LatestSample)
	w.Add(domain.PositionSample{})
	w.Add(domain.PositionSample{})
	assert.Equal(t, 2, w.Len())
	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, "zone", w.Name())
	assert.Equal(t, time.Second, w.Period())
}
