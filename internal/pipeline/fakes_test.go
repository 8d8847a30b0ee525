package pipeline

import (
	"context"
	"sync"
	"time"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const unitSquare = "POLYGON((0 0, 0 1, 1 1, 1 0, 0 0))"

// kmh converts the same way PositionSample.SpeedKmh does, so limits built from
// it compare exactly.
func kmh(mps float64) float64 { return mps * domain.MpsToKmh }

func ptr[T any](v T) *T { return &v }

// sample returns a clean sample at (lat, lng) moving at mps metres per second.
func sample(lat, lng, mps float64) domain.PositionSample {
	return domain.PositionSample{
		Latitude:   lat,
		Longitude:  lng,
		Altitude:   100,
		Accuracy:   5,
		Heading:    90,
		Speed:      mps,
		CapturedAt: epoch,
	}
}

type memContainment struct {
	mu     sync.Mutex
	since  map[string]time.Time
	getErr error
	setErr error
	sets   int
}

func newMemContainment() *memContainment {
	return &memContainment{since: make(map[string]time.Time)}
}

func (m *memContainment) Get(_ context.Context, deviceID, zone string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	t, ok := m.since[deviceID+"/"+zone]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memContainment) Set(_ context.Context, deviceID, zone string, since *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	if since == nil {
		delete(m.since, deviceID+"/"+zone)
		return nil
	}
	m.since[deviceID+"/"+zone] = *since
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *eventRecorder) OfKind(kind domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type positionRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *positionRecorder) Position(string, domain.PositionSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *positionRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type commandRecorder struct {
	mu          sync.Mutex
	commands    []domain.Command
	generations map[string]uint64
}

func newCommandRecorder() *commandRecorder {
	return &commandRecorder{generations: make(map[string]uint64)}
}

func (r *commandRecorder) Enqueue(cmd domain.Command) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return true
}

func (r *commandRecorder) Advance(deviceID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[deviceID]++
	return r.generations[deviceID]
}

func (r *commandRecorder) OfKind(kind domain.CommandKind) []domain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Command
	for _, c := range r.commands {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type staticActivity struct {
	raw any
	err error
}

func (a staticActivity) CurrentActivity(context.Context, string) (any, error) {
	return a.raw, a.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	urgent *domain.Notification
	sets   int
	wakes  int
}

func (n *fakeNotifier) SetUrgent(_ context.Context, _ string, v *domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sets++
	n.urgent = v
	return nil
}

func (n *fakeNotifier) Urgent(context.Context, string) (*domain.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.urgent, nil
}

func (n *fakeNotifier) Wake(context.Context, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.wakes++
	return nil
}

type fakeNavigator struct {
	page   string
	opened []string
}

func (n *fakeNavigator) CurrentPage(context.Context, string) (string, error) {
	return n.page, nil
}

func (n *fakeNavigator) OpenSubmit(_ context.Context, _ string, formID, taskID string) error {
	n.opened = append(n.opened, formID+taskID)
	n.page = SubmitPage
	return nil
}

type fakeForms struct {
	visible map[string]bool
	calls   int
}

func (f *fakeForms) FormVisible(_ context.Context, _ string, formID string) (bool, error) {
	return f.visible[formID], nil
}

func (f *fakeForms) SetFormVisible(_ context.Context, _ string, formID string, visible bool) error {
	f.calls++
	f.visible[formID] = visible
	return nil
}

func settingsWith(mutate func(s *config.Settings)) *config.Settings {
	s := config.DefaultSettings()
	if mutate != nil {
		mutate(s)
	}
	return s
}
