package pipeline

import (
	"context"
	"time"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
)

// ContainmentStore persists when a device entered each zone. A nil time means
// the device is outside.
type ContainmentStore interface {
	Get(ctx context.Context, deviceID, zone string) (*time.Time, error)
	Set(ctx context.Context, deviceID, zone string, insideSince *time.Time) error
}

// ActivitySource returns the device's last reported activity in whatever form
// the device stored it. See ParseActivity.
type ActivitySource interface {
	CurrentActivity(ctx context.Context, deviceID string) (any, error)
}

type EventSink interface {
	Emit(ev domain.Event)
}

type PositionSink interface {
	Position(deviceID string, p domain.PositionSample)
}

// CommandSink queues side effects and owns the per-device generation token.
type CommandSink interface {
	Enqueue(cmd domain.Command) bool
	Advance(deviceID string) uint64
}

// GPSRequester asks the device to start delivering positions.
type GPSRequester interface {
	RequestGPS(ctx context.Context, deviceID string, req config.GPSRequest) error
}

// Notifier shows and clears the device's single urgent notification slot.
// SetUrgent with nil clears it.
type Notifier interface {
	SetUrgent(ctx context.Context, deviceID string, n *domain.Notification) error
	Urgent(ctx context.Context, deviceID string) (*domain.Notification, error)
}

// Waker is implemented by notifiers that can wake a sleeping device.
type Waker interface {
	Wake(ctx context.Context, deviceID string) error
}

// SubmitPage is the page a device shows while a form or task is being filled.
const SubmitPage = "Submit"

type Navigator interface {
	CurrentPage(ctx context.Context, deviceID string) (string, error)
	OpenSubmit(ctx context.Context, deviceID, formID, taskID string) error
}

type FormController interface {
	FormVisible(ctx context.Context, deviceID, formID string) (bool, error)
	SetFormVisible(ctx context.Context, deviceID, formID string, visible bool) error
}
