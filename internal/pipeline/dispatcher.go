package pipeline

import (
	"time"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/metrics"
)

// PositionUpdate is the live position of a device, written to the state store
// for every accepted sample.
type PositionUpdate struct {
	DeviceID   string
	Sample     domain.PositionSample
	ReceivedAt time.Time
}

// Dispatcher fans events and positions out to the writers without ever
// blocking the session that produced them.
type Dispatcher struct {
	DBChan      chan domain.Event
	PublishChan chan domain.Event
	StateChan   chan PositionUpdate

	now func() time.Time
}

func NewDispatcher(dbSize, publishSize, stateSize int) *Dispatcher {
	return &Dispatcher{
		DBChan:      make(chan domain.Event, dbSize),
		PublishChan: make(chan domain.Event, publishSize),
		StateChan:   make(chan PositionUpdate, stateSize),
		now:         time.Now,
	}
}

func (d *Dispatcher) Emit(ev domain.Event) {
	metrics.EventsEmitted.Add(1)

	select {
	case d.DBChan <- ev:
	default:
		metrics.DBChannelDrops.Add(1)
	}

	select {
	case d.PublishChan <- ev:
	default:
		metrics.PublishChannelDrops.Add(1)
	}
}

func (d *Dispatcher) Position(deviceID string, p domain.PositionSample) {
	select {
	case d.StateChan <- PositionUpdate{DeviceID: deviceID, Sample: p, ReceivedAt: d.now()}:
	default:
		metrics.StateChannelDrops.Add(1)
	}
}
