package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventZoneEnter      EventKind = "zone-enter"
	EventZoneExit       EventKind = "zone-exit"
	EventSpeedExcess    EventKind = "speed-excess"
	EventSpeedPreExcess EventKind = "speed-pre-excess"
	EventPositionSample EventKind = "position-sample"
)

// Origin identifies who raised an event and when.
type Origin struct {
	DeviceID string
	LoginID  string
	At       time.Time
}

// Event is an immutable domain event. Exactly one of Zone or Speed is set for the
// zone and speed kinds; position samples carry neither.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Kind     EventKind      `json:"kind"`
	DeviceID string         `json:"device_id"`
	LoginID  string         `json:"login_id,omitempty"`
	At       time.Time      `json:"at"`
	Position PositionSample `json:"position"`

	Zone  *ZoneTransition `json:"zone,omitempty"`
	Speed *SpeedBreach    `json:"speed,omitempty"`
}

type ZoneTransition struct {
	Name               string     `json:"name"`
	Entering           bool       `json:"entering"`
	Since              *time.Time `json:"since"`
	TotalSecondsInside *int64     `json:"total_seconds_inside"`
}

type SpeedBreach struct {
	Zone     string  `json:"zone"`
	Limit    float64 `json:"limit"`
	SpeedKmh float64 `json:"speed_kmh"`
}

func newEvent(kind EventKind, o Origin, pos PositionSample) Event {
	return Event{
		ID:       uuid.New(),
		Kind:     kind,
		DeviceID: o.DeviceID,
		LoginID:  o.LoginID,
		At:       o.At,
		Position: pos,
	}
}

func NewZoneEnter(o Origin, zone string, pos PositionSample) Event {
	ev := newEvent(EventZoneEnter, o, pos)
	ev.Zone = &ZoneTransition{Name: zone, Entering: true}
	return ev
}

// NewZoneExit builds the exit event for a stay that started at since.
// TotalSecondsInside is truncated to whole seconds.
func NewZoneExit(o Origin, zone string, since time.Time, pos PositionSample) Event {
	ev := newEvent(EventZoneExit, o, pos)
	total := int64(o.At.Sub(since) / time.Second)
	ev.Zone = &ZoneTransition{
		Name:               zone,
		Since:              &since,
		TotalSecondsInside: &total,
	}
	return ev
}

func NewSpeedExcess(o Origin, zone string, limit float64, pos PositionSample) Event {
	ev := newEvent(EventSpeedExcess, o, pos)
	ev.Speed = &SpeedBreach{Zone: zone, Limit: limit, SpeedKmh: pos.SpeedKmh()}
	return ev
}

func NewSpeedPreExcess(o Origin, zone string, limit float64, pos PositionSample) Event {
	ev := newEvent(EventSpeedPreExcess, o, pos)
	ev.Speed = &SpeedBreach{Zone: zone, Limit: limit, SpeedKmh: pos.SpeedKmh()}
	return ev
}

func NewPositionSample(o Origin, pos PositionSample) Event {
	return newEvent(EventPositionSample, o, pos)
}

// GlobalZone is the zone name used for breaches of the device-wide speed limit.
const GlobalZone = "default"
