package domain

import "fmt"

type ZoneKind string

const (
	ZoneDefault    ZoneKind = "default"
	ZoneSpeedLimit ZoneKind = "speedLimit"
	ZoneOpenForm   ZoneKind = "openForm"
	ZoneOpenTask   ZoneKind = "openTask"
	ZoneShowForm   ZoneKind = "showForm"
)

func (k ZoneKind) Valid() bool {
	switch k {
	case ZoneDefault, ZoneSpeedLimit, ZoneOpenForm, ZoneOpenTask, ZoneShowForm:
		return true
	}
	return false
}

// TracksContainment reports whether zones of this kind go through the enter/exit
// state machine. Speed limit zones are only checked by the overspeed evaluator.
func (k ZoneKind) TracksContainment() bool {
	return k.Valid() && k != ZoneSpeedLimit
}

type TriggerDirection struct {
	OnEnter bool `yaml:"on_enter" json:"on_enter"`
	OnExit  bool `yaml:"on_exit" json:"on_exit"`
}

type ZoneDefinition struct {
	Name       string           `yaml:"name" json:"name"`
	Kind       ZoneKind         `yaml:"kind" json:"kind"`
	Boundary   string           `yaml:"wkt" json:"wkt"`
	SpeedLimit *float64         `yaml:"speed_limit,omitempty" json:"speed_limit,omitempty"`
	PreLimit   *float64         `yaml:"pre_limit,omitempty" json:"pre_limit,omitempty"`
	Tags       []string         `yaml:"tags,omitempty" json:"tags,omitempty"`
	TargetID   string           `yaml:"id,omitempty" json:"id,omitempty"`
	Trigger    TriggerDirection `yaml:"when,omitempty" json:"when,omitempty"`
}

func (z ZoneDefinition) String() string {
	return fmt.Sprintf("%s(%s)", z.Name, z.Kind)
}

// ImpossibleSpeedRule drops samples whose speed exceeds MaxSpeed (km/h). A rule
// with MaxSpeed 0 is inert.
type ImpossibleSpeedRule struct {
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	MaxSpeed float64  `yaml:"max_speed" json:"max_speed"`
}

// ActivityStill is the activity label that suppresses overspeed evaluation.
const ActivityStill = "STILL"
