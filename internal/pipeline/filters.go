package pipeline

import (
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/tags"
)

type RejectReason string

const (
	RejectUnknownField    RejectReason = "unknown-field"
	RejectAccuracy        RejectReason = "accuracy"
	RejectImpossibleSpeed RejectReason = "impossible-speed"
)

// QualityFilter drops samples with unmeasured fields or poor accuracy. A
// disabled filter accepts everything.
type QualityFilter struct {
	Enabled     bool
	MaxAccuracy float64 // domain.NoLimit when unset
}

func (f QualityFilter) Check(p domain.PositionSample) (RejectReason, bool) {
	if !f.Enabled {
		return "", true
	}
	if p.HasUnknownField() {
		return RejectUnknownField, false
	}
	if p.Accuracy > f.MaxAccuracy {
		return RejectAccuracy, false
	}
	return "", true
}

// PlausibilityFilter drops samples faster than any applicable impossible-speed
// rule. Tags is the session's resolved device and login tag set.
type PlausibilityFilter struct {
	Rules []domain.ImpossibleSpeedRule
	Tags  tags.Set
}

func (f PlausibilityFilter) Check(p domain.PositionSample) (RejectReason, bool) {
	speed := p.SpeedKmh()
	for _, rule := range f.Rules {
		if rule.MaxSpeed == 0 {
			continue
		}
		if speed > rule.MaxSpeed && f.Tags.Allows(rule.Tags) {
			return RejectImpossibleSpeed, false
		}
	}
	return "", true
}
