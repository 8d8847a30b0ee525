package pipeline

import (
	"context"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/monitoring"
)

// EventPublisher delivers an event to live subscribers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.Event) error
}

// Publisher forwards every emitted event to each target in order. A failing
// target does not stop delivery to the others.
type Publisher struct {
	ch      <-chan domain.Event
	targets []EventPublisher
}

func NewPublisher(ch <-chan domain.Event, targets ...EventPublisher) *Publisher {
	return &Publisher{ch: ch, targets: targets}
}

func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-p.ch:
			if !ok {
				return
			}
			p.publish(ctx, ev)
		case <-ctx.Done():
			p.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

// drain delivers the events still buffered in the channel.
func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case ev, ok := <-p.ch:
			if !ok {
				return
			}
			p.publish(ctx, ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev domain.Event) {
	for _, t := range p.targets {
		if err := t.PublishEvent(ctx, ev); err != nil {
			monitoring.Logf("publish %s for %s failed: %v", ev.Kind, ev.DeviceID, err)
		}
	}
}
