package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/metrics"
	"fleet-monitor/geotrack/internal/monitoring"
)

// ErrStaleCommand is returned by Apply for commands issued under a generation
// that has since been superseded.
var ErrStaleCommand = errors.New("stale command")

// Collaborators are the optional device-side capabilities. Any of them may be
// nil; the corresponding commands are then dropped.
type Collaborators struct {
	Notifier  Notifier
	Navigator Navigator
	Forms     FormController
}

// Effects applies side-effect commands on its own goroutine so that slow
// collaborators never hold up sample processing.
type Effects struct {
	ch     chan domain.Command
	collab Collaborators

	mu          sync.Mutex
	generations map[string]uint64

	noNotifier  *monitoring.Once
	noNavigator *monitoring.Once
	noForms     *monitoring.Once
}

func NewEffects(size int, collab Collaborators) *Effects {
	return &Effects{
		ch:          make(chan domain.Command, size),
		collab:      collab,
		generations: make(map[string]uint64),
		noNotifier:  monitoring.NewOnce(),
		noNavigator: monitoring.NewOnce(),
		noForms:     monitoring.NewOnce(),
	}
}

// Advance starts a new generation for deviceID and returns it. Commands queued
// under earlier generations will not be applied.
func (e *Effects) Advance(deviceID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generations[deviceID]++
	return e.generations[deviceID]
}

func (e *Effects) Generation(deviceID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generations[deviceID]
}

// Enqueue queues cmd without blocking. It reports false when the queue is full.
func (e *Effects) Enqueue(cmd domain.Command) bool {
	select {
	case e.ch <- cmd:
		return true
	default:
		metrics.CommandChannelDrops.Add(1)
		return false
	}
}

func (e *Effects) Run(ctx context.Context) {
	for {
		select {
		case cmd := <-e.ch:
			err := e.Apply(ctx, cmd)
			switch {
			case err == nil:
				metrics.CommandsApplied.Add(1)
			case errors.Is(err, ErrStaleCommand):
				metrics.CommandsStale.Add(1)
			default:
				metrics.CommandsFailed.Add(1)
				monitoring.Logf("command %s for %s failed: %v", cmd.Kind, cmd.DeviceID, err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Apply executes one command synchronously.
func (e *Effects) Apply(ctx context.Context, cmd domain.Command) error {
	if cmd.Generation != e.Generation(cmd.DeviceID) {
		return ErrStaleCommand
	}

	switch cmd.Kind {
	case domain.CommandSetAlert:
		return e.setAlert(ctx, cmd)
	case domain.CommandClearAlert:
		return e.clearAlert(ctx, cmd)
	case domain.CommandNavigate:
		return e.navigate(ctx, cmd)
	case domain.CommandFormVisibility:
		return e.formVisibility(ctx, cmd)
	}
	return fmt.Errorf("unknown command kind %q", cmd.Kind)
}

func (e *Effects) setAlert(ctx context.Context, cmd domain.Command) error {
	n := e.collab.Notifier
	if n == nil {
		e.noNotifier.Logf("no notifier available, alert commands are ignored")
		return nil
	}
	if w, ok := n.(Waker); ok {
		if err := w.Wake(ctx, cmd.DeviceID); err != nil {
			monitoring.Logf("wake %s failed: %v", cmd.DeviceID, err)
		}
	}
	return n.SetUrgent(ctx, cmd.DeviceID, cmd.Alert)
}

// clearAlert removes the urgent notification only if it is an overspeed alert;
// anything else in the slot was put there for another reason.
func (e *Effects) clearAlert(ctx context.Context, cmd domain.Command) error {
	n := e.collab.Notifier
	if n == nil {
		e.noNotifier.Logf("no notifier available, alert commands are ignored")
		return nil
	}
	cur, err := n.Urgent(ctx, cmd.DeviceID)
	if err != nil {
		return fmt.Errorf("read urgent notification: %w", err)
	}
	if !cur.HasAction(domain.ActionAckOverspeed) {
		return nil
	}
	return n.SetUrgent(ctx, cmd.DeviceID, nil)
}

func (e *Effects) navigate(ctx context.Context, cmd domain.Command) error {
	nav := e.collab.Navigator
	if nav == nil {
		e.noNavigator.Logf("no navigator available, form and task navigation is ignored")
		return nil
	}
	page, err := nav.CurrentPage(ctx, cmd.DeviceID)
	if err != nil {
		return fmt.Errorf("read current page: %w", err)
	}
	if page == SubmitPage {
		return nil
	}
	if cmd.FormID != "" {
		monitoring.Logf("showing form %s on %s", cmd.FormID, cmd.DeviceID)
	} else {
		monitoring.Logf("showing task %s on %s", cmd.TaskID, cmd.DeviceID)
	}
	return nav.OpenSubmit(ctx, cmd.DeviceID, cmd.FormID, cmd.TaskID)
}

func (e *Effects) formVisibility(ctx context.Context, cmd domain.Command) error {
	forms := e.collab.Forms
	if forms == nil {
		e.noForms.Logf("no form controller available, form visibility is ignored")
		return nil
	}
	visible, err := forms.FormVisible(ctx, cmd.DeviceID, cmd.FormID)
	if err != nil {
		return fmt.Errorf("read form visibility: %w", err)
	}
	if visible == cmd.Visible {
		return nil
	}
	return forms.SetFormVisible(ctx, cmd.DeviceID, cmd.FormID, cmd.Visible)
}
