package alert

import (
	"context"

	"safechain/internal/models"
	"safechain/pkg/sse"
)

// EventSink receives alert transitions for live streaming to watchers.
type EventSink interface {
	Publish(ev sse.Event)
}

// Notifier announces terminal outcomes out-of-band (SMS, push). Called on
// the detached pipeline context; implementations must not block on it for
// long.
type Notifier interface {
	AlertTerminal(ctx context.Context, alertID, state, reason string) error
}

func (m *Machine) publish(alertID string, state models.AlertState, reason models.FailReason, txRef string) {
	if m.events == nil {
		return
	}
	m.events.Publish(sse.Event{
		AlertID: alertID,
		State:   string(state),
		Reason:  string(reason),
		TxRef:   txRef,
	})
}
