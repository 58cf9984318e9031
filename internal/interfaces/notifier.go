package interfaces

import "context"

// Notification event types fired by the live runner.
const (
	EventOrderFilled       = "ORDER_FILLED"
	EventOrderRejected     = "ORDER_REJECTED"
	EventPositionOpened    = "POSITION_OPENED"
	EventPositionClosed    = "POSITION_CLOSED"
	EventStopLossTriggered = "STOP_LOSS_TRIGGERED"
	EventSessionCrashed    = "SESSION_CRASHED"
)

// Notifier delivers trading events to an external channel. Delivery is
// best effort; the engine never blocks on it.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any)
}
