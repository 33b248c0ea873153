package order

import "github.com/tiktel/ttelgo/app/models"

// Event drives the order state machine. Every valid (state, event) pair is
// enumerated in the transition table below; anything else is rejected with
// ErrInvalidTransition and leaves the order untouched.
type Event string

const (
	EventPaymentInitiated      Event = "payment.initiated"
	EventPaymentProcessing     Event = "payment.processing"
	EventPaymentSucceeded      Event = "payment.succeeded"
	EventPaymentFailed         Event = "payment.failed"
	EventProvisioningStarted   Event = "provisioning.started"
	EventProvisioningSucceeded Event = "provisioning.succeeded"
	EventProvisioningFailed    Event = "provisioning.failed"
	EventProvisioningDeferred  Event = "provisioning.deferred"
	EventSyncFailed            Event = "sync.failed"
	EventSyncRetry             Event = "sync.retry"
	EventCancel                Event = "cancel"
	EventRefund                Event = "refund"
)

// transitions is the closed table of valid moves. EventProvisioningFailed is
// absent on purpose: its target depends on the retry counter and is resolved
// in Transition, not here.
var transitions = map[models.OrderStatus]map[Event]models.OrderStatus{
	models.OrderStatusCreated: {
		EventPaymentInitiated: models.OrderStatusPaymentPending,
		EventCancel:           models.OrderStatusCanceled,
	},
	models.OrderStatusPaymentPending: {
		EventPaymentProcessing: models.OrderStatusPaymentProcessing,
		EventPaymentSucceeded:  models.OrderStatusPaid,
		EventPaymentFailed:     models.OrderStatusFailed,
		EventCancel:            models.OrderStatusCanceled,
	},
	models.OrderStatusPaymentProcessing: {
		EventPaymentSucceeded: models.OrderStatusPaid,
		EventPaymentFailed:    models.OrderStatusFailed,
	},
	models.OrderStatusPaid: {
		EventProvisioningStarted: models.OrderStatusProvisioning,
		EventRefund:              models.OrderStatusRefunded,
	},
	models.OrderStatusProvisioning: {
		EventProvisioningSucceeded: models.OrderStatusCompleted,
		EventProvisioningDeferred:  models.OrderStatusPendingSync,
		EventRefund:                models.OrderStatusRefunded,
	},
	models.OrderStatusPendingSync: {
		EventProvisioningSucceeded: models.OrderStatusCompleted,
		EventSyncFailed:            models.OrderStatusSyncFailed,
		EventCancel:                models.OrderStatusCanceled,
		EventRefund:                models.OrderStatusRefunded,
	},
	models.OrderStatusSyncFailed: {
		EventSyncRetry: models.OrderStatusPendingSync,
		EventRefund:    models.OrderStatusRefunded,
	},
	models.OrderStatusCompleted: {
		EventRefund: models.OrderStatusRefunded,
	},
}

// noopStates lists, per event, the states in which the event's effect is
// already reflected. Redelivery then succeeds without touching the order,
// so out-of-order webhook replays stay harmless even after the event-level
// dedup window.
var noopStates = map[Event][]models.OrderStatus{
	EventPaymentSucceeded: {
		models.OrderStatusPaid,
		models.OrderStatusProvisioning,
		models.OrderStatusPendingSync,
		models.OrderStatusCompleted,
		// The money already went back; a late settlement event must not
		// resurrect the order or burn retry attempts.
		models.OrderStatusRefunded,
	},
	EventPaymentFailed:         {models.OrderStatusFailed},
	EventProvisioningSucceeded: {models.OrderStatusCompleted},
	EventProvisioningFailed:    {models.OrderStatusFailed},
	EventCancel:                {models.OrderStatusCanceled},
	EventRefund:                {models.OrderStatusRefunded},
}

// nextStatus resolves the transition table. ok=false means the pair is not a
// valid move.
func nextStatus(current models.OrderStatus, event Event) (models.OrderStatus, bool) {
	row, ok := transitions[current]
	if !ok {
		return "", false
	}
	next, ok := row[event]
	return next, ok
}

// isNoop reports whether the event's effect is already present in current.
func isNoop(current models.OrderStatus, event Event) bool {
	for _, s := range noopStates[event] {
		if s == current {
			return true
		}
	}
	return false
}
