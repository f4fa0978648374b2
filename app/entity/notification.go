package entity

import "time"

const (
	NotificationPending int32 = 1
	NotificationSent    int32 = 10
	NotificationFailed  int32 = 20
)

const (
	EventLinkCreated       = "link.created"
	EventPaymentReceived   = "payment.received"
	EventPaymentProcessing = "payment.processing"
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRefunded   = "payment.refunded"
	EventEscrowReleased    = "escrow.released"
	EventSplitDistributed  = "split.distributed"
	EventSettlementAlert   = "settlement.alert"
)

var WebhookEvents = []string{
	EventLinkCreated,
	EventPaymentReceived,
	EventPaymentProcessing,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventEscrowReleased,
	EventSplitDistributed,
	EventSettlementAlert,
}

// Notification is an outbox row: one settlement event waiting to be fanned
// out to the owner's webhook subscriptions and e-mail.
type Notification struct {
	ID uint64

	LinkID string
	Owner  string
	Event  string

	PayloadJSON string

	Status        int32
	Attempts      int32
	NextAttemptAt *time.Time
	LastError     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type WebhookDelivery struct {
	ID uint64

	SubscriptionID string
	NotificationID uint64
	Event          string

	StatusCode *int32
	Success    bool
	Error      *string
	DurationMs int64

	CreatedAt time.Time
}
