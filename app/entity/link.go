package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type LinkKind string

const (
	LinkKindDirect LinkKind = "direct"
	LinkKindEscrow LinkKind = "escrow"
	LinkKindSplit  LinkKind = "split"
)

func (k LinkKind) Valid() bool {
	switch k {
	case LinkKindDirect, LinkKindEscrow, LinkKindSplit:
		return true
	default:
		return false
	}
}

type LinkStatus string

const (
	LinkStatusCreated          LinkStatus = "created"
	LinkStatusAwaitingDeposit  LinkStatus = "awaiting_deposit"
	LinkStatusProcessing       LinkStatus = "processing"
	LinkStatusDepositReceived  LinkStatus = "deposit_received"
	LinkStatusConditionPending LinkStatus = "condition_pending"
	LinkStatusConditionMet     LinkStatus = "condition_met"
	LinkStatusReleasing        LinkStatus = "releasing"
	LinkStatusCompleted        LinkStatus = "completed"
	LinkStatusFailed           LinkStatus = "failed"
	LinkStatusRefunded         LinkStatus = "refunded"
)

// Rank orders statuses along the lifecycle. All terminal statuses share the
// highest rank so that no transition ever leaves one.
func (s LinkStatus) Rank() int {
	switch s {
	case LinkStatusCreated:
		return 0
	case LinkStatusAwaitingDeposit:
		return 1
	case LinkStatusProcessing:
		return 2
	case LinkStatusDepositReceived:
		return 3
	case LinkStatusConditionPending:
		return 4
	case LinkStatusConditionMet:
		return 5
	case LinkStatusReleasing:
		return 6
	case LinkStatusCompleted, LinkStatusFailed, LinkStatusRefunded:
		return 7
	default:
		return -1
	}
}

func (s LinkStatus) Terminal() bool {
	return s == LinkStatusCompleted || s == LinkStatusFailed || s == LinkStatusRefunded
}

func (s LinkStatus) Valid() bool {
	return s.Rank() >= 0
}

type BlockingReason string

const (
	BlockingNone             BlockingReason = ""
	BlockingAwaitingDeposit  BlockingReason = "awaiting_deposit"
	BlockingConditionNotMet  BlockingReason = "condition_not_met"
	BlockingTransferFailed   BlockingReason = "transfer_failed"
	BlockingManualReview     BlockingReason = "manual_review"
	BlockingAwaitingSettling BlockingReason = "awaiting_settle_amount"
)

const (
	ConditionTypeDelivery = "delivery"
	ConditionTypeManual   = "manual"
	ConditionTypeTime     = "time"
)

type EscrowCondition struct {
	Type           string     `json:"type"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	ReleaseDate    *time.Time `json:"release_date,omitempty"`
	Description    string     `json:"description,omitempty"`
}

type SplitRecipient struct {
	Address    string          `json:"address"`
	Percentage decimal.Decimal `json:"percentage"`
	Label      string          `json:"label,omitempty"`
}

type PaymentLink struct {
	ID string

	Kind  LinkKind
	Owner string
	Title *string

	SettleAddress  string
	CustodyAddress string
	RefundAddress  *string
	NotifyEmail    *string

	DepositCoin    string
	DepositNetwork string
	ExpectedAmount decimal.NullDecimal

	OrderRef       string
	DepositAddress string
	DepositMin     decimal.NullDecimal
	DepositMax     decimal.NullDecimal

	Status LinkStatus

	ReceivedAmount decimal.NullDecimal
	SettledAmount  decimal.NullDecimal

	EscrowCondition *EscrowCondition
	SplitTable      []SplitRecipient

	ConditionApprovedAt *time.Time
	ConditionApprovedBy *string
	ConditionMetAt      *time.Time

	BlockingReason BlockingReason
	BlockingDetail *string

	ReleaseClaimToken     *string
	ReleaseClaimExpiresAt *time.Time
	ReleaseAttempts       int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LinkUpdate carries the fields written together with a conditional status
// change. Nil pointers leave the column untouched.
type LinkUpdate struct {
	Status LinkStatus

	BlockingReason *BlockingReason
	BlockingDetail *string

	ConditionMetAt *time.Time

	ClearReleaseClaim bool

	UpdatedAt time.Time
}
