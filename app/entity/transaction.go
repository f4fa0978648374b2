package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TransactionKindDeposit           TransactionKind = "deposit"
	TransactionKindAutoRelease       TransactionKind = "auto_release"
	TransactionKindEscrowRelease     TransactionKind = "escrow_release"
	TransactionKindSplitDistribution TransactionKind = "split_distribution"
	TransactionKindRefund            TransactionKind = "refund"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

type Transaction struct {
	ID string

	LinkID string
	Kind   TransactionKind
	Leg    int32

	Amount    decimal.Decimal
	Recipient string

	Status      TransactionStatus
	ExternalRef *string
	Error       *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
