package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderCreation       = errors.New("swap order creation failed")
	ErrOrderNotFound       = errors.New("swap order not found")
	ErrProviderUnavailable = errors.New("swap provider unavailable")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidWebhook      = errors.New("invalid webhook payload")
)

// Order statuses reported by the swap provider.
const (
	StatusWaiting    = "waiting"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReview     = "review"
	StatusSettling   = "settling"
	StatusSettled    = "settled"
	StatusRefund     = "refund"
	StatusRefunding  = "refunding"
	StatusRefunded   = "refunded"
	StatusExpired    = "expired"
)

type Asset struct {
	Coin    string
	Network string
}

func (a Asset) String() string {
	return strings.ToLower(a.Coin) + "-" + strings.ToLower(a.Network)
}

type CreateOrderInput struct {
	Deposit       Asset
	Settle        Asset
	SettleAddress string
	RefundAddress string
}

type Order struct {
	ID             string
	Status         string
	DepositAddress string
	DepositMin     decimal.NullDecimal
	DepositMax     decimal.NullDecimal
	DepositAmount  decimal.NullDecimal
	SettleAmount   decimal.NullDecimal
	DepositHash    *string
	SettleHash     *string
}

type Pair struct {
	Deposit Asset
	Settle  Asset
	Min     decimal.Decimal
	Max     decimal.Decimal
	Rate    decimal.Decimal
}

type WebhookNotification struct {
	OrderID       string
	Status        string
	DepositAmount decimal.NullDecimal
	SettleAmount  decimal.NullDecimal
	SettleAddress string
}

type SwapProvider interface {
	Name() string
	CreateOrder(ctx context.Context, input *CreateOrderInput) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetPair(ctx context.Context, deposit, settle Asset) (*Pair, error)
	ParseWebhook(payload []byte, signature string) (*WebhookNotification, error)
}

func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
