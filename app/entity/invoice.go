package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	default:
		return false
	}
}

type InvoiceItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (i InvoiceItem) Total() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

type Invoice struct {
	ID     string
	Number string

	Owner  string
	LinkID *string

	ClientName  string
	ClientEmail *string

	Items    []InvoiceItem
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Currency string

	Notes   *string
	DueDate *time.Time

	Status InvoiceStatus
	PaidAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
