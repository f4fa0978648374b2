package entity

import "time"

const (
	ProviderCallbackProcessed int32 = 10
	ProviderCallbackIgnored   int32 = 15
	ProviderCallbackRejected  int32 = 20
)

type ProviderCallback struct {
	ID uint64

	LinkID *string

	Provider    string
	OrderRef    string
	Signature   string
	PayloadJSON string
	Status      int32
	Error       *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
