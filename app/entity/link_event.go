package entity

import "time"

type LinkEvent struct {
	ID uint64

	LinkID string

	EventType string
	Source    string

	OldStatus *LinkStatus
	NewStatus LinkStatus

	PayloadJSON *string

	CreatedAt time.Time
}
