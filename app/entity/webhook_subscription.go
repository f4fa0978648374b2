package entity

import "time"

type WebhookSubscription struct {
	ID string

	Owner  string
	URL    string
	Secret string
	Events []string
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *WebhookSubscription) Subscribed(event string) bool {
	for _, item := range s.Events {
		if item == event {
			return true
		}
	}
	return false
}
