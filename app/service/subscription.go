package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/repository"
)

type createWebhookSubscriptionRequest interface {
	GetOwner() string
	GetUrl() string
	GetEvents() []string
}

type updateWebhookSubscriptionRequest interface {
	GetId() string
	GetOwner() string
	GetUrl() *string
	GetEvents() []string
	GetActive() *bool
}

// CreateSubscription registers a webhook endpoint for an owner. The returned
// subscription carries the signing secret; it is not readable afterwards.
func (s *NotificationService) CreateSubscription(ctx context.Context, req createWebhookSubscriptionRequest) (*entity.WebhookSubscription, error) {
	owner := strings.ToLower(strings.TrimSpace(req.GetOwner()))
	url := strings.TrimSpace(req.GetUrl())
	if owner == "" || url == "" {
		return nil, fmt.Errorf("%w: owner and url are required", ErrValidation)
	}
	if len(req.GetEvents()) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", ErrValidation)
	}

	secret, err := newSubscriptionSecret()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &entity.WebhookSubscription{
		ID:        uuid.NewString(),
		Owner:     owner,
		URL:       url,
		Secret:    secret,
		Events:    append([]string(nil), req.GetEvents()...),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.subscriptionRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *NotificationService) ListSubscriptions(ctx context.Context, owner string) ([]*entity.WebhookSubscription, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	return s.subscriptionRepo.ListByOwner(ctx, owner)
}

func (s *NotificationService) UpdateSubscription(ctx context.Context, req updateWebhookSubscriptionRequest) (*entity.WebhookSubscription, error) {
	sub, err := s.ownedSubscription(ctx, req.GetId(), req.GetOwner())
	if err != nil {
		return nil, err
	}

	if url := req.GetUrl(); url != nil {
		sub.URL = strings.TrimSpace(*url)
	}
	if events := req.GetEvents(); events != nil {
		if len(events) == 0 {
			return nil, fmt.Errorf("%w: events cannot be empty", ErrValidation)
		}
		sub.Events = append([]string(nil), events...)
	}
	if active := req.GetActive(); active != nil {
		sub.Active = *active
	}
	sub.UpdatedAt = s.now()

	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	return sub, nil
}

func (s *NotificationService) DeleteSubscription(ctx context.Context, id, owner string) error {
	sub, err := s.ownedSubscription(ctx, id, owner)
	if err != nil {
		return err
	}

	if err := s.subscriptionRepo.Delete(ctx, sub.ID); err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}
	return nil
}

func (s *NotificationService) ownedSubscription(ctx context.Context, id, owner string) (*entity.WebhookSubscription, error) {
	id = strings.TrimSpace(id)
	owner = strings.ToLower(strings.TrimSpace(owner))
	if id == "" || owner == "" {
		return nil, ErrSubscriptionNotFound
	}

	sub, err := s.subscriptionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.Owner != owner {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func newSubscriptionSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
