package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

type handleSwapWebhookRequest interface {
	GetProvider() string
	GetSignature() string
	GetPayload() string
}

// SwapWebhookResult reports what a provider webhook did. LinkFound is false
// for orders this service does not know about.
type SwapWebhookResult struct {
	LinkFound bool
	LinkID    string
	NewStatus entity.LinkStatus
}

func (s *SettlementService) HandleSwapWebhook(ctx context.Context, req handleSwapWebhookRequest) (*SwapWebhookResult, error) {
	payload := []byte(req.GetPayload())
	signature := strings.TrimSpace(req.GetSignature())

	notification, err := s.swap.ParseWebhook(payload, signature)
	if err != nil {
		s.persistCallback(ctx, nil, req, "", entity.ProviderCallbackRejected, fmt.Sprintf("provider webhook validation failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrWebhookRejected, err)
	}

	link, err := s.linkRepo.FindByOrderRef(ctx, notification.OrderID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		s.logger.WithFields(logrus.Fields{
			"order_ref": notification.OrderID,
			"status":    notification.Status,
		}).Warn("Webhook for unknown swap order")
		s.persistCallback(ctx, nil, req, notification.OrderID, entity.ProviderCallbackIgnored, "no link for order")
		return &SwapWebhookResult{LinkFound: false}, nil
	}

	updated, err := s.ApplyObservation(ctx, link.ID, Observation{
		Source:        SourceWebhook,
		Status:        notification.Status,
		DepositAmount: notification.DepositAmount,
		SettleAmount:  notification.SettleAmount,
	})
	if err != nil {
		return nil, err
	}

	linkID := updated.ID
	s.persistCallback(ctx, &linkID, req, notification.OrderID, entity.ProviderCallbackProcessed, "")

	return &SwapWebhookResult{
		LinkFound: true,
		LinkID:    updated.ID,
		NewStatus: updated.Status,
	}, nil
}

func (s *SettlementService) persistCallback(
	ctx context.Context,
	linkID *string,
	req handleSwapWebhookRequest,
	orderRef string,
	status int32,
	reason string,
) {
	now := s.now()
	var errPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		trimmed := truncate(reason, 1024)
		errPtr = &trimmed
	}

	_ = s.callbackRepo.Create(ctx, &entity.ProviderCallback{
		LinkID:      linkID,
		Provider:    strings.ToLower(strings.TrimSpace(req.GetProvider())),
		OrderRef:    orderRef,
		Signature:   strings.TrimSpace(req.GetSignature()),
		PayloadJSON: req.GetPayload(),
		Status:      status,
		Error:       errPtr,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
