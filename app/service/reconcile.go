package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/provider"
)

const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceAPI     = "api"
)

type observedState int

const (
	observedUnknown observedState = iota
	observedAwaiting
	observedProcessing
	observedSettled
	observedRefunded
	observedExpired
)

// Observation is one report of the swap order state, from polling or from a
// provider webhook.
type Observation struct {
	Source        string
	Status        string
	DepositAmount decimal.NullDecimal
	SettleAmount  decimal.NullDecimal
	DepositHash   *string
	SettleHash    *string
}

func observationFromOrder(order *provider.Order, source string) Observation {
	return Observation{
		Source:        source,
		Status:        order.Status,
		DepositAmount: order.DepositAmount,
		SettleAmount:  order.SettleAmount,
		DepositHash:   order.DepositHash,
		SettleHash:    order.SettleHash,
	}
}

func mapProviderStatus(status string) observedState {
	switch provider.NormalizeStatus(status) {
	case provider.StatusWaiting, provider.StatusPending:
		return observedAwaiting
	case provider.StatusProcessing, provider.StatusSettling, provider.StatusReview:
		return observedProcessing
	case provider.StatusSettled:
		return observedSettled
	case provider.StatusRefund, provider.StatusRefunding, provider.StatusRefunded:
		return observedRefunded
	case provider.StatusExpired:
		return observedExpired
	default:
		return observedUnknown
	}
}

// Reconcile fetches the swap order for a link and applies what it reports.
// Concurrent calls for the same link share one provider round trip. The shared
// run is detached from any single caller, so a caller that gives up does not
// fail the others.
func (s *SettlementService) Reconcile(ctx context.Context, linkID, source string) (*entity.PaymentLink, error) {
	linkID = strings.TrimSpace(linkID)
	shared := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(linkID, func() (interface{}, error) {
		return s.reconcile(shared, linkID, source)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entity.PaymentLink), nil
	}
}

func (s *SettlementService) reconcile(ctx context.Context, linkID, source string) (*entity.PaymentLink, error) {
	link, err := s.reload(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.Status.Terminal() || strings.TrimSpace(link.OrderRef) == "" {
		return link, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.StatusFetchTimeout)
	defer cancel()

	order, err := s.swap.GetOrder(fetchCtx, link.OrderRef)
	if err != nil {
		if errors.Is(err, provider.ErrOrderNotFound) {
			s.logger.WithFields(logrus.Fields{
				"link_id":   link.ID,
				"order_ref": link.OrderRef,
			}).Warn("Swap order not found at provider")
			return link, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return s.ApplyObservation(ctx, link.ID, observationFromOrder(order, source))
}

// ApplyObservation moves a link forward according to an observed order state.
// Amounts are recorded from every observation. Status never moves backwards
// and a terminal status is never left, so replays and out-of-order deliveries
// are harmless.
func (s *SettlementService) ApplyObservation(ctx context.Context, linkID string, obs Observation) (*entity.PaymentLink, error) {
	link, err := s.reload(ctx, linkID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if obs.DepositAmount.Valid || obs.SettleAmount.Valid {
		if err := s.linkRepo.UpdateAmounts(ctx, link.ID, obs.DepositAmount, obs.SettleAmount, now); err != nil {
			return nil, err
		}
		if obs.DepositAmount.Valid {
			link.ReceivedAmount = obs.DepositAmount
		}
		if obs.SettleAmount.Valid {
			link.SettledAmount = obs.SettleAmount
		}
	}
	if link.Status.Terminal() {
		return link, nil
	}

	state := mapProviderStatus(obs.Status)
	if state == observedUnknown {
		s.logger.WithFields(logrus.Fields{
			"link_id": link.ID,
			"status":  obs.Status,
			"source":  obs.Source,
		}).Warn("Unknown provider status, leaving link unchanged")
		return link, nil
	}

	if state == observedSettled {
		return s.applySettled(ctx, link, obs)
	}
	if link.Status == entity.LinkStatusReleasing {
		return link, nil
	}

	switch state {
	case observedAwaiting:
		reason := entity.BlockingAwaitingDeposit
		return s.advance(ctx, link, entity.LinkStatusAwaitingDeposit, obs.Source, entity.LinkUpdate{BlockingReason: &reason}, "")
	case observedProcessing:
		return s.advance(ctx, link, entity.LinkStatusProcessing, obs.Source, clearBlocking(), entity.EventPaymentProcessing)
	case observedRefunded:
		return s.advance(ctx, link, entity.LinkStatusRefunded, obs.Source, clearBlocking(), entity.EventPaymentRefunded)
	case observedExpired:
		return s.advance(ctx, link, entity.LinkStatusFailed, obs.Source, clearBlocking(), entity.EventPaymentFailed)
	}

	return link, nil
}

func (s *SettlementService) applySettled(ctx context.Context, link *entity.PaymentLink, obs Observation) (*entity.PaymentLink, error) {
	if !link.SettledAmount.Valid {
		detail := "provider reported settled without a settle amount"
		if err := s.linkRepo.SetBlocking(ctx, link.ID, entity.BlockingAwaitingSettling, &detail, s.now()); err != nil {
			return nil, err
		}
		link.BlockingReason = entity.BlockingAwaitingSettling
		link.BlockingDetail = &detail
		s.recordEvent(ctx, link, "settle_amount_missing", obs.Source, nil, nil)
		return link, nil
	}

	if link.Status.Rank() < entity.LinkStatusDepositReceived.Rank() {
		updated, won, err := s.transition(ctx, link, entity.LinkStatusDepositReceived, obs.Source, clearBlocking(), nil)
		if err != nil {
			return nil, err
		}
		if won {
			s.recordDeposit(ctx, updated, obs)
		}
		link = updated
		if link.Status.Terminal() {
			return link, nil
		}
	}

	if link.Kind == entity.LinkKindEscrow {
		return s.advanceEscrow(ctx, link, obs.Source)
	}

	updated, _, err := s.executeRelease(ctx, link, obs.Source)
	if err != nil {
		var releaseErr *ReleaseError
		if errors.As(err, &releaseErr) {
			return updated, nil
		}
		return nil, err
	}
	return updated, nil
}

func (s *SettlementService) recordDeposit(ctx context.Context, link *entity.PaymentLink, obs Observation) {
	now := s.now()
	externalRef := obs.SettleHash
	if externalRef == nil {
		externalRef = obs.DepositHash
	}

	tx := &entity.Transaction{
		ID:          uuid.NewString(),
		LinkID:      link.ID,
		Kind:        entity.TransactionKindDeposit,
		Amount:      link.SettledAmount.Decimal,
		Recipient:   link.CustodyAddress,
		Status:      entity.TransactionStatusCompleted,
		ExternalRef: externalRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		s.logger.WithError(err).WithField("link_id", link.ID).Error("Failed to record deposit transaction")
	}

	s.recordEvent(ctx, link, "deposit_recorded", obs.Source, nil, map[string]interface{}{
		"amount": link.SettledAmount.Decimal.String(),
	})
	_ = s.notifier.Enqueue(ctx, link, entity.EventPaymentReceived, map[string]interface{}{
		"amount":         link.ReceivedAmount.Decimal.String(),
		"settled_amount": link.SettledAmount.Decimal.String(),
	})
}

// advanceEscrow moves a settled escrow link through condition evaluation and,
// once the condition holds, into release.
func (s *SettlementService) advanceEscrow(ctx context.Context, link *entity.PaymentLink, source string) (*entity.PaymentLink, error) {
	if link.Status == entity.LinkStatusDepositReceived {
		reason := entity.BlockingConditionNotMet
		updated, _, err := s.transition(ctx, link, entity.LinkStatusConditionPending, source, entity.LinkUpdate{BlockingReason: &reason}, nil)
		if err != nil {
			return nil, err
		}
		link = updated
	}

	if link.Status == entity.LinkStatusConditionPending {
		if !s.cfg.AutoEscrowEvaluation {
			return link, nil
		}
		updated, _, err := s.evaluateCondition(ctx, link, source)
		if err != nil {
			s.logger.WithError(err).WithField("link_id", link.ID).Warn("Escrow condition evaluation failed")
			return link, nil
		}
		link = updated
	}

	if link.Status != entity.LinkStatusConditionMet && link.Status != entity.LinkStatusReleasing {
		return link, nil
	}

	updated, _, err := s.executeRelease(ctx, link, source)
	if err != nil {
		var releaseErr *ReleaseError
		if errors.As(err, &releaseErr) {
			return updated, nil
		}
		return nil, err
	}
	return updated, nil
}

// evaluateCondition runs the escrow checker for a condition_pending link and
// moves it to condition_met when the condition holds.
func (s *SettlementService) evaluateCondition(ctx context.Context, link *entity.PaymentLink, source string) (*entity.PaymentLink, string, error) {
	now := s.now()
	result, err := s.conditions.Evaluate(ctx, link, now)
	if err != nil {
		return link, "", err
	}

	if !result.Met {
		detail := result.Detail
		if err := s.linkRepo.SetBlocking(ctx, link.ID, entity.BlockingConditionNotMet, &detail, now); err != nil {
			return nil, "", err
		}
		link.BlockingReason = entity.BlockingConditionNotMet
		link.BlockingDetail = &detail
		return link, result.Guidance, nil
	}

	update := clearBlocking()
	update.ConditionMetAt = &now
	updated, won, err := s.transition(ctx, link, entity.LinkStatusConditionMet, source, update, map[string]interface{}{
		"detail": result.Detail,
	})
	if err != nil {
		return nil, "", err
	}
	if won {
		s.recordEvent(ctx, updated, "condition_met", source, nil, map[string]interface{}{"detail": result.Detail})
	}
	return updated, "", nil
}

// advance moves a link to target unless the link is already at or past it.
func (s *SettlementService) advance(
	ctx context.Context,
	link *entity.PaymentLink,
	target entity.LinkStatus,
	source string,
	update entity.LinkUpdate,
	notifyEvent string,
) (*entity.PaymentLink, error) {
	if target.Rank() <= link.Status.Rank() {
		return link, nil
	}

	updated, won, err := s.transition(ctx, link, target, source, update, nil)
	if err != nil {
		return nil, err
	}
	if won && notifyEvent != "" {
		_ = s.notifier.Enqueue(ctx, updated, notifyEvent, nil)
	}
	return updated, nil
}

// transition performs a conditional status change from the link's current
// status. When another writer moved the link first it returns the reloaded
// link and won=false.
func (s *SettlementService) transition(
	ctx context.Context,
	link *entity.PaymentLink,
	target entity.LinkStatus,
	source string,
	update entity.LinkUpdate,
	payload map[string]interface{},
) (*entity.PaymentLink, bool, error) {
	now := s.now()
	update.Status = target
	update.UpdatedAt = now

	ok, err := s.linkRepo.UpdateStatusIfCurrent(ctx, link.ID, link.Status, update)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"link_id":  link.ID,
			"expected": link.Status,
			"target":   target,
		}).Debug("Status transition lost to a concurrent writer")
		reloaded, err := s.reload(ctx, link.ID)
		if err != nil {
			return nil, false, err
		}
		return reloaded, false, nil
	}

	oldStatus := link.Status
	updated := *link
	updated.Status = target
	updated.UpdatedAt = now
	if update.BlockingReason != nil {
		updated.BlockingReason = *update.BlockingReason
		updated.BlockingDetail = update.BlockingDetail
	}
	if update.ConditionMetAt != nil {
		updated.ConditionMetAt = update.ConditionMetAt
	}
	if update.ClearReleaseClaim {
		updated.ReleaseClaimToken = nil
		updated.ReleaseClaimExpiresAt = nil
	}

	s.recordEvent(ctx, &updated, "status_changed", source, &oldStatus, payload)
	s.logger.WithFields(logrus.Fields{
		"link_id":    link.ID,
		"old_status": oldStatus,
		"new_status": target,
		"source":     source,
	}).Info("Link status changed")

	return &updated, true, nil
}

func (s *SettlementService) recordEvent(
	ctx context.Context,
	link *entity.PaymentLink,
	eventType string,
	source string,
	oldStatus *entity.LinkStatus,
	payload map[string]interface{},
) {
	var payloadJSON *string
	if len(payload) > 0 {
		if raw, err := json.Marshal(payload); err == nil {
			encoded := string(raw)
			payloadJSON = &encoded
		}
	}

	_ = s.eventRepo.Create(ctx, &entity.LinkEvent{
		LinkID:      link.ID,
		EventType:   eventType,
		Source:      source,
		OldStatus:   oldStatus,
		NewStatus:   link.Status,
		PayloadJSON: payloadJSON,
		CreatedAt:   s.now(),
	})
}

func clearBlocking() entity.LinkUpdate {
	reason := entity.BlockingNone
	return entity.LinkUpdate{BlockingReason: &reason}
}

func (s *SettlementService) expiresAt(now time.Time) time.Time {
	return now.Add(s.cfg.ReleaseLeaseTTL)
}
