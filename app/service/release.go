package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"golang.org/x/sync/errgroup"
)

const (
	alertTransferRetries   = "transfer_retries_exhausted"
	alertInconsistency     = "reconciliation_inconsistency"
	alertPartialDistribute = "partial_distribution"

	pendingTransferGuidance = "resolve the pending transfer before releasing again"
)

type resolveTransactionRequest interface {
	GetId() string
	GetTransactionId() string
	GetOutcome() string
	GetExternalRef() string
	GetReason() string
}

type releaseLeg struct {
	Leg       int32
	Recipient string
	Amount    decimal.Decimal
}

type releasePolicy struct {
	txKind         entity.TransactionKind
	claimFrom      []entity.LinkStatus
	completeEvents []string
	legs           func(link *entity.PaymentLink) ([]releaseLeg, error)
}

func (p releasePolicy) claimable(status entity.LinkStatus) bool {
	for _, item := range p.claimFrom {
		if item == status {
			return true
		}
	}
	return false
}

func releasePolicyFor(kind entity.LinkKind) releasePolicy {
	switch kind {
	case entity.LinkKindEscrow:
		return releasePolicy{
			txKind:         entity.TransactionKindEscrowRelease,
			claimFrom:      []entity.LinkStatus{entity.LinkStatusConditionMet, entity.LinkStatusReleasing},
			completeEvents: []string{entity.EventEscrowReleased, entity.EventPaymentCompleted},
			legs:           singleLeg,
		}
	case entity.LinkKindSplit:
		return releasePolicy{
			txKind:         entity.TransactionKindSplitDistribution,
			claimFrom:      []entity.LinkStatus{entity.LinkStatusDepositReceived, entity.LinkStatusReleasing},
			completeEvents: []string{entity.EventSplitDistributed, entity.EventPaymentCompleted},
			legs: func(link *entity.PaymentLink) ([]releaseLeg, error) {
				if len(link.SplitTable) == 0 {
					return nil, fmt.Errorf("%w: split table is empty", ErrValidation)
				}
				return allocateSplit(link.SettledAmount.Decimal, link.SplitTable), nil
			},
		}
	default:
		return releasePolicy{
			txKind:         entity.TransactionKindAutoRelease,
			claimFrom:      []entity.LinkStatus{entity.LinkStatusDepositReceived, entity.LinkStatusReleasing},
			completeEvents: []string{entity.EventPaymentCompleted},
			legs:           singleLeg,
		}
	}
}

func singleLeg(link *entity.PaymentLink) ([]releaseLeg, error) {
	if strings.TrimSpace(link.SettleAddress) == "" {
		return nil, fmt.Errorf("%w: settle address is empty", ErrValidation)
	}
	return []releaseLeg{{Leg: 0, Recipient: link.SettleAddress, Amount: link.SettledAmount.Decimal}}, nil
}

// allocateSplit floors every share to cents and hands the rounding remainder
// to the last recipient, so the legs always sum to total.
func allocateSplit(total decimal.Decimal, table []entity.SplitRecipient) []releaseLeg {
	legs := make([]releaseLeg, 0, len(table))
	allocated := decimal.Zero
	for i, recipient := range table {
		amount := total.Mul(recipient.Percentage).Shift(-2).RoundFloor(2)
		if i == len(table)-1 {
			amount = total.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		legs = append(legs, releaseLeg{Leg: int32(i), Recipient: recipient.Address, Amount: amount})
	}
	return legs
}

// executeRelease pays out a settled link. It holds the release lease for the
// whole payout and consults the ledger first, so a leg is never paid twice.
func (s *SettlementService) executeRelease(ctx context.Context, link *entity.PaymentLink, source string) (*entity.PaymentLink, []*entity.Transaction, error) {
	policy := releasePolicyFor(link.Kind)
	if !policy.claimable(link.Status) {
		return link, nil, nil
	}
	if !link.SettledAmount.Valid {
		return link, nil, nil
	}

	legs, err := policy.legs(link)
	if err != nil {
		return link, nil, err
	}

	if link.Status == entity.LinkStatusReleasing && link.BlockingReason == entity.BlockingManualReview {
		ledger, err := s.txRepo.ListByLinkAndKind(ctx, link.ID, policy.txKind)
		if err != nil {
			return link, nil, err
		}
		if _, pending := summarizeLedger(ledger); len(pending) > 0 {
			return link, nil, newReleaseError(
				ErrTransferFailed,
				fmt.Sprintf("transfer outcome unknown for leg(s) %s", joinLegs(pending)),
				pendingTransferGuidance,
			)
		}
	}

	now := s.now()
	token := uuid.NewString()
	claimed, err := s.linkRepo.ClaimRelease(ctx, link.ID, link.Status, entity.LinkStatusReleasing, token, s.expiresAt(now), now)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		reloaded, err := s.reload(ctx, link.ID)
		if err != nil {
			return nil, nil, err
		}
		return reloaded, nil, nil
	}

	oldStatus := link.Status
	expires := s.expiresAt(now)
	held := *link
	held.Status = entity.LinkStatusReleasing
	held.ReleaseClaimToken = &token
	held.ReleaseClaimExpiresAt = &expires
	held.ReleaseAttempts++
	held.UpdatedAt = now
	link = &held

	if oldStatus != entity.LinkStatusReleasing {
		s.recordEvent(ctx, link, "status_changed", source, &oldStatus, nil)
	}
	s.recordEvent(ctx, link, "release_claimed", source, nil, map[string]interface{}{
		"attempt": link.ReleaseAttempts,
	})

	ledger, err := s.txRepo.ListByLinkAndKind(ctx, link.ID, policy.txKind)
	if err != nil {
		detail := truncate(err.Error(), 1024)
		_ = s.linkRepo.ReleaseClaim(ctx, link.ID, token, entity.BlockingTransferFailed, &detail, s.now())
		return link, nil, err
	}

	done, pending := summarizeLedger(ledger)
	if len(pending) > 0 {
		detail := fmt.Sprintf("transfer outcome unknown for leg(s) %s", joinLegs(pending))
		s.flagInconsistency(ctx, link, token, source, detail)
		return link, nil, newReleaseError(ErrTransferFailed, detail, pendingTransferGuidance)
	}

	if link.Kind == entity.LinkKindSplit {
		return s.distribute(ctx, link, token, policy, legs, done, source)
	}

	leg := legs[0]
	if tx, ok := done[leg.Leg]; ok {
		return s.finishRelease(ctx, link, policy, []*entity.Transaction{tx}, source, "")
	}

	tx, transferErr, ledgerErr := s.transferLeg(ctx, link, policy, leg)
	if ledgerErr != nil {
		detail := fmt.Sprintf("leg %d: %v", leg.Leg, ledgerErr)
		s.flagInconsistency(ctx, link, token, source, detail)
		return link, nil, newReleaseError(ErrTransferFailed, detail, pendingTransferGuidance)
	}
	if transferErr != nil {
		return s.failRelease(ctx, link, token, source, transferErr)
	}

	return s.finishRelease(ctx, link, policy, []*entity.Transaction{tx}, source, "")
}

func (s *SettlementService) distribute(
	ctx context.Context,
	link *entity.PaymentLink,
	token string,
	policy releasePolicy,
	legs []releaseLeg,
	done map[int32]*entity.Transaction,
	source string,
) (*entity.PaymentLink, []*entity.Transaction, error) {
	results := make([]*entity.Transaction, len(legs))
	var (
		mu          sync.Mutex
		ledgerFails []string
		failedLegs  []string
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.SplitConcurrency)
	for i, leg := range legs {
		i, leg := i, leg
		if tx, ok := done[leg.Leg]; ok {
			results[i] = tx
			continue
		}

		g.Go(func() error {
			tx, transferErr, ledgerErr := s.transferLeg(ctx, link, policy, leg)

			mu.Lock()
			defer mu.Unlock()
			results[i] = tx
			switch {
			case ledgerErr != nil:
				ledgerFails = append(ledgerFails, fmt.Sprintf("leg %d: %v", leg.Leg, ledgerErr))
			case transferErr != nil:
				failedLegs = append(failedLegs, fmt.Sprintf("leg %d to %s: %v", leg.Leg, leg.Recipient, transferErr))
			}
			return nil
		})
	}
	_ = g.Wait()

	txs := make([]*entity.Transaction, 0, len(results))
	for _, tx := range results {
		if tx != nil {
			txs = append(txs, tx)
		}
	}

	if len(ledgerFails) > 0 {
		sort.Strings(ledgerFails)
		detail := truncate(strings.Join(ledgerFails, "; "), 1024)
		s.flagInconsistency(ctx, link, token, source, detail)
		return link, txs, newReleaseError(ErrTransferFailed, detail, pendingTransferGuidance)
	}

	partial := ""
	if len(failedLegs) > 0 {
		sort.Strings(failedLegs)
		partial = truncate(fmt.Sprintf("%s: %s", ErrPartialDistribution.Error(), strings.Join(failedLegs, "; ")), 1024)
	}

	return s.finishRelease(ctx, link, policy, txs, source, partial)
}

// transferLeg writes a pending ledger row, moves the funds and settles the
// row. transferErr means the wallet refused or failed the transfer and the
// row is marked failed. ledgerErr means the ledger could not be trusted
// afterwards.
func (s *SettlementService) transferLeg(
	ctx context.Context,
	link *entity.PaymentLink,
	policy releasePolicy,
	leg releaseLeg,
) (tx *entity.Transaction, transferErr error, ledgerErr error) {
	now := s.now()
	tx = &entity.Transaction{
		ID:        uuid.NewString(),
		LinkID:    link.ID,
		Kind:      policy.txKind,
		Leg:       leg.Leg,
		Amount:    leg.Amount,
		Recipient: leg.Recipient,
		Status:    entity.TransactionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if !leg.Amount.IsPositive() {
		tx.Status = entity.TransactionStatusCompleted
		if err := s.txRepo.Create(ctx, tx); err != nil {
			return nil, nil, err
		}
		return tx, nil, nil
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, nil, err
	}

	transferCtx, cancel := context.WithTimeout(ctx, s.cfg.TransferTimeout)
	ref, err := s.wallet.Transfer(transferCtx, link.CustodyAddress, leg.Recipient, leg.Amount)
	cancel()

	if err != nil {
		reason := truncate(err.Error(), 1024)
		marked, markErr := s.txRepo.MarkFailed(ctx, tx.ID, reason, s.now())
		if markErr != nil {
			return tx, err, markErr
		}
		if !marked {
			return tx, err, fmt.Errorf("transaction %s was not pending", tx.ID)
		}
		tx.Status = entity.TransactionStatusFailed
		tx.Error = &reason
		return tx, err, nil
	}

	marked, markErr := s.txRepo.MarkCompleted(ctx, tx.ID, ref, s.now())
	if markErr != nil {
		return tx, nil, fmt.Errorf("transfer %s succeeded but was not recorded: %w", ref, markErr)
	}
	if !marked {
		return tx, nil, fmt.Errorf("transfer %s succeeded but transaction %s was not pending", ref, tx.ID)
	}
	tx.Status = entity.TransactionStatusCompleted
	tx.ExternalRef = &ref
	return tx, nil, nil
}

func (s *SettlementService) failRelease(
	ctx context.Context,
	link *entity.PaymentLink,
	token string,
	source string,
	transferErr error,
) (*entity.PaymentLink, []*entity.Transaction, error) {
	detail := truncate(transferErr.Error(), 1024)
	if err := s.linkRepo.ReleaseClaim(ctx, link.ID, token, entity.BlockingTransferFailed, &detail, s.now()); err != nil {
		return nil, nil, err
	}
	link.BlockingReason = entity.BlockingTransferFailed
	link.BlockingDetail = &detail
	link.ReleaseClaimToken = nil
	link.ReleaseClaimExpiresAt = nil

	s.recordEvent(ctx, link, "release_failed", source, nil, map[string]interface{}{
		"attempt": link.ReleaseAttempts,
		"error":   detail,
	})
	s.logger.WithError(transferErr).WithFields(logrus.Fields{
		"link_id": link.ID,
		"attempt": link.ReleaseAttempts,
	}).Warn("Release transfer failed")

	if s.cfg.AlertAttemptThreshold > 0 && link.ReleaseAttempts == s.cfg.AlertAttemptThreshold {
		s.raiseAlert(ctx, link, source, alertTransferRetries, fmt.Sprintf("release failed %d times: %s", link.ReleaseAttempts, detail))
	}

	return link, nil, newReleaseError(ErrTransferFailed, detail, "the release is retried on the next reconciliation")
}

func (s *SettlementService) finishRelease(
	ctx context.Context,
	link *entity.PaymentLink,
	policy releasePolicy,
	txs []*entity.Transaction,
	source string,
	partial string,
) (*entity.PaymentLink, []*entity.Transaction, error) {
	reason := entity.BlockingNone
	detail := ""
	if partial != "" {
		reason = entity.BlockingManualReview
		detail = partial
	}

	updated, won, err := s.transition(ctx, link, entity.LinkStatusCompleted, source, entity.LinkUpdate{
		BlockingReason:    &reason,
		BlockingDetail:    &detail,
		ClearReleaseClaim: true,
	}, nil)
	if err != nil {
		return nil, txs, err
	}
	if !won {
		return updated, txs, nil
	}
	if detail == "" {
		updated.BlockingDetail = nil
	}

	total := decimal.Zero
	recipients := make([]string, 0, len(txs))
	for _, tx := range txs {
		if tx.Status == entity.TransactionStatusCompleted {
			total = total.Add(tx.Amount)
		}
		recipients = append(recipients, tx.Recipient)
	}

	s.recordEvent(ctx, updated, "release_completed", source, nil, map[string]interface{}{
		"total":      total.String(),
		"recipients": len(txs),
	})
	if partial != "" {
		s.raiseAlert(ctx, updated, source, alertPartialDistribute, partial)
	}

	extra := map[string]interface{}{
		"amount":          total.String(),
		"recipient":       strings.Join(recipients, ","),
		"recipient_count": len(txs),
	}
	if link.EscrowCondition != nil {
		extra["condition"] = link.EscrowCondition.Type
	}
	for _, event := range policy.completeEvents {
		_ = s.notifier.Enqueue(ctx, updated, event, extra)
	}
	if s.invoices != nil {
		if err := s.invoices.MarkPaidForLink(ctx, updated.ID, updated.UpdatedAt); err != nil {
			s.logger.WithError(err).WithField("link_id", updated.ID).Error("Failed to mark invoices paid")
		}
	}

	return updated, txs, nil
}

func (s *SettlementService) flagInconsistency(ctx context.Context, link *entity.PaymentLink, token, source, detail string) {
	detail = truncate(detail, 1024)
	if err := s.linkRepo.ReleaseClaim(ctx, link.ID, token, entity.BlockingManualReview, &detail, s.now()); err != nil {
		s.logger.WithError(err).WithField("link_id", link.ID).Error("Failed to release claim after inconsistency")
	}
	link.BlockingReason = entity.BlockingManualReview
	link.BlockingDetail = &detail
	link.ReleaseClaimToken = nil
	link.ReleaseClaimExpiresAt = nil

	s.recordEvent(ctx, link, "reconciliation_inconsistency", source, nil, map[string]interface{}{"detail": detail})
	s.raiseAlert(ctx, link, source, alertInconsistency, detail)
}

// raiseAlert reports a link that needs an operator.
func (s *SettlementService) raiseAlert(ctx context.Context, link *entity.PaymentLink, source, alert, detail string) {
	s.logger.WithFields(logrus.Fields{
		"alert":    alert,
		"link_id":  link.ID,
		"status":   link.Status,
		"attempts": link.ReleaseAttempts,
	}).Error(detail)

	payload := map[string]interface{}{"alert": alert, "detail": detail}
	s.recordEvent(ctx, link, "settlement_alert", source, nil, payload)
	_ = s.notifier.Enqueue(ctx, link, entity.EventSettlementAlert, payload)
}

// ReleaseEscrow is the explicit release request for an escrow link. It checks
// deposit confirmation first and the escrow condition second, and explains a
// refusal through a *ReleaseError.
func (s *SettlementService) ReleaseEscrow(ctx context.Context, linkID, reason string) (*entity.PaymentLink, *entity.Transaction, error) {
	link, err := s.reload(ctx, linkID)
	if err != nil {
		return nil, nil, err
	}
	if link.Kind != entity.LinkKindEscrow {
		return nil, nil, ErrInvalidLinkKind
	}

	switch link.Status {
	case entity.LinkStatusCompleted:
		tx, err := s.completedRelease(ctx, link)
		if err != nil {
			return nil, nil, err
		}
		return link, tx, nil
	case entity.LinkStatusFailed, entity.LinkStatusRefunded:
		return link, nil, newReleaseError(ErrLinkTerminal, fmt.Sprintf("link is %s", link.Status), "a failed or refunded link cannot be released")
	}

	s.recordEvent(ctx, link, "manual_release_requested", SourceAPI, nil, map[string]interface{}{
		"reason": strings.TrimSpace(reason),
	})

	if link.Status.Rank() < entity.LinkStatusDepositReceived.Rank() {
		return link, nil, newReleaseError(
			ErrDepositNotConfirmed,
			fmt.Sprintf("deposit status is %s", link.Status),
			"wait until the swap provider reports the deposit as settled",
		)
	}

	if link.Status == entity.LinkStatusDepositReceived {
		blocking := entity.BlockingConditionNotMet
		updated, _, err := s.transition(ctx, link, entity.LinkStatusConditionPending, SourceAPI, entity.LinkUpdate{BlockingReason: &blocking}, nil)
		if err != nil {
			return nil, nil, err
		}
		link = updated
	}

	if link.Status == entity.LinkStatusConditionPending {
		updated, guidance, err := s.evaluateCondition(ctx, link, SourceAPI)
		if err != nil {
			return link, nil, newReleaseError(ErrConditionNotMet, fmt.Sprintf("condition check failed: %v", err), "retry once the condition can be checked")
		}
		link = updated
		if link.Status == entity.LinkStatusConditionPending {
			detail := ""
			if link.BlockingDetail != nil {
				detail = *link.BlockingDetail
			}
			return link, nil, newReleaseError(ErrConditionNotMet, detail, guidance)
		}
	}

	updated, txs, err := s.executeRelease(ctx, link, SourceAPI)
	if err != nil {
		return updated, nil, err
	}
	if updated.Status == entity.LinkStatusCompleted {
		for _, tx := range txs {
			if tx.Status == entity.TransactionStatusCompleted {
				return updated, tx, nil
			}
		}
		tx, err := s.completedRelease(ctx, updated)
		if err != nil {
			return nil, nil, err
		}
		return updated, tx, nil
	}

	return updated, nil, newReleaseError(ErrTransferFailed, "a release is already in progress", "check the link again shortly")
}

// ResolveTransaction records the operator-verified outcome of a transfer leg
// left pending. Once no leg of the link is pending any more the release is
// resumed: completed legs are kept and failed legs are transferred again.
func (s *SettlementService) ResolveTransaction(ctx context.Context, req resolveTransactionRequest) (*entity.PaymentLink, *entity.Transaction, error) {
	link, err := s.reload(ctx, req.GetId())
	if err != nil {
		return nil, nil, err
	}

	items, err := s.txRepo.ListByLink(ctx, link.ID)
	if err != nil {
		return nil, nil, err
	}
	var tx *entity.Transaction
	for _, item := range items {
		if item.ID == strings.TrimSpace(req.GetTransactionId()) {
			tx = item
			break
		}
	}
	if tx == nil {
		return nil, nil, ErrTransactionNotFound
	}
	if tx.Status != entity.TransactionStatusPending {
		return nil, nil, fmt.Errorf("%w: transaction is %s", ErrTransactionNotPending, tx.Status)
	}

	now := s.now()
	outcome := entity.TransactionStatus(strings.ToLower(strings.TrimSpace(req.GetOutcome())))
	var marked bool
	switch outcome {
	case entity.TransactionStatusCompleted:
		ref := strings.TrimSpace(req.GetExternalRef())
		if ref == "" {
			return nil, nil, fmt.Errorf("%w: external_ref is required for a completed transfer", ErrValidation)
		}
		marked, err = s.txRepo.MarkCompleted(ctx, tx.ID, ref, now)
		tx.ExternalRef = &ref
	case entity.TransactionStatusFailed:
		reason := strings.TrimSpace(req.GetReason())
		if reason == "" {
			reason = "marked failed by operator"
		}
		marked, err = s.txRepo.MarkFailed(ctx, tx.ID, reason, now)
		tx.Error = &reason
	default:
		return nil, nil, fmt.Errorf("%w: outcome must be completed or failed", ErrValidation)
	}
	if err != nil {
		return nil, nil, err
	}
	if !marked {
		return nil, nil, ErrTransactionNotPending
	}
	tx.Status = outcome
	tx.UpdatedAt = now

	s.recordEvent(ctx, link, "transaction_resolved", SourceAPI, nil, map[string]interface{}{
		"transaction_id": tx.ID,
		"leg":            tx.Leg,
		"outcome":        string(outcome),
	})
	s.logger.WithFields(logrus.Fields{
		"link_id":        link.ID,
		"transaction_id": tx.ID,
		"outcome":        outcome,
	}).Info("Pending transfer resolved")

	if link.Status != entity.LinkStatusReleasing || link.BlockingReason != entity.BlockingManualReview {
		return link, tx, nil
	}

	ledger, err := s.txRepo.ListByLinkAndKind(ctx, link.ID, releasePolicyFor(link.Kind).txKind)
	if err != nil {
		return nil, nil, err
	}
	if _, pending := summarizeLedger(ledger); len(pending) > 0 {
		return link, tx, nil
	}

	if err := s.linkRepo.SetBlocking(ctx, link.ID, entity.BlockingNone, nil, s.now()); err != nil {
		return nil, nil, err
	}
	link.BlockingReason = entity.BlockingNone
	link.BlockingDetail = nil

	updated, _, err := s.executeRelease(ctx, link, SourceAPI)
	if err != nil {
		var releaseErr *ReleaseError
		if errors.As(err, &releaseErr) {
			return updated, tx, nil
		}
		return nil, nil, err
	}
	return updated, tx, nil
}

func (s *SettlementService) completedRelease(ctx context.Context, link *entity.PaymentLink) (*entity.Transaction, error) {
	items, err := s.txRepo.ListByLinkAndKind(ctx, link.ID, entity.TransactionKindEscrowRelease)
	if err != nil {
		return nil, err
	}
	for _, tx := range items {
		if tx.Status == entity.TransactionStatusCompleted {
			return tx, nil
		}
	}
	return nil, nil
}

// summarizeLedger returns the completed row per leg and the legs whose only
// unresolved row is still pending.
func summarizeLedger(items []*entity.Transaction) (map[int32]*entity.Transaction, []int32) {
	done := make(map[int32]*entity.Transaction)
	pendingSet := make(map[int32]struct{})
	for _, tx := range items {
		switch tx.Status {
		case entity.TransactionStatusCompleted:
			done[tx.Leg] = tx
		case entity.TransactionStatusPending:
			pendingSet[tx.Leg] = struct{}{}
		}
	}

	pending := make([]int32, 0, len(pendingSet))
	for leg := range pendingSet {
		if _, ok := done[leg]; ok {
			continue
		}
		pending = append(pending, leg)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })
	return done, pending
}

func joinLegs(legs []int32) string {
	parts := make([]string, 0, len(legs))
	for _, leg := range legs {
		parts = append(parts, fmt.Sprintf("%d", leg))
	}
	return strings.Join(parts, ",")
}
