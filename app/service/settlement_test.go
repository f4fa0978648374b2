package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/provider"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
	"github.com/vibast-solutions/ms-go-shiftstream/app/wallet"
)

func directLinkRequest() *types.CreateLinkRequest {
	return &types.CreateLinkRequest{
		Kind:           "direct",
		Owner:          "0xOwner",
		SettleAddress:  "0xMerchant",
		DepositCoin:    "btc",
		DepositNetwork: "Bitcoin",
	}
}

func escrowLinkRequest(conditionType, trackingNumber string) *types.CreateLinkRequest {
	return &types.CreateLinkRequest{
		Kind:           "escrow",
		Owner:          "0xowner",
		SettleAddress:  "0xseller",
		DepositCoin:    "ETH",
		DepositNetwork: "ethereum",
		EscrowCondition: &types.EscrowCondition{
			Type:           conditionType,
			TrackingNumber: trackingNumber,
		},
	}
}

func splitLinkRequest(percentages ...string) *types.CreateLinkRequest {
	recipients := []string{"0xa", "0xb", "0xc", "0xd"}
	table := make([]*types.SplitRecipient, 0, len(percentages))
	for i, pct := range percentages {
		table = append(table, &types.SplitRecipient{Address: recipients[i], Percentage: json.Number(pct)})
	}
	return &types.CreateLinkRequest{
		Kind:           "split",
		Owner:          "0xowner",
		DepositCoin:    "SOL",
		DepositNetwork: "solana",
		SplitTable:     table,
	}
}

func mustCreateLink(t *testing.T, f *settlementFixture, req *types.CreateLinkRequest) *entity.PaymentLink {
	t.Helper()
	link, err := f.svc.CreateLink(context.Background(), req)
	if err != nil {
		t.Fatalf("create link failed: %v", err)
	}
	return link
}

func TestCreateLinkPersistsAwaitingDeposit(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())

	link := mustCreateLink(t, f, directLinkRequest())

	stored := f.links.get(link.ID)
	if stored == nil {
		t.Fatal("expected link to be stored")
	}
	if stored.Status != entity.LinkStatusAwaitingDeposit {
		t.Fatalf("expected awaiting_deposit, got %s", stored.Status)
	}
	if stored.BlockingReason != entity.BlockingAwaitingDeposit {
		t.Fatalf("expected awaiting_deposit blocking reason, got %s", stored.BlockingReason)
	}
	if stored.Owner != "0xowner" || stored.SettleAddress != "0xmerchant" || stored.CustodyAddress != "0xcustody" {
		t.Fatalf("expected lowercased addresses, got owner=%s settle=%s custody=%s", stored.Owner, stored.SettleAddress, stored.CustodyAddress)
	}
	if stored.DepositCoin != "BTC" || stored.DepositNetwork != "bitcoin" {
		t.Fatalf("unexpected deposit asset %s/%s", stored.DepositCoin, stored.DepositNetwork)
	}
	if stored.OrderRef != "shift-1" || stored.DepositAddress != "bc1qdeposit" {
		t.Fatalf("expected provider order to be recorded, got %s %s", stored.OrderRef, stored.DepositAddress)
	}
	if f.events.count("link_created") != 1 {
		t.Fatal("expected link_created event")
	}
	if f.notifier.count(entity.EventLinkCreated) != 1 {
		t.Fatal("expected link.created notification")
	}
}

func TestCreateLinkRejectsSplitNotSummingToHundred(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())

	_, err := f.svc.CreateLink(context.Background(), splitLinkRequest("50", "40"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if f.swap.createCalls != 0 {
		t.Fatalf("expected no provider order, got %d calls", f.swap.createCalls)
	}
	if len(f.links.links) != 0 {
		t.Fatal("expected nothing persisted")
	}
}

func TestCreateLinkValidation(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())

	cases := map[string]*types.CreateLinkRequest{
		"unsupported asset":       {Kind: "direct", Owner: "0xo", SettleAddress: "0xs", DepositCoin: "DOGE", DepositNetwork: "dogecoin"},
		"missing settle address":  {Kind: "direct", Owner: "0xo", DepositCoin: "BTC", DepositNetwork: "bitcoin"},
		"delivery without number": escrowLinkRequest("delivery", ""),
		"unknown condition":       escrowLinkRequest("weather", ""),
		"zero split share":        splitLinkRequest("100", "0"),
	}
	for name, req := range cases {
		if _, err := f.svc.CreateLink(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
	if f.swap.createCalls != 0 {
		t.Fatalf("expected no provider calls, got %d", f.swap.createCalls)
	}
}

func TestCreateLinkProviderUnavailablePersistsNothing(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.swap.createErr = provider.ErrProviderUnavailable

	_, err := f.svc.CreateLink(context.Background(), directLinkRequest())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if len(f.links.links) != 0 {
		t.Fatal("expected nothing persisted")
	}

	f.swap.createErr = errors.New("pair not supported")
	_, err = f.svc.CreateLink(context.Background(), directLinkRequest())
	if !errors.Is(err, ErrOrderCreation) {
		t.Fatalf("expected ErrOrderCreation, got %v", err)
	}
}

func TestCreateLinkWalletUnavailable(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.wallet.createErr = wallet.ErrWalletUnavailable

	_, err := f.svc.CreateLink(context.Background(), directLinkRequest())
	if !errors.Is(err, ErrWalletUnavailable) {
		t.Fatalf("expected ErrWalletUnavailable, got %v", err)
	}
	if f.swap.createCalls != 0 {
		t.Fatal("expected no provider order without a custody account")
	}
}

func TestDirectLinkSettledAutoReleases(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("125.50")

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}

	releases := f.txsOfKind(link.ID, entity.TransactionKindAutoRelease)
	if len(releases) != 1 {
		t.Fatalf("expected one auto_release transaction, got %d", len(releases))
	}
	if !releases[0].Amount.Equal(decimal.RequireFromString("125.50")) {
		t.Fatalf("expected 125.50, got %s", releases[0].Amount)
	}
	if releases[0].Recipient != "0xmerchant" || releases[0].Status != entity.TransactionStatusCompleted {
		t.Fatalf("unexpected release transaction %+v", releases[0])
	}
	if deposits := f.txsOfKind(link.ID, entity.TransactionKindDeposit); len(deposits) != 1 {
		t.Fatalf("expected one deposit transaction, got %d", len(deposits))
	}
	if f.notifier.count(entity.EventPaymentReceived) != 1 || f.notifier.count(entity.EventPaymentCompleted) != 1 {
		t.Fatalf("expected received and completed notifications, got %v", f.notifier.events)
	}

	stored := f.links.get(link.ID)
	if stored.ReleaseClaimToken != nil {
		t.Fatal("expected release lease to be cleared")
	}
	if !stored.SettledAmount.Valid || !stored.SettledAmount.Decimal.Equal(decimal.RequireFromString("125.5")) {
		t.Fatalf("expected settled amount to be recorded, got %v", stored.SettledAmount)
	}
}

func TestEscrowDeliveredReleasesOnce(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, escrowLinkRequest("delivery", "WIN123456"))
	f.settledOrder("80")

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
	if n := len(f.txsOfKind(link.ID, entity.TransactionKindEscrowRelease)); n != 1 {
		t.Fatalf("expected one escrow_release transaction, got %d", n)
	}

	again, tx, err := f.svc.ReleaseEscrow(context.Background(), link.ID, "buyer confirmed")
	if err != nil {
		t.Fatalf("repeated release failed: %v", err)
	}
	if again.Status != entity.LinkStatusCompleted || tx == nil {
		t.Fatalf("expected completed link with its release transaction, got %s %v", again.Status, tx)
	}
	if n := len(f.txsOfKind(link.ID, entity.TransactionKindEscrowRelease)); n != 1 {
		t.Fatalf("expected still one escrow_release transaction, got %d", n)
	}
	if f.wallet.transferCount() != 1 {
		t.Fatalf("expected one wallet transfer, got %d", f.wallet.transferCount())
	}
	if f.notifier.count(entity.EventEscrowReleased) != 1 {
		t.Fatal("expected escrow.released notification")
	}
}

func TestEscrowInTransitStaysConditionPending(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, escrowLinkRequest("delivery", "SHIP998877"))
	f.settledOrder("80")

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusConditionPending {
		t.Fatalf("expected condition_pending, got %s", updated.Status)
	}
	if updated.BlockingReason != entity.BlockingConditionNotMet {
		t.Fatalf("expected condition_not_met, got %s", updated.BlockingReason)
	}
	if n := len(f.txsOfKind(link.ID, entity.TransactionKindEscrowRelease)); n != 0 {
		t.Fatalf("expected no release transactions, got %d", n)
	}

	_, _, err = f.svc.ReleaseEscrow(context.Background(), link.ID, "")
	var releaseErr *ReleaseError
	if !errors.As(err, &releaseErr) || !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("expected condition not met release error, got %v", err)
	}
	if releaseErr.Guidance == "" {
		t.Fatal("expected guidance on unmet condition")
	}
	if n := len(f.txsOfKind(link.ID, entity.TransactionKindEscrowRelease)); n != 0 {
		t.Fatalf("expected no release transactions after manual attempt, got %d", n)
	}
}

func TestReleaseEscrowRequiresConfirmedDeposit(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, escrowLinkRequest("delivery", "WIN1"))

	_, _, err := f.svc.ReleaseEscrow(context.Background(), link.ID, "")
	if !errors.Is(err, ErrDepositNotConfirmed) {
		t.Fatalf("expected ErrDepositNotConfirmed, got %v", err)
	}
	if f.wallet.transferCount() != 0 {
		t.Fatal("expected no transfer")
	}
}

func TestReleaseEscrowRejectsOtherKinds(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())

	_, _, err := f.svc.ReleaseEscrow(context.Background(), link.ID, "")
	if !errors.Is(err, ErrInvalidLinkKind) {
		t.Fatalf("expected ErrInvalidLinkKind, got %v", err)
	}

	_, _, err = f.svc.ReleaseEscrow(context.Background(), "missing", "")
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestReleaseEscrowRejectsRefundedLink(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, escrowLinkRequest("delivery", "WIN1"))
	f.swap.order = &provider.Order{ID: "shift-1", Status: provider.StatusRefunded}

	if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	_, _, err := f.svc.ReleaseEscrow(context.Background(), link.ID, "")
	if !errors.Is(err, ErrLinkTerminal) {
		t.Fatalf("expected ErrLinkTerminal, got %v", err)
	}
}

func TestManualEscrowReleasesAfterApproval(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, escrowLinkRequest("manual", ""))
	f.settledOrder("40")

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourceWebhook)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusConditionPending {
		t.Fatalf("expected condition_pending before approval, got %s", updated.Status)
	}

	approved, err := f.svc.ApproveCondition(context.Background(), link.ID, "0xOwner")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed after approval, got %s", approved.Status)
	}
	if n := len(f.txsOfKind(link.ID, entity.TransactionKindEscrowRelease)); n != 1 {
		t.Fatalf("expected one escrow_release transaction, got %d", n)
	}

	if _, err := f.svc.ApproveCondition(context.Background(), link.ID, "0xowner"); !errors.Is(err, ErrLinkTerminal) {
		t.Fatalf("expected ErrLinkTerminal on completed link, got %v", err)
	}
}

func TestApproveConditionRequiresManualEscrow(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	direct := mustCreateLink(t, f, directLinkRequest())

	if _, err := f.svc.ApproveCondition(context.Background(), direct.ID, "0xowner"); !errors.Is(err, ErrInvalidLinkKind) {
		t.Fatalf("expected ErrInvalidLinkKind, got %v", err)
	}
}

func TestSplitSettledDistributesShares(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, splitLinkRequest("50", "30", "20"))
	f.settledOrder("1000.00")

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}

	legs := f.txsOfKind(link.ID, entity.TransactionKindSplitDistribution)
	if len(legs) != 3 {
		t.Fatalf("expected three split transactions, got %d", len(legs))
	}
	expected := []string{"500.00", "300.00", "200.00"}
	total := decimal.Zero
	for i, leg := range legs {
		if !leg.Amount.Equal(decimal.RequireFromString(expected[i])) {
			t.Fatalf("leg %d: expected %s, got %s", i, expected[i], leg.Amount)
		}
		total = total.Add(leg.Amount)
	}
	if !total.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("expected legs to sum to 1000, got %s", total)
	}
	if stored := f.links.get(link.ID); stored.SettleAddress != "0xowner" {
		t.Fatalf("expected split settle address to be the owner, got %s", stored.SettleAddress)
	}
	if f.notifier.count(entity.EventSplitDistributed) != 1 {
		t.Fatal("expected split.distributed notification")
	}
}

func TestAllocateSplitGivesRemainderToLastRecipient(t *testing.T) {
	table := []entity.SplitRecipient{
		{Address: "0xa", Percentage: decimal.RequireFromString("33.33")},
		{Address: "0xb", Percentage: decimal.RequireFromString("33.33")},
		{Address: "0xc", Percentage: decimal.RequireFromString("33.34")},
	}

	legs := allocateSplit(decimal.RequireFromString("10.01"), table)
	expected := []string{"3.33", "3.33", "3.35"}
	total := decimal.Zero
	for i, leg := range legs {
		if !leg.Amount.Equal(decimal.RequireFromString(expected[i])) {
			t.Fatalf("leg %d: expected %s, got %s", i, expected[i], leg.Amount)
		}
		total = total.Add(leg.Amount)
	}
	if !total.Equal(decimal.RequireFromString("10.01")) {
		t.Fatalf("expected conservation of 10.01, got %s", total)
	}
}

func TestSplitPartialFailureCompletesWithManualReview(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.wallet.failFor["0xb"] = &wallet.TransferError{To: "0xb", Reason: "recipient blocked"}
	link := mustCreateLink(t, f, splitLinkRequest("50", "30", "20"))
	f.settledOrder("1000")

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
	if updated.BlockingReason != entity.BlockingManualReview {
		t.Fatalf("expected manual_review flag, got %s", updated.BlockingReason)
	}

	completed, failed := 0, 0
	for _, leg := range f.txsOfKind(link.ID, entity.TransactionKindSplitDistribution) {
		switch leg.Status {
		case entity.TransactionStatusCompleted:
			completed++
		case entity.TransactionStatusFailed:
			failed++
		}
	}
	if completed != 2 || failed != 1 {
		t.Fatalf("expected 2 completed and 1 failed legs, got %d/%d", completed, failed)
	}
	if f.events.count("settlement_alert") != 1 {
		t.Fatal("expected an operator alert for the failed leg")
	}
}

func TestDuplicateSettledWebhookReleasesOnce(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())
	f.swap.webhook = &provider.WebhookNotification{
		OrderID:      "shift-1",
		Status:       provider.StatusSettled,
		SettleAmount: decimal.NewNullDecimal(decimal.RequireFromString("50")),
	}
	req := &types.HandleSwapWebhookRequest{Provider: "sideshift", Payload: `{"id":"shift-1","status":"settled"}`}

	for i := 0; i < 2; i++ {
		result, err := f.svc.HandleSwapWebhook(context.Background(), req)
		if err != nil {
			t.Fatalf("webhook %d failed: %v", i, err)
		}
		if !result.LinkFound || result.LinkID != link.ID || result.NewStatus != entity.LinkStatusCompleted {
			t.Fatalf("webhook %d: unexpected result %+v", i, result)
		}
	}

	if n := len(f.txsOfKind(link.ID, entity.TransactionKindAutoRelease)); n != 1 {
		t.Fatalf("expected one auto_release transaction, got %d", n)
	}
	if f.wallet.transferCount() != 1 {
		t.Fatalf("expected one wallet transfer, got %d", f.wallet.transferCount())
	}
	if len(f.callbacks.callbacks) != 2 || f.callbacks.callbacks[1].Status != entity.ProviderCallbackProcessed {
		t.Fatalf("expected two processed callbacks, got %d", len(f.callbacks.callbacks))
	}
}

func TestWebhookForUnknownOrderIsIgnored(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.swap.webhook = &provider.WebhookNotification{OrderID: "shift-unknown", Status: provider.StatusSettled}

	result, err := f.svc.HandleSwapWebhook(context.Background(), &types.HandleSwapWebhookRequest{Provider: "sideshift", Payload: `{}`})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.LinkFound {
		t.Fatal("expected link not found")
	}
	if len(f.callbacks.callbacks) != 1 || f.callbacks.callbacks[0].Status != entity.ProviderCallbackIgnored {
		t.Fatal("expected ignored callback record")
	}
}

func TestWebhookWithBadSignatureIsRejected(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.swap.webhookErr = provider.ErrInvalidSignature

	_, err := f.svc.HandleSwapWebhook(context.Background(), &types.HandleSwapWebhookRequest{Provider: "sideshift", Signature: "bad", Payload: `{}`})
	if !errors.Is(err, ErrWebhookRejected) {
		t.Fatalf("expected ErrWebhookRejected, got %v", err)
	}
	if len(f.callbacks.callbacks) != 1 || f.callbacks.callbacks[0].Status != entity.ProviderCallbackRejected {
		t.Fatal("expected rejected callback record")
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())

	if _, err := f.svc.ApplyObservation(context.Background(), link.ID, Observation{Source: SourcePoll, Status: provider.StatusProcessing}); err != nil {
		t.Fatalf("apply processing failed: %v", err)
	}
	updated, err := f.svc.ApplyObservation(context.Background(), link.ID, Observation{Source: SourcePoll, Status: provider.StatusWaiting})
	if err != nil {
		t.Fatalf("apply waiting failed: %v", err)
	}
	if updated.Status != entity.LinkStatusProcessing {
		t.Fatalf("expected stale waiting to be rejected, got %s", updated.Status)
	}

	settled := Observation{
		Source:       SourceWebhook,
		Status:       provider.StatusSettled,
		SettleAmount: decimal.NewNullDecimal(decimal.RequireFromString("10")),
	}
	if _, err := f.svc.ApplyObservation(context.Background(), link.ID, settled); err != nil {
		t.Fatalf("apply settled failed: %v", err)
	}
	updated, err = f.svc.ApplyObservation(context.Background(), link.ID, Observation{
		Source:       SourcePoll,
		Status:       provider.StatusProcessing,
		SettleAmount: decimal.NewNullDecimal(decimal.RequireFromString("99")),
	})
	if err != nil {
		t.Fatalf("apply late processing failed: %v", err)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed to stick, got %s", updated.Status)
	}
	if !updated.SettledAmount.Decimal.Equal(decimal.RequireFromString("99")) {
		t.Fatalf("expected the late amount to be recorded, got %s", updated.SettledAmount.Decimal)
	}
	if stored := f.links.get(link.ID); stored.Status != entity.LinkStatusCompleted || !stored.SettledAmount.Decimal.Equal(decimal.RequireFromString("99")) {
		t.Fatalf("expected stored completed link with refined amount, got %s %s", stored.Status, stored.SettledAmount.Decimal)
	}
	releases := f.txsOfKind(link.ID, entity.TransactionKindAutoRelease)
	if len(releases) != 1 || !releases[0].Amount.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected the paid release to stay at 10, got %+v", releases)
	}
}

func TestUnknownProviderStatusLeavesLinkUnchanged(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())

	updated, err := f.svc.ApplyObservation(context.Background(), link.ID, Observation{Source: SourcePoll, Status: "teleporting"})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if updated.Status != entity.LinkStatusAwaitingDeposit {
		t.Fatalf("expected awaiting_deposit, got %s", updated.Status)
	}
}

func TestExpiredOrderFailsLink(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())

	updated, err := f.svc.ApplyObservation(context.Background(), link.ID, Observation{Source: SourcePoll, Status: provider.StatusExpired})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if updated.Status != entity.LinkStatusFailed {
		t.Fatalf("expected failed, got %s", updated.Status)
	}
	if f.notifier.count(entity.EventPaymentFailed) != 1 {
		t.Fatal("expected payment.failed notification")
	}
}

func TestSettledWithoutAmountWaits(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())

	updated, err := f.svc.ApplyObservation(context.Background(), link.ID, Observation{Source: SourceWebhook, Status: provider.StatusSettled})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if updated.Status != entity.LinkStatusAwaitingDeposit {
		t.Fatalf("expected status unchanged, got %s", updated.Status)
	}
	if updated.BlockingReason != entity.BlockingAwaitingSettling {
		t.Fatalf("expected awaiting_settle_amount, got %s", updated.BlockingReason)
	}
	if f.wallet.transferCount() != 0 {
		t.Fatal("expected no transfer without a settle amount")
	}
}

func TestTransferFailureRetriesOnNextSignal(t *testing.T) {
	cfg := testSettlementConfig()
	cfg.AlertAttemptThreshold = 2
	f := newSettlementFixture(cfg)
	f.wallet.failFor["0xmerchant"] = &wallet.TransferError{To: "0xmerchant", Reason: "insufficient gas"}
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("20")

	for i := 0; i < 3; i++ {
		updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
		if err != nil {
			t.Fatalf("reconcile %d failed: %v", i, err)
		}
		if updated.Status != entity.LinkStatusReleasing {
			t.Fatalf("reconcile %d: expected releasing, got %s", i, updated.Status)
		}
		if updated.BlockingReason != entity.BlockingTransferFailed {
			t.Fatalf("reconcile %d: expected transfer_failed, got %s", i, updated.BlockingReason)
		}
	}
	if f.events.count("settlement_alert") != 1 || f.notifier.count(entity.EventSettlementAlert) != 1 {
		t.Fatal("expected one alert when the attempt threshold was crossed")
	}

	delete(f.wallet.failFor, "0xmerchant")
	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("final reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed after retry, got %s", updated.Status)
	}

	completed := 0
	for _, tx := range f.txsOfKind(link.ID, entity.TransactionKindAutoRelease) {
		if tx.Status == entity.TransactionStatusCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed release, got %d", completed)
	}
	if stored := f.links.get(link.ID); stored.ReleaseAttempts != 4 {
		t.Fatalf("expected 4 release attempts, got %d", stored.ReleaseAttempts)
	}
}

func TestUnrecordedTransferBlocksRetry(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.txs.markCompletedErr = errors.New("connection reset")
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("20")

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status == entity.LinkStatusCompleted {
		t.Fatal("expected link not to complete while the ledger is inconsistent")
	}
	if updated.BlockingReason != entity.BlockingManualReview {
		t.Fatalf("expected manual_review, got %s", updated.BlockingReason)
	}

	f.txs.markCompletedErr = nil
	for i := 0; i < 5; i++ {
		if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); err != nil {
			t.Fatalf("reconcile %d failed: %v", i, err)
		}
	}

	stored := f.links.get(link.ID)
	if stored.Status != entity.LinkStatusReleasing || stored.BlockingReason != entity.BlockingManualReview {
		t.Fatalf("expected releasing under manual_review, got %s %s", stored.Status, stored.BlockingReason)
	}
	if stored.ReleaseAttempts != 1 {
		t.Fatalf("expected no new release claims, got %d attempts", stored.ReleaseAttempts)
	}
	if f.wallet.transferCount() != 1 {
		t.Fatalf("expected the pending leg to block a second transfer, got %d transfers", f.wallet.transferCount())
	}
	if n := f.events.count("reconciliation_inconsistency"); n != 1 {
		t.Fatalf("expected one inconsistency event, got %d", n)
	}
	if n := f.notifier.count(entity.EventSettlementAlert); n != 1 {
		t.Fatalf("expected one settlement alert, got %d", n)
	}
}

func TestReleaseEscrowExplainsPendingTransfer(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.txs.markCompletedErr = errors.New("connection reset")
	link := mustCreateLink(t, f, escrowLinkRequest("delivery", "WIN123456"))
	f.settledOrder("80")

	if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	_, _, err := f.svc.ReleaseEscrow(context.Background(), link.ID, "buyer asked")
	var releaseErr *ReleaseError
	if !errors.As(err, &releaseErr) || !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer ReleaseError, got %v", err)
	}
	if releaseErr.Guidance != pendingTransferGuidance {
		t.Fatalf("unexpected guidance %q", releaseErr.Guidance)
	}
	if f.wallet.transferCount() != 1 {
		t.Fatalf("expected no second transfer, got %d", f.wallet.transferCount())
	}
}

func pendingRelease(t *testing.T, f *settlementFixture, linkID string, kind entity.TransactionKind) *entity.Transaction {
	t.Helper()
	for _, tx := range f.txsOfKind(linkID, kind) {
		if tx.Status == entity.TransactionStatusPending {
			return tx
		}
	}
	t.Fatalf("expected a pending %s transaction", kind)
	return nil
}

func TestResolveTransactionCompletedFinishesLink(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.txs.markCompletedErr = errors.New("connection reset")
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("20")

	if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	f.txs.markCompletedErr = nil
	pending := pendingRelease(t, f, link.ID, entity.TransactionKindAutoRelease)

	updated, tx, err := f.svc.ResolveTransaction(context.Background(), &types.ResolveTransactionRequest{
		Id:            link.ID,
		TransactionId: pending.ID,
		Outcome:       "completed",
		ExternalRef:   "0xverified",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if tx.Status != entity.TransactionStatusCompleted || tx.ExternalRef == nil || *tx.ExternalRef != "0xverified" {
		t.Fatalf("unexpected resolved transaction %+v", tx)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
	if updated.BlockingReason != entity.BlockingNone {
		t.Fatalf("expected blocking reason cleared, got %s", updated.BlockingReason)
	}
	if f.wallet.transferCount() != 1 {
		t.Fatalf("expected no further transfer, got %d", f.wallet.transferCount())
	}
	if f.notifier.count(entity.EventPaymentCompleted) != 1 {
		t.Fatal("expected payment.completed once the link finished")
	}
	if f.events.count("transaction_resolved") != 1 {
		t.Fatal("expected transaction_resolved event")
	}
}

func TestResolveTransactionFailedRetriesTransfer(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.txs.markCompletedErr = errors.New("connection reset")
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("20")

	if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	f.txs.markCompletedErr = nil
	pending := pendingRelease(t, f, link.ID, entity.TransactionKindAutoRelease)

	updated, _, err := f.svc.ResolveTransaction(context.Background(), &types.ResolveTransactionRequest{
		Id:            link.ID,
		TransactionId: pending.ID,
		Outcome:       "failed",
		Reason:        "transfer never reached the chain",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if updated.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed after the retried transfer, got %s", updated.Status)
	}
	if f.wallet.transferCount() != 2 {
		t.Fatalf("expected the failed leg to be transferred again, got %d transfers", f.wallet.transferCount())
	}

	statuses := map[entity.TransactionStatus]int{}
	for _, tx := range f.txsOfKind(link.ID, entity.TransactionKindAutoRelease) {
		statuses[tx.Status]++
	}
	if statuses[entity.TransactionStatusFailed] != 1 || statuses[entity.TransactionStatusCompleted] != 1 || statuses[entity.TransactionStatusPending] != 0 {
		t.Fatalf("unexpected ledger %v", statuses)
	}
}

func TestResolveTransactionRejectsSettledRow(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("20")

	if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	release := f.txsOfKind(link.ID, entity.TransactionKindAutoRelease)[0]

	_, _, err := f.svc.ResolveTransaction(context.Background(), &types.ResolveTransactionRequest{
		Id:            link.ID,
		TransactionId: release.ID,
		Outcome:       "failed",
	})
	if !errors.Is(err, ErrTransactionNotPending) {
		t.Fatalf("expected ErrTransactionNotPending, got %v", err)
	}

	_, _, err = f.svc.ResolveTransaction(context.Background(), &types.ResolveTransactionRequest{
		Id:            link.ID,
		TransactionId: "missing",
		Outcome:       "failed",
	})
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestResolveTransactionValidatesOutcome(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.txs.markCompletedErr = errors.New("connection reset")
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("20")

	if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	f.txs.markCompletedErr = nil
	pending := pendingRelease(t, f, link.ID, entity.TransactionKindAutoRelease)

	for _, req := range []*types.ResolveTransactionRequest{
		{Id: link.ID, TransactionId: pending.ID, Outcome: "completed"},
		{Id: link.ID, TransactionId: pending.ID, Outcome: "maybe"},
	} {
		if _, _, err := f.svc.ResolveTransaction(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", req, err)
		}
	}
	if pendingRelease(t, f, link.ID, entity.TransactionKindAutoRelease).ID != pending.ID {
		t.Fatal("expected the pending row to stay untouched")
	}
}

func TestReconcileOrderNotFoundKeepsLink(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())

	updated, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if updated.Status != entity.LinkStatusAwaitingDeposit {
		t.Fatalf("expected awaiting_deposit, got %s", updated.Status)
	}

	f.swap.getErr = provider.ErrProviderUnavailable
	if _, err := f.svc.Reconcile(context.Background(), link.ID, SourcePoll); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestReconcileTerminalLinkSkipsProvider(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.links.put(&entity.PaymentLink{ID: "link-1", Kind: entity.LinkKindDirect, OrderRef: "shift-1", Status: entity.LinkStatusRefunded})

	updated, err := f.svc.Reconcile(context.Background(), "link-1", SourcePoll)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if updated.Status != entity.LinkStatusRefunded {
		t.Fatalf("expected refunded, got %s", updated.Status)
	}
	if f.swap.getCalls != 0 {
		t.Fatal("expected no provider call for a terminal link")
	}
}

func TestRunPollBatchReconcilesStaleLinks(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("15")
	f.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	if err := f.svc.RunPollBatch(context.Background()); err != nil {
		t.Fatalf("poll batch failed: %v", err)
	}
	if stored := f.links.get(link.ID); stored.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}

	if err := f.svc.RunPollBatch(context.Background()); err != nil {
		t.Fatalf("second poll batch failed: %v", err)
	}
	if f.swap.getCalls != 1 {
		t.Fatalf("expected terminal link to be skipped, got %d provider calls", f.swap.getCalls)
	}
}

func TestRunAlertScanBatchListsBlockedLinks(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	f.links.put(&entity.PaymentLink{ID: "link-1", Status: entity.LinkStatusReleasing, BlockingReason: entity.BlockingTransferFailed})

	if err := f.svc.RunAlertScanBatch(context.Background()); err != nil {
		t.Fatalf("alert scan failed: %v", err)
	}
}

func TestListLinksFiltersByOwner(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	mustCreateLink(t, f, directLinkRequest())
	other := directLinkRequest()
	other.Owner = "0xsomeone"
	mustCreateLink(t, f, other)

	items, err := f.svc.ListLinks(context.Background(), &types.ListLinksRequest{Owner: "0xowner"})
	if err != nil {
		t.Fatalf("list links failed: %v", err)
	}
	if len(items) != 1 || items[0].Owner != "0xowner" {
		t.Fatalf("expected one link for owner, got %d", len(items))
	}
}

func TestGetPairRejectsUnsupportedAsset(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())

	if _, err := f.svc.GetPair(context.Background(), "DOGE", "dogecoin"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	pair, err := f.svc.GetPair(context.Background(), "btc", "bitcoin")
	if err != nil {
		t.Fatalf("get pair failed: %v", err)
	}
	if pair.Settle.Coin != "USDC" || pair.Settle.Network != "base" {
		t.Fatalf("expected USDC on base, got %s/%s", pair.Settle.Coin, pair.Settle.Network)
	}
}

func TestConcurrentSignalsReleaseDirectLinkOnce(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("125.50")

	obs := Observation{
		Source:       SourceWebhook,
		Status:       provider.StatusSettled,
		SettleAmount: decimal.NewNullDecimal(decimal.RequireFromString("125.50")),
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				var err error
				if (worker+round)%2 == 0 {
					_, err = f.svc.ApplyObservation(context.Background(), link.ID, obs)
				} else {
					_, err = f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}(worker)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if stored := f.links.get(link.ID); stored.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if releases := f.txsOfKind(link.ID, entity.TransactionKindAutoRelease); len(releases) != 1 {
		t.Fatalf("expected one auto_release transaction, got %d", len(releases))
	}
	if deposits := f.txsOfKind(link.ID, entity.TransactionKindDeposit); len(deposits) != 1 {
		t.Fatalf("expected one deposit transaction, got %d", len(deposits))
	}
	if got := f.wallet.transferCount(); got != 1 {
		t.Fatalf("expected one transfer, got %d", got)
	}
	if f.notifier.count(entity.EventPaymentCompleted) != 1 {
		t.Fatalf("expected one completed notification, got %v", f.notifier.events)
	}
}

func TestConcurrentSignalsDistributeSplitOnce(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, splitLinkRequest("33.33", "33.33", "33.34"))
	f.settledOrder("1000.01")

	var wg sync.WaitGroup
	for worker := 0; worker < 6; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			if worker%2 == 0 {
				_, _ = f.svc.Reconcile(context.Background(), link.ID, SourcePoll)
				return
			}
			_, _ = f.svc.ApplyObservation(context.Background(), link.ID, Observation{
				Source:       SourceWebhook,
				Status:       provider.StatusSettled,
				SettleAmount: decimal.NewNullDecimal(decimal.RequireFromString("1000.01")),
			})
		}(worker)
	}
	wg.Wait()

	if stored := f.links.get(link.ID); stored.Status != entity.LinkStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	legs := f.txsOfKind(link.ID, entity.TransactionKindSplitDistribution)
	if len(legs) != 3 {
		t.Fatalf("expected three split transactions, got %d", len(legs))
	}
	total := decimal.Zero
	for _, leg := range legs {
		total = total.Add(leg.Amount)
	}
	if !total.Equal(decimal.RequireFromString("1000.01")) {
		t.Fatalf("expected legs to sum to 1000.01, got %s", total)
	}
	if got := f.wallet.transferCount(); got != 3 {
		t.Fatalf("expected three transfers, got %d", got)
	}
}

func TestReconcileCallerCancellationDoesNotAbortSharedRun(t *testing.T) {
	f := newSettlementFixture(testSettlementConfig())
	link := mustCreateLink(t, f, directLinkRequest())
	f.settledOrder("10")

	entered := make(chan struct{}, 4)
	hold := make(chan struct{})
	f.swap.mu.Lock()
	f.swap.entered = entered
	f.swap.hold = hold
	f.swap.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Reconcile(ctx, link.ID, SourcePoll)
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("expected the provider fetch to start")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the canceled caller to return")
	}
	close(hold)

	deadline := time.Now().Add(time.Second)
	for f.links.get(link.ID).Status != entity.LinkStatusCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("expected shared reconcile to complete the link, got %s", f.links.get(link.ID).Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.wallet.transferCount(); got != 1 {
		t.Fatalf("expected one transfer, got %d", got)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{in: "héllo", limit: 2, want: "h"},
		{in: "héllo", limit: 3, want: "hé"},
		{in: "short", limit: 10, want: "short"},
		{in: "€€", limit: 1, want: ""},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.limit); got != tc.want {
			t.Fatalf("truncate(%q, %d): expected %q, got %q", tc.in, tc.limit, tc.want, got)
		}
	}
}
