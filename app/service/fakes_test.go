package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-shiftstream/app/condition"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/notify"
	"github.com/vibast-solutions/ms-go-shiftstream/app/provider"
	"github.com/vibast-solutions/ms-go-shiftstream/app/repository"
	"github.com/vibast-solutions/ms-go-shiftstream/app/wallet"
	"github.com/vibast-solutions/ms-go-shiftstream/config"
)

type serviceLinkRepo struct {
	mu    sync.Mutex
	links map[string]*entity.PaymentLink
}

func newServiceLinkRepo() *serviceLinkRepo {
	return &serviceLinkRepo{links: map[string]*entity.PaymentLink{}}
}

func (r *serviceLinkRepo) put(link *entity.PaymentLink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *link
	r.links[link.ID] = &copyItem
}

func (r *serviceLinkRepo) get(id string) *entity.PaymentLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.links[id]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (r *serviceLinkRepo) Create(_ context.Context, link *entity.PaymentLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[link.ID]; ok {
		return repository.ErrLinkAlreadyExists
	}
	copyItem := *link
	r.links[link.ID] = &copyItem
	return nil
}

func (r *serviceLinkRepo) FindByID(_ context.Context, id string) (*entity.PaymentLink, error) {
	return r.get(id), nil
}

func (r *serviceLinkRepo) FindByOrderRef(_ context.Context, orderRef string) (*entity.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.links {
		if item.OrderRef == orderRef {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceLinkRepo) List(_ context.Context, filter repository.LinkFilter) ([]*entity.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentLink, 0)
	for _, item := range r.links {
		if filter.Owner != "" && item.Owner != filter.Owner {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.BlockingReason != "" && item.BlockingReason != filter.BlockingReason {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	start := int(filter.Offset)
	if start > len(items) {
		return []*entity.PaymentLink{}, nil
	}
	items = items[start:]
	return limitItems(items, filter.Limit), nil
}

func (r *serviceLinkRepo) ListForPolling(_ context.Context, before time.Time, limit int32) ([]*entity.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentLink, 0)
	for _, item := range r.links {
		if !item.Status.Terminal() && item.OrderRef != "" && !item.UpdatedAt.After(before) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return limitItems(items, limit), nil
}

func (r *serviceLinkRepo) ListBlocked(_ context.Context, reasons []entity.BlockingReason, limit int32) ([]*entity.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentLink, 0)
	for _, item := range r.links {
		for _, reason := range reasons {
			if item.BlockingReason == reason {
				copyItem := *item
				items = append(items, &copyItem)
				break
			}
		}
	}
	return limitItems(items, limit), nil
}

func (r *serviceLinkRepo) UpdateAmounts(_ context.Context, id string, received, settled decimal.NullDecimal, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.links[id]
	if !ok {
		return nil
	}
	if received.Valid {
		item.ReceivedAmount = received
	}
	if settled.Valid {
		item.SettledAmount = settled
	}
	item.UpdatedAt = now
	return nil
}

func (r *serviceLinkRepo) UpdateStatusIfCurrent(_ context.Context, id string, expected entity.LinkStatus, update entity.LinkUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.links[id]
	if !ok || item.Status != expected {
		return false, nil
	}
	item.Status = update.Status
	item.UpdatedAt = update.UpdatedAt
	if update.BlockingReason != nil {
		item.BlockingReason = *update.BlockingReason
	}
	if update.BlockingDetail != nil {
		detail := *update.BlockingDetail
		item.BlockingDetail = &detail
	}
	if update.ConditionMetAt != nil {
		item.ConditionMetAt = update.ConditionMetAt
	}
	if update.ClearReleaseClaim {
		item.ReleaseClaimToken = nil
		item.ReleaseClaimExpiresAt = nil
	}
	return true, nil
}

func (r *serviceLinkRepo) ClaimRelease(_ context.Context, id string, expected, claimed entity.LinkStatus, token string, until, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.links[id]
	if !ok || item.Status != expected {
		return false, nil
	}
	if item.ReleaseClaimExpiresAt != nil && !item.ReleaseClaimExpiresAt.Before(now) {
		return false, nil
	}
	item.Status = claimed
	item.ReleaseClaimToken = &token
	item.ReleaseClaimExpiresAt = &until
	item.ReleaseAttempts++
	item.UpdatedAt = now
	return true, nil
}

func (r *serviceLinkRepo) ReleaseClaim(_ context.Context, id, token string, reason entity.BlockingReason, detail *string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.links[id]
	if !ok || item.ReleaseClaimToken == nil || *item.ReleaseClaimToken != token {
		return nil
	}
	item.ReleaseClaimToken = nil
	item.ReleaseClaimExpiresAt = nil
	item.BlockingReason = reason
	item.BlockingDetail = detail
	item.UpdatedAt = now
	return nil
}

func (r *serviceLinkRepo) SetBlocking(_ context.Context, id string, reason entity.BlockingReason, detail *string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.links[id]
	if !ok || item.Status.Terminal() {
		return nil
	}
	item.BlockingReason = reason
	item.BlockingDetail = detail
	item.UpdatedAt = now
	return nil
}

func (r *serviceLinkRepo) MarkConditionApproved(_ context.Context, id, approvedBy string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.links[id]
	if !ok || item.ConditionApprovedAt != nil {
		return false, nil
	}
	item.ConditionApprovedAt = &at
	item.ConditionApprovedBy = &approvedBy
	item.UpdatedAt = at
	return true, nil
}

func limitItems(items []*entity.PaymentLink, limit int32) []*entity.PaymentLink {
	if limit <= 0 || int(limit) >= len(items) {
		return items
	}
	return items[:limit]
}

type serviceTxRepo struct {
	mu                sync.Mutex
	txs               []*entity.Transaction
	markCompletedErr  error
	createErrForLegTo string
}

func (r *serviceTxRepo) Create(_ context.Context, tx *entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErrForLegTo != "" && tx.Recipient == r.createErrForLegTo {
		return errors.New("ledger write failed")
	}
	copyItem := *tx
	r.txs = append(r.txs, &copyItem)
	return nil
}

func (r *serviceTxRepo) MarkCompleted(_ context.Context, id, externalRef string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markCompletedErr != nil {
		return false, r.markCompletedErr
	}
	for _, item := range r.txs {
		if item.ID == id && item.Status == entity.TransactionStatusPending {
			ref := externalRef
			item.Status = entity.TransactionStatusCompleted
			item.ExternalRef = &ref
			item.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (r *serviceTxRepo) MarkFailed(_ context.Context, id, reason string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.txs {
		if item.ID == id && item.Status == entity.TransactionStatusPending {
			msg := reason
			item.Status = entity.TransactionStatusFailed
			item.Error = &msg
			item.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (r *serviceTxRepo) ListByLink(_ context.Context, linkID string) ([]*entity.Transaction, error) {
	return r.byLink(linkID, ""), nil
}

func (r *serviceTxRepo) ListByLinkAndKind(_ context.Context, linkID string, kind entity.TransactionKind) ([]*entity.Transaction, error) {
	return r.byLink(linkID, kind), nil
}

func (r *serviceTxRepo) byLink(linkID string, kind entity.TransactionKind) []*entity.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Transaction, 0)
	for _, item := range r.txs {
		if item.LinkID != linkID {
			continue
		}
		if kind != "" && item.Kind != kind {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Leg < items[j].Leg })
	return items
}

type serviceEventRepo struct {
	mu     sync.Mutex
	events []*entity.LinkEvent
}

func (r *serviceEventRepo) Create(_ context.Context, event *entity.LinkEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *event
	r.events = append(r.events, &copyItem)
	return nil
}

func (r *serviceEventRepo) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, item := range r.events {
		if item.EventType == eventType {
			total++
		}
	}
	return total
}

type serviceCallbackRepo struct {
	callbacks []*entity.ProviderCallback
}

func (r *serviceCallbackRepo) Create(_ context.Context, callback *entity.ProviderCallback) error {
	copyItem := *callback
	r.callbacks = append(r.callbacks, &copyItem)
	return nil
}

type serviceSwap struct {
	mu          sync.Mutex
	createCalls int
	getCalls    int
	createErr   error
	order       *provider.Order
	getErr      error
	webhook     *provider.WebhookNotification
	webhookErr  error
	entered     chan struct{}
	hold        chan struct{}
}

func (p *serviceSwap) Name() string {
	return "sideshift"
}

func (p *serviceSwap) CreateOrder(_ context.Context, input *provider.CreateOrderInput) (*provider.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &provider.Order{
		ID:             "shift-1",
		Status:         provider.StatusWaiting,
		DepositAddress: "bc1qdeposit",
		DepositMin:     decimal.NewNullDecimal(decimal.RequireFromString("0.0001")),
		DepositMax:     decimal.NewNullDecimal(decimal.RequireFromString("2")),
	}, nil
}

func (p *serviceSwap) GetOrder(ctx context.Context, _ string) (*provider.Order, error) {
	p.mu.Lock()
	entered, hold := p.entered, p.hold
	p.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.getErr != nil {
		return nil, p.getErr
	}
	if p.order == nil {
		return nil, provider.ErrOrderNotFound
	}
	copyItem := *p.order
	return &copyItem, nil
}

func (p *serviceSwap) GetPair(_ context.Context, deposit, settle provider.Asset) (*provider.Pair, error) {
	return &provider.Pair{
		Deposit: deposit,
		Settle:  settle,
		Min:     decimal.RequireFromString("0.0001"),
		Max:     decimal.RequireFromString("2"),
		Rate:    decimal.RequireFromString("65000"),
	}, nil
}

func (p *serviceSwap) ParseWebhook([]byte, string) (*provider.WebhookNotification, error) {
	if p.webhookErr != nil {
		return nil, p.webhookErr
	}
	return p.webhook, nil
}

type walletTransfer struct {
	From   string
	To     string
	Amount decimal.Decimal
}

type serviceWallet struct {
	mu        sync.Mutex
	transfers []walletTransfer
	failFor   map[string]error
	createErr error
}

func (w *serviceWallet) CreateAccount(_ context.Context, owner string) (*wallet.Account, error) {
	if w.createErr != nil {
		return nil, w.createErr
	}
	return &wallet.Account{Address: "0xCUSTODY", IsDeployed: true, Balance: decimal.Zero}, nil
}

func (w *serviceWallet) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("42.5"), nil
}

func (w *serviceWallet) Transfer(_ context.Context, from, to string, amount decimal.Decimal) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err, ok := w.failFor[to]; ok && err != nil {
		return "", err
	}
	w.transfers = append(w.transfers, walletTransfer{From: from, To: to, Amount: amount})
	return "0xtransfer" + to, nil
}

func (w *serviceWallet) transferCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.transfers)
}

type serviceNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *serviceNotifier) Enqueue(_ context.Context, _ *entity.PaymentLink, event string, _ map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *serviceNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, item := range n.events {
		if item == event {
			total++
		}
	}
	return total
}

type settlementFixture struct {
	links     *serviceLinkRepo
	txs       *serviceTxRepo
	events    *serviceEventRepo
	callbacks *serviceCallbackRepo
	swap      *serviceSwap
	wallet    *serviceWallet
	notifier  *serviceNotifier
	invoices  *serviceInvoiceRepo
	billing   *InvoiceService
	svc       *SettlementService
}

func testSettlementConfig() config.SettlementConfig {
	return config.SettlementConfig{
		SettleCoin:            "USDC",
		SettleNetwork:         "base",
		StatusFetchTimeout:    time.Second,
		TransferTimeout:       time.Second,
		ReleaseLeaseTTL:       time.Minute,
		AlertAttemptThreshold: 3,
		AutoEscrowEvaluation:  true,
		SplitConcurrency:      2,
		PollStaleAfter:        time.Second,
		PollConcurrency:       2,
		JobBatchSize:          100,
	}
}

func newSettlementFixture(cfg config.SettlementConfig) *settlementFixture {
	f := &settlementFixture{
		links:     newServiceLinkRepo(),
		txs:       &serviceTxRepo{},
		events:    &serviceEventRepo{},
		callbacks: &serviceCallbackRepo{},
		swap:      &serviceSwap{},
		wallet:    &serviceWallet{failFor: map[string]error{}},
		notifier:  &serviceNotifier{},
		invoices:  newServiceInvoiceRepo(),
	}
	f.billing = NewInvoiceService(f.invoices, f.links)
	registry := condition.NewRegistry(
		condition.NewDeliveryChecker(condition.NewPrefixTracker()),
		condition.NewManualChecker(),
		condition.NewTimeChecker(),
	)
	f.svc = NewSettlementService(f.links, f.txs, f.events, f.callbacks, f.swap, f.wallet, registry, f.notifier, f.billing, cfg)
	return f
}

func (f *settlementFixture) settledOrder(amount string) {
	f.swap.mu.Lock()
	defer f.swap.mu.Unlock()
	hash := "0xsettlehash"
	f.swap.order = &provider.Order{
		ID:            "shift-1",
		Status:        provider.StatusSettled,
		DepositAmount: decimal.NewNullDecimal(decimal.RequireFromString("0.002")),
		SettleAmount:  decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		SettleHash:    &hash,
	}
}

func (f *settlementFixture) txsOfKind(linkID string, kind entity.TransactionKind) []*entity.Transaction {
	return f.txs.byLink(linkID, kind)
}

type recordingSender struct {
	mu       sync.Mutex
	calls    []string
	failURLs map[string]bool
}

func (s *recordingSender) Send(_ context.Context, url, _, _ string, payload *notify.WebhookPayload) notify.DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, url+"|"+payload.Event)
	if s.failURLs[url] {
		return notify.DeliveryResult{StatusCode: 500, Err: errors.New("endpoint responded with status 500")}
	}
	return notify.DeliveryResult{StatusCode: 200, Success: true}
}

type recordingMailer struct {
	messages []*notify.EmailMessage
}

func (m *recordingMailer) Send(_ context.Context, msg *notify.EmailMessage) error {
	m.messages = append(m.messages, msg)
	return nil
}

type serviceInvoiceRepo struct {
	mu        sync.Mutex
	invoices  map[string]*entity.Invoice
	createErr []error
}

func newServiceInvoiceRepo() *serviceInvoiceRepo {
	return &serviceInvoiceRepo{invoices: map[string]*entity.Invoice{}}
}

func (r *serviceInvoiceRepo) get(id string) *entity.Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.invoices[id]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (r *serviceInvoiceRepo) Create(_ context.Context, invoice *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.createErr) > 0 {
		err := r.createErr[0]
		r.createErr = r.createErr[1:]
		if err != nil {
			return err
		}
	}
	for _, item := range r.invoices {
		if item.Number == invoice.Number {
			return repository.ErrDuplicateInvoiceNumber
		}
	}
	copyItem := *invoice
	r.invoices[invoice.ID] = &copyItem
	return nil
}

func (r *serviceInvoiceRepo) FindByID(_ context.Context, id string) (*entity.Invoice, error) {
	return r.get(id), nil
}

func (r *serviceInvoiceRepo) FindByNumber(_ context.Context, number string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.invoices {
		if item.Number == number {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceInvoiceRepo) ListByOwner(_ context.Context, owner string) ([]*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Invoice, 0)
	for _, item := range r.invoices {
		if item.Owner == owner {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (r *serviceInvoiceRepo) UpdateStatus(_ context.Context, id string, status entity.InvoiceStatus, paidAt *time.Time, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.invoices[id]
	if !ok {
		return false, nil
	}
	item.Status = status
	if paidAt != nil {
		item.PaidAt = paidAt
	}
	item.UpdatedAt = now
	return true, nil
}

func (r *serviceInvoiceRepo) MarkPaidByLink(_ context.Context, linkID string, paidAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected int64
	for _, item := range r.invoices {
		if item.LinkID == nil || *item.LinkID != linkID {
			continue
		}
		if item.Status != entity.InvoiceStatusPending && item.Status != entity.InvoiceStatusOverdue {
			continue
		}
		at := paidAt
		item.Status = entity.InvoiceStatusPaid
		item.PaidAt = &at
		item.UpdatedAt = paidAt
		affected++
	}
	return affected, nil
}
