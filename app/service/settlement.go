package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/condition"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/provider"
	"github.com/vibast-solutions/ms-go-shiftstream/app/repository"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
	"github.com/vibast-solutions/ms-go-shiftstream/app/wallet"
	"github.com/vibast-solutions/ms-go-shiftstream/config"
	"golang.org/x/sync/singleflight"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)
)

var supportedDepositAssets = map[string]struct{}{
	"BTC/bitcoin":   {},
	"ETH/ethereum":  {},
	"USDT/tron":     {},
	"SOL/solana":    {},
	"MATIC/polygon": {},
	"USDC/ethereum": {},
}

var hundred = decimal.NewFromInt(100)

type createLinkRequest interface {
	GetKind() string
	GetOwner() string
	GetTitle() string
	GetSettleAddress() string
	GetRefundAddress() string
	GetNotifyEmail() string
	GetDepositCoin() string
	GetDepositNetwork() string
	GetExpectedAmount() string
	GetEscrowCondition() *types.EscrowCondition
	GetSplitTable() []*types.SplitRecipient
}

type listLinksRequest interface {
	GetOwner() string
	GetStatus() string
	GetBlockingReason() string
	GetLimit() int32
	GetOffset() int32
}

type linkRepository interface {
	Create(ctx context.Context, link *entity.PaymentLink) error
	FindByID(ctx context.Context, id string) (*entity.PaymentLink, error)
	FindByOrderRef(ctx context.Context, orderRef string) (*entity.PaymentLink, error)
	List(ctx context.Context, filter repository.LinkFilter) ([]*entity.PaymentLink, error)
	ListForPolling(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentLink, error)
	ListBlocked(ctx context.Context, reasons []entity.BlockingReason, limit int32) ([]*entity.PaymentLink, error)
	UpdateAmounts(ctx context.Context, id string, received, settled decimal.NullDecimal, now time.Time) error
	UpdateStatusIfCurrent(ctx context.Context, id string, expected entity.LinkStatus, update entity.LinkUpdate) (bool, error)
	ClaimRelease(ctx context.Context, id string, expected, claimed entity.LinkStatus, token string, until, now time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id, token string, reason entity.BlockingReason, detail *string, now time.Time) error
	SetBlocking(ctx context.Context, id string, reason entity.BlockingReason, detail *string, now time.Time) error
	MarkConditionApproved(ctx context.Context, id, approvedBy string, at time.Time) (bool, error)
}

type transactionRepository interface {
	Create(ctx context.Context, tx *entity.Transaction) error
	MarkCompleted(ctx context.Context, id, externalRef string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error)
	ListByLink(ctx context.Context, linkID string) ([]*entity.Transaction, error)
	ListByLinkAndKind(ctx context.Context, linkID string, kind entity.TransactionKind) ([]*entity.Transaction, error)
}

type linkEventRepository interface {
	Create(ctx context.Context, event *entity.LinkEvent) error
}

type providerCallbackRepository interface {
	Create(ctx context.Context, callback *entity.ProviderCallback) error
}

type notifier interface {
	Enqueue(ctx context.Context, link *entity.PaymentLink, event string, extra map[string]interface{}) error
}

type invoiceSettler interface {
	MarkPaidForLink(ctx context.Context, linkID string, at time.Time) error
}

type SettlementService struct {
	linkRepo     linkRepository
	txRepo       transactionRepository
	eventRepo    linkEventRepository
	callbackRepo providerCallbackRepository
	swap         provider.SwapProvider
	wallet       wallet.Wallet
	conditions   *condition.Registry
	notifier     notifier
	invoices     invoiceSettler
	cfg          config.SettlementConfig
	logger       logrus.FieldLogger
	inflight     singleflight.Group
	now          func() time.Time
}

func NewSettlementService(
	linkRepo linkRepository,
	txRepo transactionRepository,
	eventRepo linkEventRepository,
	callbackRepo providerCallbackRepository,
	swap provider.SwapProvider,
	settlementWallet wallet.Wallet,
	conditions *condition.Registry,
	notifier notifier,
	invoices invoiceSettler,
	cfg config.SettlementConfig,
) *SettlementService {
	if cfg.StatusFetchTimeout <= 0 {
		cfg.StatusFetchTimeout = 10 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Second
	}
	if cfg.ReleaseLeaseTTL <= 0 {
		cfg.ReleaseLeaseTTL = 5 * time.Minute
	}
	if cfg.SplitConcurrency <= 0 {
		cfg.SplitConcurrency = 4
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = 8
	}
	if strings.TrimSpace(cfg.SettleCoin) == "" {
		cfg.SettleCoin = "USDC"
	}
	if strings.TrimSpace(cfg.SettleNetwork) == "" {
		cfg.SettleNetwork = "base"
	}

	return &SettlementService{
		linkRepo:     linkRepo,
		txRepo:       txRepo,
		eventRepo:    eventRepo,
		callbackRepo: callbackRepo,
		swap:         swap,
		wallet:       settlementWallet,
		conditions:   conditions,
		notifier:     notifier,
		invoices:     invoices,
		cfg:          cfg,
		logger:       factory.NewModuleLogger("settlement-service"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *SettlementService) CreateLink(ctx context.Context, req createLinkRequest) (*entity.PaymentLink, error) {
	link, err := s.buildLink(req)
	if err != nil {
		return nil, err
	}

	account, err := s.wallet.CreateAccount(ctx, link.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	link.CustodyAddress = strings.ToLower(account.Address)

	refundAddress := ""
	if link.RefundAddress != nil {
		refundAddress = *link.RefundAddress
	}

	order, err := s.swap.CreateOrder(ctx, &provider.CreateOrderInput{
		Deposit:       provider.Asset{Coin: link.DepositCoin, Network: link.DepositNetwork},
		Settle:        s.settleAsset(),
		SettleAddress: link.CustodyAddress,
		RefundAddress: refundAddress,
	})
	if err != nil {
		if errors.Is(err, provider.ErrProviderUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrOrderCreation, err)
	}

	now := s.now()
	link.OrderRef = order.ID
	link.DepositAddress = order.DepositAddress
	link.DepositMin = order.DepositMin
	link.DepositMax = order.DepositMax
	link.Status = entity.LinkStatusAwaitingDeposit
	link.BlockingReason = entity.BlockingAwaitingDeposit
	link.CreatedAt = now
	link.UpdatedAt = now

	if err := s.linkRepo.Create(ctx, link); err != nil {
		return nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.LinkEvent{
		LinkID:    link.ID,
		EventType: "link_created",
		Source:    SourceAPI,
		NewStatus: link.Status,
		CreatedAt: now,
	})
	_ = s.notifier.Enqueue(ctx, link, entity.EventLinkCreated, nil)

	s.logger.WithFields(logrus.Fields{
		"link_id":   link.ID,
		"kind":      link.Kind,
		"order_ref": link.OrderRef,
	}).Info("Payment link created")

	return link, nil
}

func (s *SettlementService) buildLink(req createLinkRequest) (*entity.PaymentLink, error) {
	kind := entity.LinkKind(strings.ToLower(strings.TrimSpace(req.GetKind())))
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind must be direct, escrow, or split", ErrValidation)
	}

	owner := strings.ToLower(strings.TrimSpace(req.GetOwner()))
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}

	coin := strings.ToUpper(strings.TrimSpace(req.GetDepositCoin()))
	network := strings.ToLower(strings.TrimSpace(req.GetDepositNetwork()))
	if coin == "" || network == "" {
		return nil, fmt.Errorf("%w: deposit coin and network are required", ErrValidation)
	}
	if _, ok := supportedDepositAssets[coin+"/"+network]; !ok {
		return nil, fmt.Errorf("%w: unsupported deposit asset %s on %s", ErrValidation, coin, network)
	}

	link := &entity.PaymentLink{
		ID:             uuid.NewString(),
		Kind:           kind,
		Owner:          owner,
		Title:          normalizeOptionalString(req.GetTitle()),
		SettleAddress:  strings.ToLower(strings.TrimSpace(req.GetSettleAddress())),
		RefundAddress:  normalizeOptionalString(req.GetRefundAddress()),
		NotifyEmail:    normalizeOptionalString(req.GetNotifyEmail()),
		DepositCoin:    coin,
		DepositNetwork: network,
	}

	if raw := strings.TrimSpace(req.GetExpectedAmount()); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("%w: expected amount must be a positive decimal", ErrValidation)
		}
		link.ExpectedAmount = decimal.NewNullDecimal(amount)
	}

	switch kind {
	case entity.LinkKindSplit:
		table, err := parseSplitTable(req.GetSplitTable())
		if err != nil {
			return nil, err
		}
		link.SplitTable = table
		link.SettleAddress = owner
	case entity.LinkKindEscrow:
		if link.SettleAddress == "" {
			return nil, fmt.Errorf("%w: settle address is required", ErrValidation)
		}
		cond, err := s.parseEscrowCondition(req.GetEscrowCondition())
		if err != nil {
			return nil, err
		}
		link.EscrowCondition = cond
	default:
		if link.SettleAddress == "" {
			return nil, fmt.Errorf("%w: settle address is required", ErrValidation)
		}
	}

	return link, nil
}

func parseSplitTable(items []*types.SplitRecipient) ([]entity.SplitRecipient, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: split table is required", ErrValidation)
	}

	table := make([]entity.SplitRecipient, 0, len(items))
	total := decimal.Zero
	for i, item := range items {
		address := strings.ToLower(strings.TrimSpace(item.GetAddress()))
		if address == "" {
			return nil, fmt.Errorf("%w: split recipient %d has no address", ErrValidation, i)
		}
		pct, err := decimal.NewFromString(strings.TrimSpace(item.GetPercentage()))
		if err != nil || !pct.IsPositive() {
			return nil, fmt.Errorf("%w: split recipient %d percentage must be > 0", ErrValidation, i)
		}
		total = total.Add(pct)
		table = append(table, entity.SplitRecipient{
			Address:    address,
			Percentage: pct,
			Label:      strings.TrimSpace(item.GetLabel()),
		})
	}

	if !total.Equal(hundred) {
		return nil, fmt.Errorf("%w: split percentages must sum to 100, got %s", ErrValidation, total.String())
	}
	return table, nil
}

func (s *SettlementService) parseEscrowCondition(item *types.EscrowCondition) (*entity.EscrowCondition, error) {
	conditionType := strings.ToLower(strings.TrimSpace(item.GetType()))
	if conditionType == "" {
		return nil, fmt.Errorf("%w: escrow condition is required", ErrValidation)
	}
	if s.conditions != nil && !s.conditions.Supports(conditionType) {
		return nil, fmt.Errorf("%w: unsupported escrow condition type %s", ErrValidation, conditionType)
	}

	cond := &entity.EscrowCondition{
		Type:           conditionType,
		TrackingNumber: strings.TrimSpace(item.GetTrackingNumber()),
		Description:    strings.TrimSpace(item.GetDescription()),
	}

	switch conditionType {
	case entity.ConditionTypeDelivery:
		if cond.TrackingNumber == "" {
			return nil, fmt.Errorf("%w: delivery escrow requires a tracking number", ErrValidation)
		}
	case entity.ConditionTypeTime:
		raw := strings.TrimSpace(item.GetReleaseDate())
		if raw == "" {
			return nil, fmt.Errorf("%w: time escrow requires a release date", ErrValidation)
		}
		releaseDate, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: release date must be RFC3339", ErrValidation)
		}
		releaseDate = releaseDate.UTC()
		cond.ReleaseDate = &releaseDate
	}

	return cond, nil
}

func (s *SettlementService) GetLink(ctx context.Context, id string) (*entity.PaymentLink, error) {
	return s.reload(ctx, id)
}

func (s *SettlementService) ListLinks(ctx context.Context, req listLinksRequest) ([]*entity.PaymentLink, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultListLimit
	}

	return s.linkRepo.List(ctx, repository.LinkFilter{
		Owner:          strings.ToLower(strings.TrimSpace(req.GetOwner())),
		Status:         entity.LinkStatus(strings.TrimSpace(req.GetStatus())),
		BlockingReason: entity.BlockingReason(strings.TrimSpace(req.GetBlockingReason())),
		Limit:          limit,
		Offset:         req.GetOffset(),
	})
}

func (s *SettlementService) ListTransactions(ctx context.Context, linkID string) ([]*entity.Transaction, error) {
	if _, err := s.reload(ctx, linkID); err != nil {
		return nil, err
	}
	return s.txRepo.ListByLink(ctx, linkID)
}

// ApproveCondition records the owner's approval of a manual escrow condition
// and, when the deposit has settled, tries to release right away.
func (s *SettlementService) ApproveCondition(ctx context.Context, linkID, approvedBy string) (*entity.PaymentLink, error) {
	link, err := s.reload(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.Kind != entity.LinkKindEscrow {
		return nil, ErrInvalidLinkKind
	}
	if link.EscrowCondition == nil || link.EscrowCondition.Type != entity.ConditionTypeManual {
		return nil, fmt.Errorf("%w: link does not use a manual escrow condition", ErrValidation)
	}
	if link.Status.Terminal() {
		return link, ErrLinkTerminal
	}

	approvedBy = strings.ToLower(strings.TrimSpace(approvedBy))
	if approvedBy == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}

	now := s.now()
	approved, err := s.linkRepo.MarkConditionApproved(ctx, link.ID, approvedBy, now)
	if err != nil {
		return nil, err
	}
	if approved {
		link.ConditionApprovedAt = &now
		link.ConditionApprovedBy = &approvedBy
		s.recordEvent(ctx, link, "condition_approved", SourceAPI, nil, map[string]interface{}{"approved_by": approvedBy})
	}

	if link.Status != entity.LinkStatusConditionPending {
		return link, nil
	}

	updated, _, err := s.evaluateCondition(ctx, link, SourceAPI)
	if err != nil {
		return nil, err
	}
	if updated.Status != entity.LinkStatusConditionMet {
		return updated, nil
	}

	released, _, err := s.executeRelease(ctx, updated, SourceAPI)
	if err != nil {
		var releaseErr *ReleaseError
		if errors.As(err, &releaseErr) {
			return released, nil
		}
		return nil, err
	}
	return released, nil
}

func (s *SettlementService) CreateAccount(ctx context.Context, owner string) (*wallet.Account, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	account, err := s.wallet.CreateAccount(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	return account, nil
}

func (s *SettlementService) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return decimal.Zero, fmt.Errorf("%w: address is required", ErrValidation)
	}
	balance, err := s.wallet.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	return balance, nil
}

// GetPair returns the provider's limits and rate for converting the deposit
// asset into the settlement asset.
func (s *SettlementService) GetPair(ctx context.Context, coin, network string) (*provider.Pair, error) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	network = strings.ToLower(strings.TrimSpace(network))
	if _, ok := supportedDepositAssets[coin+"/"+network]; !ok {
		return nil, fmt.Errorf("%w: unsupported deposit asset %s on %s", ErrValidation, coin, network)
	}

	pair, err := s.swap.GetPair(ctx, provider.Asset{Coin: coin, Network: network}, s.settleAsset())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return pair, nil
}

func (s *SettlementService) settleAsset() provider.Asset {
	return provider.Asset{Coin: s.cfg.SettleCoin, Network: s.cfg.SettleNetwork}
}

func (s *SettlementService) reload(ctx context.Context, id string) (*entity.PaymentLink, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrLinkNotFound
	}
	link, err := s.linkRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (s *SettlementService) batchSize() int32 {
	if s.cfg.JobBatchSize > 0 {
		return s.cfg.JobBatchSize
	}
	return defaultBatchSize
}

func normalizeOptionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
