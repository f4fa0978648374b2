package grpc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-shiftstream/app/condition"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/notify"
	"github.com/vibast-solutions/ms-go-shiftstream/app/provider"
	"github.com/vibast-solutions/ms-go-shiftstream/app/repository"
	"github.com/vibast-solutions/ms-go-shiftstream/app/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/wallet"
	"github.com/vibast-solutions/ms-go-shiftstream/config"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type grpcLinkRepo struct {
	createFn   func(ctx context.Context, link *entity.PaymentLink) error
	findByIDFn func(ctx context.Context, id string) (*entity.PaymentLink, error)
}

func (r *grpcLinkRepo) Create(ctx context.Context, link *entity.PaymentLink) error {
	if r.createFn != nil {
		return r.createFn(ctx, link)
	}
	return nil
}

func (r *grpcLinkRepo) FindByID(ctx context.Context, id string) (*entity.PaymentLink, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *grpcLinkRepo) FindByOrderRef(context.Context, string) (*entity.PaymentLink, error) {
	return nil, nil
}

func (r *grpcLinkRepo) List(context.Context, repository.LinkFilter) ([]*entity.PaymentLink, error) {
	return []*entity.PaymentLink{}, nil
}

func (r *grpcLinkRepo) ListForPolling(context.Context, time.Time, int32) ([]*entity.PaymentLink, error) {
	return []*entity.PaymentLink{}, nil
}

func (r *grpcLinkRepo) ListBlocked(context.Context, []entity.BlockingReason, int32) ([]*entity.PaymentLink, error) {
	return []*entity.PaymentLink{}, nil
}

func (r *grpcLinkRepo) UpdateAmounts(context.Context, string, decimal.NullDecimal, decimal.NullDecimal, time.Time) error {
	return nil
}

func (r *grpcLinkRepo) UpdateStatusIfCurrent(context.Context, string, entity.LinkStatus, entity.LinkUpdate) (bool, error) {
	return true, nil
}

func (r *grpcLinkRepo) ClaimRelease(context.Context, string, entity.LinkStatus, entity.LinkStatus, string, time.Time, time.Time) (bool, error) {
	return false, nil
}

func (r *grpcLinkRepo) ReleaseClaim(context.Context, string, string, entity.BlockingReason, *string, time.Time) error {
	return nil
}

func (r *grpcLinkRepo) SetBlocking(context.Context, string, entity.BlockingReason, *string, time.Time) error {
	return nil
}

func (r *grpcLinkRepo) MarkConditionApproved(context.Context, string, string, time.Time) (bool, error) {
	return true, nil
}

type grpcTxRepo struct{}

func (r *grpcTxRepo) Create(context.Context, *entity.Transaction) error { return nil }

func (r *grpcTxRepo) MarkCompleted(context.Context, string, string, time.Time) (bool, error) {
	return true, nil
}

func (r *grpcTxRepo) MarkFailed(context.Context, string, string, time.Time) (bool, error) {
	return true, nil
}

func (r *grpcTxRepo) ListByLink(context.Context, string) ([]*entity.Transaction, error) {
	return []*entity.Transaction{}, nil
}

func (r *grpcTxRepo) ListByLinkAndKind(context.Context, string, entity.TransactionKind) ([]*entity.Transaction, error) {
	return []*entity.Transaction{}, nil
}

type grpcEventRepo struct{}

func (r *grpcEventRepo) Create(context.Context, *entity.LinkEvent) error { return nil }

type grpcCallbackRepo struct{}

func (r *grpcCallbackRepo) Create(context.Context, *entity.ProviderCallback) error { return nil }

type grpcSwap struct {
	createErr error
}

func (p *grpcSwap) Name() string { return "sideshift" }

func (p *grpcSwap) CreateOrder(context.Context, *provider.CreateOrderInput) (*provider.Order, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &provider.Order{ID: "shift-1", Status: provider.StatusWaiting, DepositAddress: "bc1qdeposit"}, nil
}

func (p *grpcSwap) GetOrder(context.Context, string) (*provider.Order, error) {
	return nil, provider.ErrOrderNotFound
}

func (p *grpcSwap) GetPair(_ context.Context, deposit, settle provider.Asset) (*provider.Pair, error) {
	return &provider.Pair{Deposit: deposit, Settle: settle}, nil
}

func (p *grpcSwap) ParseWebhook([]byte, string) (*provider.WebhookNotification, error) {
	return nil, provider.ErrInvalidWebhook
}

type grpcWallet struct{}

func (w *grpcWallet) CreateAccount(context.Context, string) (*wallet.Account, error) {
	return &wallet.Account{Address: "0xcustody"}, nil
}

func (w *grpcWallet) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (w *grpcWallet) Transfer(context.Context, string, string, decimal.Decimal) (string, error) {
	return "0xtransfer", nil
}

type grpcNotifier struct{}

func (n *grpcNotifier) Enqueue(context.Context, *entity.PaymentLink, string, map[string]interface{}) error {
	return nil
}

type grpcInvoiceRepo struct{}

func (r *grpcInvoiceRepo) Create(context.Context, *entity.Invoice) error { return nil }

func (r *grpcInvoiceRepo) FindByID(context.Context, string) (*entity.Invoice, error) {
	return nil, nil
}

func (r *grpcInvoiceRepo) FindByNumber(context.Context, string) (*entity.Invoice, error) {
	return nil, nil
}

func (r *grpcInvoiceRepo) ListByOwner(context.Context, string) ([]*entity.Invoice, error) {
	return []*entity.Invoice{}, nil
}

func (r *grpcInvoiceRepo) UpdateStatus(context.Context, string, entity.InvoiceStatus, *time.Time, time.Time) (bool, error) {
	return false, nil
}

func (r *grpcInvoiceRepo) MarkPaidByLink(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func newGRPCServerForTest(repo *grpcLinkRepo, swap *grpcSwap) *Server {
	invoices := service.NewInvoiceService(&grpcInvoiceRepo{}, repo)
	settlement := service.NewSettlementService(
		repo,
		&grpcTxRepo{},
		&grpcEventRepo{},
		&grpcCallbackRepo{},
		swap,
		&grpcWallet{},
		condition.NewRegistry(condition.NewManualChecker(), condition.NewTimeChecker()),
		&grpcNotifier{},
		invoices,
		config.SettlementConfig{AlertAttemptThreshold: 3},
	)
	notifications := service.NewNotificationService(nil, nil, nil, repo, notify.NewWebhookSender(time.Second), notify.NewLogMailer(factory.NewModuleLogger("mailer")), config.NotificationsConfig{})
	return NewServer(settlement, notifications, invoices)
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	value, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build struct failed: %v", err)
	}
	return value
}

func TestCreateLinkInvalidArgument(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	_, err := srv.CreateLink(context.Background(), mustStruct(t, map[string]interface{}{"kind": "direct"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestCreateLinkSuccess(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	resp, err := srv.CreateLink(context.Background(), mustStruct(t, map[string]interface{}{
		"kind":            "split",
		"owner":           "0xOwner",
		"deposit_coin":    "eth",
		"deposit_network": "ethereum",
		"split_table": []interface{}{
			map[string]interface{}{"address": "0xa", "percentage": 60},
			map[string]interface{}{"address": "0xb", "percentage": "40"},
		},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	link := resp.GetFields()["link"].GetStructValue()
	if link == nil {
		t.Fatalf("expected link in response, got %v", resp)
	}
	if link.GetFields()["kind"].GetStringValue() != "split" || link.GetFields()["owner"].GetStringValue() != "0xowner" {
		t.Fatalf("unexpected link %v", link)
	}
	if len(link.GetFields()["split_table"].GetListValue().GetValues()) != 2 {
		t.Fatalf("expected two split recipients, got %v", link.GetFields()["split_table"])
	}
}

func TestCreateLinkProviderUnavailable(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{createErr: provider.ErrProviderUnavailable})

	_, err := srv.CreateLink(context.Background(), mustStruct(t, map[string]interface{}{
		"kind":            "direct",
		"owner":           "0xowner",
		"settle_address":  "0xmerchant",
		"deposit_coin":    "BTC",
		"deposit_network": "bitcoin",
	}))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestGetLinkNotFound(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	_, err := srv.GetLink(context.Background(), mustStruct(t, map[string]interface{}{"id": "missing"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestReleaseEscrowFailedPrecondition(t *testing.T) {
	now := time.Now().UTC()
	repo := &grpcLinkRepo{findByIDFn: func(context.Context, string) (*entity.PaymentLink, error) {
		return &entity.PaymentLink{
			ID:              "link-1",
			Kind:            entity.LinkKindEscrow,
			Status:          entity.LinkStatusProcessing,
			EscrowCondition: &entity.EscrowCondition{Type: entity.ConditionTypeManual},
			CreatedAt:       now,
			UpdatedAt:       now,
		}, nil
	}}
	srv := newGRPCServerForTest(repo, &grpcSwap{})

	_, err := srv.ReleaseEscrow(context.Background(), mustStruct(t, map[string]interface{}{"id": "link-1"}))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	if !strings.Contains(status.Convert(err).Message(), "deposit not confirmed") {
		t.Fatalf("unexpected message %q", status.Convert(err).Message())
	}
}

func TestReleaseEscrowRejectsDirectLink(t *testing.T) {
	repo := &grpcLinkRepo{findByIDFn: func(context.Context, string) (*entity.PaymentLink, error) {
		return &entity.PaymentLink{ID: "link-1", Kind: entity.LinkKindDirect, Status: entity.LinkStatusAwaitingDeposit}, nil
	}}
	srv := newGRPCServerForTest(repo, &grpcSwap{})

	_, err := srv.ReleaseEscrow(context.Background(), mustStruct(t, map[string]interface{}{"id": "link-1"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	resp, err := srv.Health(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.GetFields()["status"].GetStringValue() != "ok" {
		t.Fatalf("unexpected health response %v", resp)
	}
}

func TestServiceDescCoversServer(t *testing.T) {
	var _ SettlementServiceServer = (*Server)(nil)

	if len(settlementServiceDesc.Methods) != 20 {
		t.Fatalf("expected 20 methods, got %d", len(settlementServiceDesc.Methods))
	}
}

func TestResolveTransactionRejectsUnknownOutcome(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	_, err := srv.ResolveTransaction(context.Background(), mustStruct(t, map[string]interface{}{
		"id":             "link-1",
		"transaction_id": "tx-1",
		"outcome":        "retry",
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	_, err := srv.GetInvoice(context.Background(), mustStruct(t, map[string]interface{}{"number": "INV-MISSING"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCreateInvoiceComputesTotal(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	resp, err := srv.CreateInvoice(context.Background(), mustStruct(t, map[string]interface{}{
		"owner": "0xOwner",
		"items": []interface{}{
			map[string]interface{}{"description": "Audit", "quantity": 3, "unit_price": "12.5"},
		},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	invoice := resp.GetFields()["invoice"].GetStructValue().GetFields()
	if invoice["total"].GetStringValue() != "37.5" || invoice["currency"].GetStringValue() != "USD" {
		t.Fatalf("unexpected invoice %v", invoice)
	}
}

func TestUpdateInvoiceStatusRejectsUnknownStatus(t *testing.T) {
	srv := newGRPCServerForTest(&grpcLinkRepo{}, &grpcSwap{})

	_, err := srv.UpdateInvoiceStatus(context.Background(), mustStruct(t, map[string]interface{}{
		"id": "inv-1", "owner": "0xowner", "status": "archived",
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}
