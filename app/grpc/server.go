package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-shiftstream/app/mapper"
	"github.com/vibast-solutions/ms-go-shiftstream/app/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server exposes the settlement operations over gRPC. Requests and responses
// travel as google.protobuf.Struct carrying the same JSON documents as the
// HTTP API.
type Server struct {
	settlementService   *service.SettlementService
	notificationService *service.NotificationService
	invoiceService      *service.InvoiceService
}

func NewServer(
	settlementService *service.SettlementService,
	notificationService *service.NotificationService,
	invoiceService *service.InvoiceService,
) *Server {
	return &Server{
		settlementService:   settlementService,
		notificationService: notificationService,
		invoiceService:      invoiceService,
	}
}

func (s *Server) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encodeResponse(&types.HealthResponse{Status: "ok"})
}

func (s *Server) CreateLink(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.CreateLinkRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		loggerWithContext(ctx).WithError(err).Debug("Create link validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.settlementService.CreateLink(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Create link")
	}

	return encodeResponse(&types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (s *Server) GetLink(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.GetLinkRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.settlementService.GetLink(ctx, req.GetId())
	if err != nil {
		return nil, statusFromError(ctx, err, "Get link")
	}

	return encodeResponse(&types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (s *Server) ListLinks(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ListLinksRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, err := s.settlementService.ListLinks(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "List links")
	}

	return encodeResponse(&types.ListLinksResponse{Links: mapper.LinksToProto(items)})
}

func (s *Server) ListTransactions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.GetLinkRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, err := s.settlementService.ListTransactions(ctx, req.GetId())
	if err != nil {
		return nil, statusFromError(ctx, err, "List transactions")
	}

	return encodeResponse(&types.ListTransactionsResponse{Transactions: mapper.TransactionsToProto(items)})
}

func (s *Server) ReconcileLink(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ReconcileLinkRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.settlementService.Reconcile(ctx, req.GetId(), service.SourceAPI)
	if err != nil {
		return nil, statusFromError(ctx, err, "Reconcile link")
	}

	return encodeResponse(&types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (s *Server) ReleaseEscrow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ReleaseEscrowRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, tx, err := s.settlementService.ReleaseEscrow(ctx, req.GetId(), req.GetReason())
	if err != nil {
		return nil, statusFromError(ctx, err, "Release escrow")
	}

	return encodeResponse(&types.ReleaseEscrowResponse{
		Link:        mapper.LinkToProto(item),
		Transaction: mapper.TransactionToProto(tx),
	})
}

func (s *Server) ResolveTransaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ResolveTransactionRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, tx, err := s.settlementService.ResolveTransaction(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Resolve transaction")
	}

	return encodeResponse(&types.ResolveTransactionResponse{
		Link:        mapper.LinkToProto(item),
		Transaction: mapper.TransactionToProto(tx),
	})
}

func (s *Server) ApproveCondition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ApproveConditionRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.settlementService.ApproveCondition(ctx, req.GetId(), req.GetApprovedBy())
	if err != nil {
		return nil, statusFromError(ctx, err, "Approve condition")
	}

	return encodeResponse(&types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (s *Server) GetPair(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.GetPairRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	pair, err := s.settlementService.GetPair(ctx, req.GetCoin(), req.GetNetwork())
	if err != nil {
		return nil, statusFromError(ctx, err, "Get pair")
	}

	return encodeResponse(mapper.PairToProto(pair))
}

func (s *Server) CreateAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.CreateAccountRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	account, err := s.settlementService.CreateAccount(ctx, req.GetOwner())
	if err != nil {
		return nil, statusFromError(ctx, err, "Create account")
	}

	return encodeResponse(mapper.AccountToProto(account))
}

func (s *Server) GetBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.GetBalanceRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	balance, err := s.settlementService.GetBalance(ctx, req.GetAddress())
	if err != nil {
		return nil, statusFromError(ctx, err, "Get balance")
	}

	return encodeResponse(&types.BalanceResponse{Address: req.GetAddress(), Balance: balance.String()})
}

func (s *Server) CreateWebhookSubscription(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.CreateWebhookSubscriptionRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	sub, err := s.notificationService.CreateSubscription(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Create webhook subscription")
	}

	return encodeResponse(&types.WebhookSubscriptionEnvelopeResponse{Subscription: mapper.SubscriptionToProto(sub, true)})
}

func (s *Server) ListWebhookSubscriptions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ListWebhookSubscriptionsRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, err := s.notificationService.ListSubscriptions(ctx, req.GetOwner())
	if err != nil {
		return nil, statusFromError(ctx, err, "List webhook subscriptions")
	}

	return encodeResponse(&types.ListWebhookSubscriptionsResponse{Subscriptions: mapper.SubscriptionsToProto(items)})
}

func (s *Server) UpdateWebhookSubscription(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.UpdateWebhookSubscriptionRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	sub, err := s.notificationService.UpdateSubscription(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Update webhook subscription")
	}

	return encodeResponse(&types.WebhookSubscriptionEnvelopeResponse{Subscription: mapper.SubscriptionToProto(sub, false)})
}

func (s *Server) DeleteWebhookSubscription(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.DeleteWebhookSubscriptionRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.notificationService.DeleteSubscription(ctx, req.GetId(), req.GetOwner()); err != nil {
		return nil, statusFromError(ctx, err, "Delete webhook subscription")
	}

	return encodeResponse(&types.MessageResponse{Message: "Webhook subscription deleted"})
}

func (s *Server) CreateInvoice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.CreateInvoiceRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.CreateInvoice(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Create invoice")
	}

	return encodeResponse(&types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func (s *Server) GetInvoice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.GetInvoiceRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.GetInvoice(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Get invoice")
	}

	return encodeResponse(&types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func (s *Server) ListInvoices(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ListInvoicesRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, err := s.invoiceService.ListInvoices(ctx, req.GetOwner())
	if err != nil {
		return nil, statusFromError(ctx, err, "List invoices")
	}

	return encodeResponse(&types.ListInvoicesResponse{Invoices: mapper.InvoicesToProto(items)})
}

func (s *Server) UpdateInvoiceStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.UpdateInvoiceStatusRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.UpdateInvoiceStatus(ctx, &req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Update invoice status")
	}

	return encodeResponse(&types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func statusFromError(ctx context.Context, err error, operation string) error {
	var releaseErr *service.ReleaseError
	if errors.As(err, &releaseErr) {
		code := codes.FailedPrecondition
		if errors.Is(err, service.ErrTransferFailed) {
			code = codes.Unavailable
		}
		message := releaseErr.Error()
		if releaseErr.Guidance != "" {
			message = fmt.Sprintf("%s (%s)", message, releaseErr.Guidance)
		}
		return status.Error(code, message)
	}

	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidLinkKind):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrLinkNotFound):
		return status.Error(codes.NotFound, "payment link not found")
	case errors.Is(err, service.ErrSubscriptionNotFound):
		return status.Error(codes.NotFound, "webhook subscription not found")
	case errors.Is(err, service.ErrTransactionNotFound):
		return status.Error(codes.NotFound, "transaction not found")
	case errors.Is(err, service.ErrInvoiceNotFound):
		return status.Error(codes.NotFound, "invoice not found")
	case errors.Is(err, service.ErrLinkTerminal), errors.Is(err, service.ErrConditionNotMet), errors.Is(err, service.ErrDepositNotConfirmed),
		errors.Is(err, service.ErrTransactionNotPending):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrOrderCreation), errors.Is(err, service.ErrProviderUnavailable),
		errors.Is(err, service.ErrWalletUnavailable), errors.Is(err, service.ErrTransferFailed):
		loggerWithContext(ctx).WithError(err).Warn(operation + " failed upstream")
		return status.Error(codes.Unavailable, err.Error())
	default:
		loggerWithContext(ctx).WithError(err).Error(operation + " failed")
		return status.Error(codes.Internal, "internal server error")
	}
}

func decodeRequest(in *structpb.Struct, target interface{}) error {
	if in == nil {
		return nil
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return status.Error(codes.InvalidArgument, "invalid request")
	}
	return nil
}

func encodeResponse(payload interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}
