package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/mapper"
	"github.com/vibast-solutions/ms-go-shiftstream/app/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
)

type LinkController struct {
	settlementService *service.SettlementService
	logger            logrus.FieldLogger
}

func NewLinkController(settlementService *service.SettlementService) *LinkController {
	return &LinkController{
		settlementService: settlementService,
		logger:            factory.NewModuleLogger("links-controller"),
	}
}

func (c *LinkController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *LinkController) CreateLink(ctx echo.Context) error {
	req, err := types.NewCreateLinkRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.settlementService.CreateLink(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Create link")
	}

	return ctx.JSON(http.StatusCreated, &types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (c *LinkController) GetLink(ctx echo.Context) error {
	req, err := types.NewGetLinkRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.settlementService.GetLink(ctx.Request().Context(), req.GetId())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Get link")
	}

	return ctx.JSON(http.StatusOK, &types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (c *LinkController) ListLinks(ctx echo.Context) error {
	req, err := types.NewListLinksRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.settlementService.ListLinks(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "List links")
	}

	return ctx.JSON(http.StatusOK, &types.ListLinksResponse{Links: mapper.LinksToProto(items)})
}

func (c *LinkController) ListTransactions(ctx echo.Context) error {
	req, err := types.NewGetLinkRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.settlementService.ListTransactions(ctx.Request().Context(), req.GetId())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "List transactions")
	}

	return ctx.JSON(http.StatusOK, &types.ListTransactionsResponse{Transactions: mapper.TransactionsToProto(items)})
}

func (c *LinkController) ReconcileLink(ctx echo.Context) error {
	req, err := types.NewReconcileLinkRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.settlementService.Reconcile(ctx.Request().Context(), req.GetId(), service.SourceAPI)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Reconcile link")
	}

	return ctx.JSON(http.StatusOK, &types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (c *LinkController) ReleaseEscrow(ctx echo.Context) error {
	req, err := types.NewReleaseEscrowRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, tx, err := c.settlementService.ReleaseEscrow(ctx.Request().Context(), req.GetId(), req.GetReason())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Release escrow")
	}

	return ctx.JSON(http.StatusOK, &types.ReleaseEscrowResponse{
		Link:        mapper.LinkToProto(item),
		Transaction: mapper.TransactionToProto(tx),
	})
}

func (c *LinkController) ApproveCondition(ctx echo.Context) error {
	req, err := types.NewApproveConditionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.settlementService.ApproveCondition(ctx.Request().Context(), req.GetId(), req.GetApprovedBy())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Approve condition")
	}

	return ctx.JSON(http.StatusOK, &types.LinkEnvelopeResponse{Link: mapper.LinkToProto(item)})
}

func (c *LinkController) ResolveTransaction(ctx echo.Context) error {
	req, err := types.NewResolveTransactionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, tx, err := c.settlementService.ResolveTransaction(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Resolve transaction")
	}

	return ctx.JSON(http.StatusOK, &types.ResolveTransactionResponse{
		Link:        mapper.LinkToProto(item),
		Transaction: mapper.TransactionToProto(tx),
	})
}
