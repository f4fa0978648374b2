package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/mapper"
	"github.com/vibast-solutions/ms-go-shiftstream/app/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
)

const providerSideShift = "sideshift"

type WebhookController struct {
	settlementService   *service.SettlementService
	notificationService *service.NotificationService
	logger              logrus.FieldLogger
}

func NewWebhookController(settlementService *service.SettlementService, notificationService *service.NotificationService) *WebhookController {
	return &WebhookController{
		settlementService:   settlementService,
		notificationService: notificationService,
		logger:              factory.NewModuleLogger("webhooks-controller"),
	}
}

// HandleSideShift acknowledges every well-formed provider callback, including
// ones for orders this service does not know. Provider retries are only
// triggered by 5xx responses.
func (c *WebhookController) HandleSideShift(ctx echo.Context) error {
	req, err := types.NewHandleSwapWebhookRequestFromContext(ctx, providerSideShift)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.settlementService.HandleSwapWebhook(ctx.Request().Context(), req)
	if err != nil {
		l := factory.LoggerWithContext(c.logger, ctx)
		if errors.Is(err, service.ErrWebhookRejected) {
			l.WithError(err).Warn("Swap webhook rejected")
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		l.WithError(err).Error("Handle swap webhook failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	if !result.LinkFound {
		return ctx.JSON(http.StatusOK, &types.SwapWebhookResponse{Received: true, Status: "link_not_found"})
	}

	return ctx.JSON(http.StatusOK, &types.SwapWebhookResponse{
		Received:  true,
		LinkId:    result.LinkID,
		NewStatus: string(result.NewStatus),
	})
}

func (c *WebhookController) CreateSubscription(ctx echo.Context) error {
	req, err := types.NewCreateWebhookSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	sub, err := c.notificationService.CreateSubscription(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Create webhook subscription")
	}

	return ctx.JSON(http.StatusCreated, &types.WebhookSubscriptionEnvelopeResponse{
		Subscription: mapper.SubscriptionToProto(sub, true),
		Message:      "Store the secret securely. It will not be shown again.",
	})
}

func (c *WebhookController) ListSubscriptions(ctx echo.Context) error {
	req, err := types.NewListWebhookSubscriptionsRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.notificationService.ListSubscriptions(ctx.Request().Context(), req.GetOwner())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "List webhook subscriptions")
	}

	return ctx.JSON(http.StatusOK, &types.ListWebhookSubscriptionsResponse{Subscriptions: mapper.SubscriptionsToProto(items)})
}

func (c *WebhookController) UpdateSubscription(ctx echo.Context) error {
	req, err := types.NewUpdateWebhookSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	sub, err := c.notificationService.UpdateSubscription(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Update webhook subscription")
	}

	return ctx.JSON(http.StatusOK, &types.WebhookSubscriptionEnvelopeResponse{Subscription: mapper.SubscriptionToProto(sub, false)})
}

func (c *WebhookController) DeleteSubscription(ctx echo.Context) error {
	req, err := types.NewDeleteWebhookSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.notificationService.DeleteSubscription(ctx.Request().Context(), req.GetId(), req.GetOwner()); err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Delete webhook subscription")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Webhook subscription deleted"})
}
