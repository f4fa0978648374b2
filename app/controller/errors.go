package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
)

// writeServiceError translates service errors into HTTP responses. Anything
// unrecognized is logged and reported as an internal error.
func writeServiceError(ctx echo.Context, logger logrus.FieldLogger, err error, operation string) error {
	var releaseErr *service.ReleaseError
	if errors.As(err, &releaseErr) {
		return ctx.JSON(releaseStatusCode(releaseErr), &types.ErrorResponse{
			Error:    releaseErr.Reason.Error(),
			Reason:   releaseErr.Detail,
			Guidance: releaseErr.Guidance,
		})
	}

	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidLinkKind):
		return writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrLinkNotFound):
		return writeError(ctx, http.StatusNotFound, "payment link not found")
	case errors.Is(err, service.ErrSubscriptionNotFound):
		return writeError(ctx, http.StatusNotFound, "webhook subscription not found")
	case errors.Is(err, service.ErrTransactionNotFound):
		return writeError(ctx, http.StatusNotFound, "transaction not found")
	case errors.Is(err, service.ErrInvoiceNotFound):
		return writeError(ctx, http.StatusNotFound, "invoice not found")
	case errors.Is(err, service.ErrLinkTerminal), errors.Is(err, service.ErrConditionNotMet), errors.Is(err, service.ErrDepositNotConfirmed),
		errors.Is(err, service.ErrTransactionNotPending):
		return writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrOrderCreation), errors.Is(err, service.ErrTransferFailed):
		logger.WithError(err).Warn(operation + " failed upstream")
		return writeError(ctx, http.StatusBadGateway, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable), errors.Is(err, service.ErrWalletUnavailable):
		logger.WithError(err).Warn(operation + " failed upstream")
		return writeError(ctx, http.StatusServiceUnavailable, err.Error())
	default:
		logger.WithError(err).Error(operation + " failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func releaseStatusCode(err *service.ReleaseError) int {
	if errors.Is(err, service.ErrTransferFailed) {
		return http.StatusBadGateway
	}
	return http.StatusConflict
}

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
