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

type InvoiceController struct {
	invoiceService *service.InvoiceService
	logger         logrus.FieldLogger
}

func NewInvoiceController(invoiceService *service.InvoiceService) *InvoiceController {
	return &InvoiceController{
		invoiceService: invoiceService,
		logger:         factory.NewModuleLogger("invoices-controller"),
	}
}

func (c *InvoiceController) CreateInvoice(ctx echo.Context) error {
	req, err := types.NewCreateInvoiceRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.CreateInvoice(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Create invoice")
	}

	return ctx.JSON(http.StatusCreated, &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func (c *InvoiceController) GetInvoice(ctx echo.Context) error {
	req, err := types.NewGetInvoiceRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.GetInvoice(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Get invoice")
	}

	return ctx.JSON(http.StatusOK, &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func (c *InvoiceController) ListInvoices(ctx echo.Context) error {
	req, err := types.NewListInvoicesRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.invoiceService.ListInvoices(ctx.Request().Context(), req.GetOwner())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "List invoices")
	}

	return ctx.JSON(http.StatusOK, &types.ListInvoicesResponse{Invoices: mapper.InvoicesToProto(items)})
}

func (c *InvoiceController) UpdateInvoiceStatus(ctx echo.Context) error {
	req, err := types.NewUpdateInvoiceStatusRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.UpdateInvoiceStatus(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Update invoice status")
	}

	return ctx.JSON(http.StatusOK, &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}
