package types

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

func NewCreateInvoiceRequestFromContext(ctx echo.Context) (*CreateInvoiceRequest, error) {
	var body CreateInvoiceRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Normalize()
	return &body, nil
}

func (r *CreateInvoiceRequest) Normalize() {
	r.Owner = strings.ToLower(strings.TrimSpace(r.Owner))
	r.LinkId = strings.TrimSpace(r.LinkId)
	r.ClientName = strings.TrimSpace(r.ClientName)
	r.ClientEmail = strings.TrimSpace(r.ClientEmail)
	r.Notes = strings.TrimSpace(r.Notes)
	r.DueDate = strings.TrimSpace(r.DueDate)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	for _, item := range r.Items {
		if item != nil {
			item.Description = strings.TrimSpace(item.Description)
		}
	}
}

func (r *CreateInvoiceRequest) Validate() error {
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	if len(r.GetItems()) == 0 {
		return errors.New("items are required")
	}
	for _, item := range r.GetItems() {
		if item.GetQuantity() == "" || item.GetUnitPrice() == "" {
			return errors.New("items quantity and unit_price are required")
		}
	}
	if date := r.GetDueDate(); date != "" {
		if _, err := time.Parse(time.RFC3339, date); err != nil {
			return errors.New("due_date must be RFC3339")
		}
	}
	return nil
}

func NewGetInvoiceRequestFromContext(ctx echo.Context) (*GetInvoiceRequest, error) {
	return &GetInvoiceRequest{
		Id:     strings.TrimSpace(ctx.Param("id")),
		Number: strings.ToUpper(strings.TrimSpace(ctx.Param("number"))),
	}, nil
}

func (r *GetInvoiceRequest) Validate() error {
	if r.GetId() == "" && r.GetNumber() == "" {
		return errors.New("invoice id or number is required")
	}
	return nil
}

func NewListInvoicesRequestFromContext(ctx echo.Context) (*ListInvoicesRequest, error) {
	return &ListInvoicesRequest{Owner: strings.ToLower(strings.TrimSpace(ctx.QueryParam("owner")))}, nil
}

func (r *ListInvoicesRequest) Validate() error {
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	return nil
}

func NewUpdateInvoiceStatusRequestFromContext(ctx echo.Context) (*UpdateInvoiceStatusRequest, error) {
	var body UpdateInvoiceStatusRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = ctx.Param("id")
	body.Normalize()
	return &body, nil
}

func (r *UpdateInvoiceStatusRequest) Normalize() {
	r.Id = strings.TrimSpace(r.Id)
	r.Owner = strings.ToLower(strings.TrimSpace(r.Owner))
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
}

func (r *UpdateInvoiceStatusRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid invoice id")
	}
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	if !entity.InvoiceStatus(r.GetStatus()).Valid() {
		return errors.New("status must be pending, paid, overdue, or cancelled")
	}
	return nil
}
