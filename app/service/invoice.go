package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/repository"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
)

const (
	defaultInvoiceClient   = "Customer"
	defaultInvoiceCurrency = "USD"
	invoiceNumberAttempts  = 3
)

type createInvoiceRequest interface {
	GetOwner() string
	GetLinkId() string
	GetClientName() string
	GetClientEmail() string
	GetItems() []*types.InvoiceItem
	GetNotes() string
	GetDueDate() string
	GetCurrency() string
}

type getInvoiceRequest interface {
	GetId() string
	GetNumber() string
}

type updateInvoiceStatusRequest interface {
	GetId() string
	GetOwner() string
	GetStatus() string
}

type invoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	FindByID(ctx context.Context, id string) (*entity.Invoice, error)
	FindByNumber(ctx context.Context, number string) (*entity.Invoice, error)
	ListByOwner(ctx context.Context, owner string) ([]*entity.Invoice, error)
	UpdateStatus(ctx context.Context, id string, status entity.InvoiceStatus, paidAt *time.Time, now time.Time) (bool, error)
	MarkPaidByLink(ctx context.Context, linkID string, paidAt time.Time) (int64, error)
}

// InvoiceService bills clients against payment links. Invoices attached to a
// link are settled when the link completes.
type InvoiceService struct {
	invoiceRepo invoiceRepository
	linkRepo    linkFinder
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewInvoiceService(invoiceRepo invoiceRepository, linkRepo linkFinder) *InvoiceService {
	return &InvoiceService{
		invoiceRepo: invoiceRepo,
		linkRepo:    linkRepo,
		logger:      factory.NewModuleLogger("invoice-service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *InvoiceService) CreateInvoice(ctx context.Context, req createInvoiceRequest) (*entity.Invoice, error) {
	owner := strings.ToLower(strings.TrimSpace(req.GetOwner()))
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}

	items, subtotal, err := parseInvoiceItems(req.GetItems())
	if err != nil {
		return nil, err
	}

	now := s.now()
	invoice := &entity.Invoice{
		ID:         uuid.NewString(),
		Owner:      owner,
		ClientName: strings.TrimSpace(req.GetClientName()),
		Items:      items,
		Subtotal:   subtotal,
		Tax:        decimal.Zero,
		Total:      subtotal,
		Currency:   strings.ToUpper(strings.TrimSpace(req.GetCurrency())),
		Status:     entity.InvoiceStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if invoice.ClientName == "" {
		invoice.ClientName = defaultInvoiceClient
	}
	if invoice.Currency == "" {
		invoice.Currency = defaultInvoiceCurrency
	}
	if email := strings.TrimSpace(req.GetClientEmail()); email != "" {
		invoice.ClientEmail = &email
	}
	if notes := strings.TrimSpace(req.GetNotes()); notes != "" {
		invoice.Notes = &notes
	}
	if raw := strings.TrimSpace(req.GetDueDate()); raw != "" {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: due date must be RFC3339", ErrValidation)
		}
		due = due.UTC()
		invoice.DueDate = &due
	}

	if linkID := strings.TrimSpace(req.GetLinkId()); linkID != "" {
		link, err := s.linkRepo.FindByID(ctx, linkID)
		if err != nil {
			return nil, err
		}
		if link == nil || link.Owner != owner {
			return nil, ErrLinkNotFound
		}
		invoice.LinkID = &link.ID
		if link.Status == entity.LinkStatusCompleted {
			invoice.Status = entity.InvoiceStatusPaid
			invoice.PaidAt = &now
		}
	}

	for attempt := 0; ; attempt++ {
		invoice.Number, err = newInvoiceNumber(now)
		if err != nil {
			return nil, err
		}
		err = s.invoiceRepo.Create(ctx, invoice)
		if !errors.Is(err, repository.ErrDuplicateInvoiceNumber) || attempt+1 >= invoiceNumberAttempts {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"number":     invoice.Number,
		"total":      invoice.Total.String(),
	}).Info("Invoice created")

	return invoice, nil
}

func (s *InvoiceService) GetInvoice(ctx context.Context, req getInvoiceRequest) (*entity.Invoice, error) {
	var (
		invoice *entity.Invoice
		err     error
	)
	if id := strings.TrimSpace(req.GetId()); id != "" {
		invoice, err = s.invoiceRepo.FindByID(ctx, id)
	} else if number := strings.ToUpper(strings.TrimSpace(req.GetNumber())); number != "" {
		invoice, err = s.invoiceRepo.FindByNumber(ctx, number)
	}
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *InvoiceService) ListInvoices(ctx context.Context, owner string) ([]*entity.Invoice, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	return s.invoiceRepo.ListByOwner(ctx, owner)
}

// UpdateInvoiceStatus moves an owner's invoice to any of the known statuses.
// Moving to paid stamps the payment time.
func (s *InvoiceService) UpdateInvoiceStatus(ctx context.Context, req updateInvoiceStatusRequest) (*entity.Invoice, error) {
	status := entity.InvoiceStatus(strings.ToLower(strings.TrimSpace(req.GetStatus())))
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown invoice status %q", ErrValidation, req.GetStatus())
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, strings.TrimSpace(req.GetId()))
	if err != nil {
		return nil, err
	}
	if invoice == nil || invoice.Owner != strings.ToLower(strings.TrimSpace(req.GetOwner())) {
		return nil, ErrInvoiceNotFound
	}

	now := s.now()
	var paidAt *time.Time
	if status == entity.InvoiceStatusPaid && invoice.PaidAt == nil {
		paidAt = &now
	}

	updated, err := s.invoiceRepo.UpdateStatus(ctx, invoice.ID, status, paidAt, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ErrInvoiceNotFound
	}

	invoice.Status = status
	if paidAt != nil {
		invoice.PaidAt = paidAt
	}
	invoice.UpdatedAt = now
	return invoice, nil
}

// MarkPaidForLink settles the open invoices billed against a completed link.
func (s *InvoiceService) MarkPaidForLink(ctx context.Context, linkID string, at time.Time) error {
	affected, err := s.invoiceRepo.MarkPaidByLink(ctx, linkID, at)
	if err != nil {
		return err
	}
	if affected > 0 {
		s.logger.WithFields(logrus.Fields{"link_id": linkID, "invoices": affected}).Info("Invoices marked paid")
	}
	return nil
}

func parseInvoiceItems(items []*types.InvoiceItem) ([]entity.InvoiceItem, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}

	parsed := make([]entity.InvoiceItem, 0, len(items))
	subtotal := decimal.Zero
	for i, item := range items {
		quantity, err := decimal.NewFromString(strings.TrimSpace(item.GetQuantity()))
		if err != nil || !quantity.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d quantity must be > 0", ErrValidation, i)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(item.GetUnitPrice()))
		if err != nil || price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d unit price must be >= 0", ErrValidation, i)
		}
		entry := entity.InvoiceItem{
			Description: strings.TrimSpace(item.GetDescription()),
			Quantity:    quantity,
			UnitPrice:   price,
		}
		subtotal = subtotal.Add(entry.Total())
		parsed = append(parsed, entry)
	}
	return parsed, subtotal, nil
}

func newInvoiceNumber(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(36))
		if err != nil {
			return "", err
		}
		suffix[i] = strconv.FormatInt(n.Int64(), 36)[0]
	}
	stamp := strconv.FormatInt(now.UnixMilli(), 36)
	return strings.ToUpper("INV-" + stamp + "-" + string(suffix)), nil
}
