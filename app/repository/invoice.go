package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

const invoiceColumns = `
	id, invoice_number, owner, link_id, client_name, client_email, items,
	subtotal, tax, total, currency, notes, due_date, status, paid_at, created_at, updated_at
`

var ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")

type InvoiceRepository struct {
	db DBTX
}

func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	items, err := serializeJSON(invoice.Items)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		invoice.ID,
		invoice.Number,
		invoice.Owner,
		nullableStringValue(invoice.LinkID),
		invoice.ClientName,
		nullableStringValue(invoice.ClientEmail),
		items,
		invoice.Subtotal.String(),
		invoice.Tax.String(),
		invoice.Total.String(),
		invoice.Currency,
		nullableStringValue(invoice.Notes),
		nullableTimeValue(invoice.DueDate),
		string(invoice.Status),
		nullableTimeValue(invoice.PaidAt),
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if isDuplicateEntryError(err) {
		return ErrDuplicateInvoiceNumber
	}
	return err
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`
	return r.findOne(ctx, query, id)
}

func (r *InvoiceRepository) FindByNumber(ctx context.Context, number string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_number = ?`
	return r.findOne(ctx, query, number)
}

func (r *InvoiceRepository) ListByOwner(ctx context.Context, owner string) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE owner = ? ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Invoice, 0)
	for rows.Next() {
		item, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// UpdateStatus sets the status; paidAt is only written when non-nil so an
// existing payment timestamp survives later transitions.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, status entity.InvoiceStatus, paidAt *time.Time, now time.Time) (bool, error) {
	query := `
		UPDATE invoices SET status = ?, paid_at = COALESCE(?, paid_at), updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, string(status), nullableTimeValue(paidAt), now, id)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

// MarkPaidByLink settles every open invoice attached to the link and returns
// how many rows changed.
func (r *InvoiceRepository) MarkPaidByLink(ctx context.Context, linkID string, paidAt time.Time) (int64, error) {
	query := `
		UPDATE invoices SET status = ?, paid_at = ?, updated_at = ?
		WHERE link_id = ? AND status IN (?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		string(entity.InvoiceStatusPaid),
		paidAt,
		paidAt,
		linkID,
		string(entity.InvoiceStatusPending),
		string(entity.InvoiceStatusOverdue),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *InvoiceRepository) findOne(ctx context.Context, query string, arg interface{}) (*entity.Invoice, error) {
	invoice, err := scanInvoice(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func scanInvoice(scanner rowScanner) (*entity.Invoice, error) {
	var (
		invoice     entity.Invoice
		linkID      sql.NullString
		clientEmail sql.NullString
		items       sql.NullString
		notes       sql.NullString
		dueDate     sql.NullTime
		status      string
		paidAt      sql.NullTime
	)

	if err := scanner.Scan(
		&invoice.ID,
		&invoice.Number,
		&invoice.Owner,
		&linkID,
		&invoice.ClientName,
		&clientEmail,
		&items,
		&invoice.Subtotal,
		&invoice.Tax,
		&invoice.Total,
		&invoice.Currency,
		&notes,
		&dueDate,
		&status,
		&paidAt,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := parseJSON(items, &invoice.Items); err != nil {
		return nil, err
	}
	invoice.LinkID = stringPtrFromNull(linkID)
	invoice.ClientEmail = stringPtrFromNull(clientEmail)
	invoice.Notes = stringPtrFromNull(notes)
	invoice.DueDate = timePtrFromNull(dueDate)
	invoice.Status = entity.InvoiceStatus(status)
	invoice.PaidAt = timePtrFromNull(paidAt)

	return &invoice, nil
}
