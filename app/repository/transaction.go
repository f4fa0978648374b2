package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

const transactionColumns = `
	id, link_id, kind, leg, amount, recipient, status, external_ref, error, created_at, updated_at
`

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *entity.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.LinkID,
		string(tx.Kind),
		tx.Leg,
		tx.Amount.String(),
		tx.Recipient,
		string(tx.Status),
		nullableStringValue(tx.ExternalRef),
		nullableStringValue(tx.Error),
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	return err
}

// MarkCompleted settles a pending entry. Entries that already reached a
// terminal status are left alone and false is returned.
func (r *TransactionRepository) MarkCompleted(ctx context.Context, id, externalRef string, now time.Time) (bool, error) {
	query := `
		UPDATE transactions SET status = ?, external_ref = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(entity.TransactionStatusCompleted),
		externalRef,
		now,
		id,
		string(entity.TransactionStatusPending),
	)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *TransactionRepository) MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE transactions SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(entity.TransactionStatusFailed),
		reason,
		now,
		id,
		string(entity.TransactionStatusPending),
	)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *TransactionRepository) ListByLink(ctx context.Context, linkID string) ([]*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE link_id = ? ORDER BY created_at ASC, leg ASC`
	return r.queryTransactions(ctx, query, linkID)
}

func (r *TransactionRepository) ListByLinkAndKind(ctx context.Context, linkID string, kind entity.TransactionKind) ([]*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE link_id = ? AND kind = ? ORDER BY created_at ASC, leg ASC`
	return r.queryTransactions(ctx, query, linkID, string(kind))
}

func (r *TransactionRepository) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*entity.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Transaction, 0)
	for rows.Next() {
		item, err := scanTransaction(rows)
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

func scanTransaction(scanner rowScanner) (*entity.Transaction, error) {
	var (
		tx          entity.Transaction
		kind        string
		status      string
		externalRef sql.NullString
		errMsg      sql.NullString
	)

	if err := scanner.Scan(
		&tx.ID,
		&tx.LinkID,
		&kind,
		&tx.Leg,
		&tx.Amount,
		&tx.Recipient,
		&status,
		&externalRef,
		&errMsg,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	); err != nil {
		return nil, err
	}

	tx.Kind = entity.TransactionKind(kind)
	tx.Status = entity.TransactionStatus(status)
	tx.ExternalRef = stringPtrFromNull(externalRef)
	tx.Error = stringPtrFromNull(errMsg)

	return &tx, nil
}
