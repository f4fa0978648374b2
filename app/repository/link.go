package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

var (
	ErrLinkNotFound      = errors.New("payment link not found")
	ErrLinkAlreadyExists = errors.New("payment link already exists")
)

const linkColumns = `
	id, kind, owner, title, settle_address, custody_address, refund_address, notify_email,
	deposit_coin, deposit_network, expected_amount,
	order_ref, deposit_address, deposit_min, deposit_max,
	status, received_amount, settled_amount,
	escrow_condition, split_table,
	condition_approved_at, condition_approved_by, condition_met_at,
	blocking_reason, blocking_detail,
	release_claim_token, release_claim_expires_at, release_attempts,
	created_at, updated_at
`

type LinkFilter struct {
	Owner          string
	Status         entity.LinkStatus
	BlockingReason entity.BlockingReason
	Limit          int32
	Offset         int32
}

type LinkRepository struct {
	db DBTX
}

func NewLinkRepository(db DBTX) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) Create(ctx context.Context, link *entity.PaymentLink) error {
	var escrowJSON, splitJSON interface{}
	var err error
	if link.EscrowCondition != nil {
		if escrowJSON, err = serializeJSON(link.EscrowCondition); err != nil {
			return err
		}
	}
	if len(link.SplitTable) > 0 {
		if splitJSON, err = serializeJSON(link.SplitTable); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO payment_links (` + linkColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		link.ID,
		string(link.Kind),
		link.Owner,
		nullableStringValue(link.Title),
		link.SettleAddress,
		link.CustodyAddress,
		nullableStringValue(link.RefundAddress),
		nullableStringValue(link.NotifyEmail),
		link.DepositCoin,
		link.DepositNetwork,
		nullableDecimalValue(link.ExpectedAmount),
		link.OrderRef,
		link.DepositAddress,
		nullableDecimalValue(link.DepositMin),
		nullableDecimalValue(link.DepositMax),
		string(link.Status),
		nullableDecimalValue(link.ReceivedAmount),
		nullableDecimalValue(link.SettledAmount),
		escrowJSON,
		splitJSON,
		nullableTimeValue(link.ConditionApprovedAt),
		nullableStringValue(link.ConditionApprovedBy),
		nullableTimeValue(link.ConditionMetAt),
		string(link.BlockingReason),
		nullableStringValue(link.BlockingDetail),
		nullableStringValue(link.ReleaseClaimToken),
		nullableTimeValue(link.ReleaseClaimExpiresAt),
		link.ReleaseAttempts,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrLinkAlreadyExists
		}
		return err
	}

	return nil
}

func (r *LinkRepository) FindByID(ctx context.Context, id string) (*entity.PaymentLink, error) {
	query := `SELECT ` + linkColumns + ` FROM payment_links WHERE id = ?`

	link, err := scanLink(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *LinkRepository) FindByOrderRef(ctx context.Context, orderRef string) (*entity.PaymentLink, error) {
	query := `SELECT ` + linkColumns + ` FROM payment_links WHERE order_ref = ? LIMIT 1`

	link, err := scanLink(r.db.QueryRowContext(ctx, query, orderRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *LinkRepository) List(ctx context.Context, filter LinkFilter) ([]*entity.PaymentLink, error) {
	query := `SELECT ` + linkColumns + ` FROM payment_links`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if strings.TrimSpace(filter.Owner) != "" {
		conditions = append(conditions, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.BlockingReason != entity.BlockingNone {
		conditions = append(conditions, "blocking_reason = ?")
		args = append(args, string(filter.BlockingReason))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.queryLinks(ctx, query, args...)
}

// ListForPolling returns non-terminal links backed by a provider order that
// have not been touched since before.
func (r *LinkRepository) ListForPolling(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentLink, error) {
	query := `SELECT ` + linkColumns + ` FROM payment_links
		WHERE status NOT IN (?, ?, ?)
		  AND order_ref <> ''
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	return r.queryLinks(ctx, query,
		string(entity.LinkStatusCompleted),
		string(entity.LinkStatusFailed),
		string(entity.LinkStatusRefunded),
		before,
		limit,
	)
}

func (r *LinkRepository) ListBlocked(ctx context.Context, reasons []entity.BlockingReason, limit int32) ([]*entity.PaymentLink, error) {
	if len(reasons) == 0 {
		return []*entity.PaymentLink{}, nil
	}

	placeholders := make([]string, 0, len(reasons))
	args := make([]interface{}, 0, len(reasons)+1)
	for _, reason := range reasons {
		placeholders = append(placeholders, "?")
		args = append(args, string(reason))
	}
	args = append(args, limit)

	query := `SELECT ` + linkColumns + ` FROM payment_links
		WHERE blocking_reason IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY updated_at ASC
		LIMIT ?
	`

	return r.queryLinks(ctx, query, args...)
}

// UpdateAmounts records observed amounts. NULL inputs keep the stored value so
// an amount, once seen, is never reverted. Status is not touched, so terminal
// links still take amount refinements.
func (r *LinkRepository) UpdateAmounts(ctx context.Context, id string, received, settled decimal.NullDecimal, now time.Time) error {
	if !received.Valid && !settled.Valid {
		return nil
	}

	query := `
		UPDATE payment_links SET
			received_amount = COALESCE(?, received_amount),
			settled_amount = COALESCE(?, settled_amount),
			updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		nullableDecimalValue(received),
		nullableDecimalValue(settled),
		now,
		id,
	)
	return err
}

// UpdateStatusIfCurrent moves a link to update.Status only while its stored
// status still equals expected. It reports whether the row was changed.
func (r *LinkRepository) UpdateStatusIfCurrent(ctx context.Context, id string, expected entity.LinkStatus, update entity.LinkUpdate) (bool, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(update.Status), update.UpdatedAt}

	if update.BlockingReason != nil {
		sets = append(sets, "blocking_reason = ?")
		args = append(args, string(*update.BlockingReason))
	}
	if update.BlockingDetail != nil {
		sets = append(sets, "blocking_detail = ?")
		args = append(args, nullableStringValue(update.BlockingDetail))
	}
	if update.ConditionMetAt != nil {
		sets = append(sets, "condition_met_at = ?")
		args = append(args, *update.ConditionMetAt)
	}
	if update.ClearReleaseClaim {
		sets = append(sets, "release_claim_token = NULL", "release_claim_expires_at = NULL")
	}

	query := `UPDATE payment_links SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, string(expected))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

// ClaimRelease takes the release lease on a link in status expected and moves
// it to claimed in the same statement. It fails while another lease is live.
func (r *LinkRepository) ClaimRelease(
	ctx context.Context,
	id string,
	expected entity.LinkStatus,
	claimed entity.LinkStatus,
	token string,
	until time.Time,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE payment_links SET
			status = ?,
			release_claim_token = ?,
			release_claim_expires_at = ?,
			release_attempts = release_attempts + 1,
			updated_at = ?
		WHERE id = ?
		  AND status = ?
		  AND (release_claim_expires_at IS NULL OR release_claim_expires_at < ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		string(claimed),
		token,
		until,
		now,
		id,
		string(expected),
		now,
	)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

// ReleaseClaim gives the lease back without changing status and records why
// the release did not finish.
func (r *LinkRepository) ReleaseClaim(ctx context.Context, id, token string, reason entity.BlockingReason, detail *string, now time.Time) error {
	query := `
		UPDATE payment_links SET
			release_claim_token = NULL,
			release_claim_expires_at = NULL,
			blocking_reason = ?,
			blocking_detail = ?,
			updated_at = ?
		WHERE id = ? AND release_claim_token = ?
	`

	_, err := r.db.ExecContext(ctx, query, string(reason), nullableStringValue(detail), now, id, token)
	return err
}

func (r *LinkRepository) SetBlocking(ctx context.Context, id string, reason entity.BlockingReason, detail *string, now time.Time) error {
	query := `
		UPDATE payment_links SET
			blocking_reason = ?,
			blocking_detail = ?,
			updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		string(reason),
		nullableStringValue(detail),
		now,
		id,
		string(entity.LinkStatusCompleted),
		string(entity.LinkStatusFailed),
		string(entity.LinkStatusRefunded),
	)
	return err
}

// MarkConditionApproved sets the manual approval flag once.
func (r *LinkRepository) MarkConditionApproved(ctx context.Context, id, approvedBy string, at time.Time) (bool, error) {
	query := `
		UPDATE payment_links SET
			condition_approved_at = ?,
			condition_approved_by = ?,
			updated_at = ?
		WHERE id = ? AND condition_approved_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, at, approvedBy, at, id)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *LinkRepository) queryLinks(ctx context.Context, query string, args ...interface{}) ([]*entity.PaymentLink, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]*entity.PaymentLink, 0)
	for rows.Next() {
		item, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return links, nil
}

func scanLink(scanner rowScanner) (*entity.PaymentLink, error) {
	var (
		link                  entity.PaymentLink
		kind                  string
		status                string
		blockingReason        string
		title                 sql.NullString
		refundAddress         sql.NullString
		notifyEmail           sql.NullString
		escrowJSON            sql.NullString
		splitJSON             sql.NullString
		conditionApprovedAt   sql.NullTime
		conditionApprovedBy   sql.NullString
		conditionMetAt        sql.NullTime
		blockingDetail        sql.NullString
		releaseClaimToken     sql.NullString
		releaseClaimExpiresAt sql.NullTime
	)

	err := scanner.Scan(
		&link.ID,
		&kind,
		&link.Owner,
		&title,
		&link.SettleAddress,
		&link.CustodyAddress,
		&refundAddress,
		&notifyEmail,
		&link.DepositCoin,
		&link.DepositNetwork,
		&link.ExpectedAmount,
		&link.OrderRef,
		&link.DepositAddress,
		&link.DepositMin,
		&link.DepositMax,
		&status,
		&link.ReceivedAmount,
		&link.SettledAmount,
		&escrowJSON,
		&splitJSON,
		&conditionApprovedAt,
		&conditionApprovedBy,
		&conditionMetAt,
		&blockingReason,
		&blockingDetail,
		&releaseClaimToken,
		&releaseClaimExpiresAt,
		&link.ReleaseAttempts,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	link.Kind = entity.LinkKind(kind)
	link.Status = entity.LinkStatus(status)
	link.BlockingReason = entity.BlockingReason(blockingReason)
	link.Title = stringPtrFromNull(title)
	link.RefundAddress = stringPtrFromNull(refundAddress)
	link.NotifyEmail = stringPtrFromNull(notifyEmail)
	link.ConditionApprovedAt = timePtrFromNull(conditionApprovedAt)
	link.ConditionApprovedBy = stringPtrFromNull(conditionApprovedBy)
	link.ConditionMetAt = timePtrFromNull(conditionMetAt)
	link.BlockingDetail = stringPtrFromNull(blockingDetail)
	link.ReleaseClaimToken = stringPtrFromNull(releaseClaimToken)
	link.ReleaseClaimExpiresAt = timePtrFromNull(releaseClaimExpiresAt)

	if escrowJSON.Valid && escrowJSON.String != "" {
		link.EscrowCondition = &entity.EscrowCondition{}
		if err := parseJSON(escrowJSON, link.EscrowCondition); err != nil {
			return nil, err
		}
	}
	if err := parseJSON(splitJSON, &link.SplitTable); err != nil {
		return nil, err
	}

	return &link, nil
}
