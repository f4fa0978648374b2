package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

const notificationColumns = `
	id, link_id, owner, event, payload_json, status, attempts, next_attempt_at, last_error, created_at, updated_at
`

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	query := `
		INSERT INTO notifications (
			link_id, owner, event, payload_json, status, attempts, next_attempt_at, last_error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		n.LinkID,
		n.Owner,
		n.Event,
		n.PayloadJSON,
		n.Status,
		n.Attempts,
		nullableTimeValue(n.NextAttemptAt),
		nullableStringValue(n.LastError),
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = uint64(id)

	return nil
}

func (r *NotificationRepository) Update(ctx context.Context, n *entity.Notification) error {
	query := `
		UPDATE notifications SET
			status = ?,
			attempts = ?,
			next_attempt_at = ?,
			last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		n.Status,
		n.Attempts,
		nullableTimeValue(n.NextAttemptAt),
		nullableStringValue(n.LastError),
		n.UpdatedAt,
		n.ID,
	)
	return err
}

func (r *NotificationRepository) ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = ?
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.NotificationPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Notification, 0)
	for rows.Next() {
		var (
			n         entity.Notification
			nextAt    sql.NullTime
			lastError sql.NullString
		)
		if err := rows.Scan(
			&n.ID,
			&n.LinkID,
			&n.Owner,
			&n.Event,
			&n.PayloadJSON,
			&n.Status,
			&n.Attempts,
			&nextAt,
			&lastError,
			&n.CreatedAt,
			&n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		n.NextAttemptAt = timePtrFromNull(nextAt)
		n.LastError = stringPtrFromNull(lastError)
		items = append(items, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
