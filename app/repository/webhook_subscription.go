package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

var (
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
)

const subscriptionColumns = `id, owner, url, secret, events, active, created_at, updated_at`

type WebhookSubscriptionRepository struct {
	db DBTX
}

func NewWebhookSubscriptionRepository(db DBTX) *WebhookSubscriptionRepository {
	return &WebhookSubscriptionRepository{db: db}
}

func (r *WebhookSubscriptionRepository) Create(ctx context.Context, sub *entity.WebhookSubscription) error {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_subscriptions (` + subscriptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		sub.ID,
		sub.Owner,
		sub.URL,
		sub.Secret,
		string(events),
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	return err
}

func (r *WebhookSubscriptionRepository) FindByID(ctx context.Context, id string) (*entity.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = ?`

	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *WebhookSubscriptionRepository) ListByOwner(ctx context.Context, owner string) ([]*entity.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE owner = ? ORDER BY created_at DESC`
	return r.querySubscriptions(ctx, query, owner)
}

func (r *WebhookSubscriptionRepository) ListActiveByOwner(ctx context.Context, owner string) ([]*entity.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE owner = ? AND active = TRUE ORDER BY created_at ASC`
	return r.querySubscriptions(ctx, query, owner)
}

func (r *WebhookSubscriptionRepository) Update(ctx context.Context, sub *entity.WebhookSubscription) error {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhook_subscriptions SET url = ?, events = ?, active = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, sub.URL, string(events), sub.Active, sub.UpdatedAt, sub.ID)
	if err != nil {
		return err
	}
	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *WebhookSubscriptionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *WebhookSubscriptionRepository) querySubscriptions(ctx context.Context, query string, args ...interface{}) ([]*entity.WebhookSubscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.WebhookSubscription, 0)
	for rows.Next() {
		item, err := scanSubscription(rows)
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

func scanSubscription(scanner rowScanner) (*entity.WebhookSubscription, error) {
	var (
		sub    entity.WebhookSubscription
		events sql.NullString
	)

	if err := scanner.Scan(
		&sub.ID,
		&sub.Owner,
		&sub.URL,
		&sub.Secret,
		&events,
		&sub.Active,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := parseJSON(events, &sub.Events); err != nil {
		return nil, err
	}
	if sub.Events == nil {
		sub.Events = []string{}
	}

	return &sub, nil
}

