package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

type WebhookDeliveryRepository struct {
	db DBTX
}

func NewWebhookDeliveryRepository(db DBTX) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

func (r *WebhookDeliveryRepository) Create(ctx context.Context, delivery *entity.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (
			subscription_id, notification_id, event, status_code, success, error, duration_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		delivery.SubscriptionID,
		delivery.NotificationID,
		delivery.Event,
		nullableInt32Value(delivery.StatusCode),
		delivery.Success,
		nullableStringValue(delivery.Error),
		delivery.DurationMs,
		delivery.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	delivery.ID = uint64(id)

	return nil
}

// ListSucceededSubscriptionIDs returns the subscriptions that already received
// the notification, so retries only go to the ones that have not.
func (r *WebhookDeliveryRepository) ListSucceededSubscriptionIDs(ctx context.Context, notificationID uint64) ([]string, error) {
	query := `
		SELECT DISTINCT subscription_id FROM webhook_deliveries
		WHERE notification_id = ? AND success = 1
	`

	rows, err := r.db.QueryContext(ctx, query, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}
