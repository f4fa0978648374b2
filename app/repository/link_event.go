package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

type LinkEventRepository struct {
	db DBTX
}

func NewLinkEventRepository(db DBTX) *LinkEventRepository {
	return &LinkEventRepository{db: db}
}

func (r *LinkEventRepository) Create(ctx context.Context, event *entity.LinkEvent) error {
	query := `
		INSERT INTO link_events (
			link_id, event_type, source, old_status, new_status, payload_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var oldStatus *string
	if event.OldStatus != nil {
		s := string(*event.OldStatus)
		oldStatus = &s
	}

	result, err := r.db.ExecContext(ctx, query,
		event.LinkID,
		event.EventType,
		event.Source,
		nullableStringValue(oldStatus),
		string(event.NewStatus),
		nullableStringValue(event.PayloadJSON),
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}
