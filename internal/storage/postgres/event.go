package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cake-heaven/internal/domain/payment"
)

const recordEventSQL = `INSERT INTO processed_webhook_events (event_id, event_type) VALUES ($1, $2)
	ON CONFLICT (event_id) DO NOTHING`

var _ payment.EventStore = (*EventRepository)(nil)

// EventRepository deduplicates payment webhook deliveries.
type EventRepository struct {
	conn
}

// NewEventRepository returns an EventRepository that uses the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{conn{pool: pool}}
}

// Record stores eventID and reports whether it had not been seen before.
// Inside a transaction a rollback forgets the event again, so a failed
// delivery can be retried.
func (r *EventRepository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, recordEventSQL, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("recording webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
