package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-desk/internal/domain"
)

// NotificationRepository stores per-actor notifications.
type NotificationRepository interface {
	// CreateBatch inserts every notification in one transaction, filling IDs and timestamps.
	CreateBatch(ctx context.Context, notifications []*domain.Notification) error
	// MarkRead flags the actor's unread notifications for a ticket and returns how many changed.
	MarkRead(ctx context.Context, actorID, ticketID string) (int64, error)
	ListByActor(ctx context.Context, actorID string, unreadOnly bool, limit int) ([]domain.Notification, error)
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository builds repository.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	const query = `
        INSERT INTO notifications (user_id, ticket_id, message)
        VALUES ($1,$2,$3)
        RETURNING id, is_read, created_at`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, n := range notifications {
			batch.Queue(query, n.ActorID, n.TicketID, n.Text)
		}
		results := tx.SendBatch(ctx, batch)
		for _, n := range notifications {
			if err := results.QueryRow().Scan(&n.ID, &n.IsRead, &n.CreatedAt); err != nil {
				_ = results.Close()
				return err
			}
		}
		return results.Close()
	})
}

func (r *notificationRepository) MarkRead(ctx context.Context, actorID, ticketID string) (int64, error) {
	const query = `
        UPDATE notifications SET is_read = TRUE
        WHERE user_id=$1 AND ticket_id=$2 AND is_read = FALSE`
	cmd, err := r.pool.Exec(ctx, query, actorID, ticketID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *notificationRepository) ListByActor(ctx context.Context, actorID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, user_id, ticket_id, message, is_read, created_at
        FROM notifications
        WHERE user_id=$1 AND ($2::boolean = FALSE OR is_read = FALSE)
        ORDER BY created_at DESC
        LIMIT $3`

	rows, err := r.pool.Query(ctx, query, actorID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.ActorID,
			&n.TicketID,
			&n.Text,
			&n.IsRead,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
