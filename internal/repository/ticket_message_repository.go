package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-desk/internal/domain"
)

// MessageGuard inspects the locked parent ticket before a message is inserted.
// A non-nil error aborts the append.
type MessageGuard func(ticket *domain.Ticket) error

// TicketMessageRepository manages ticket thread messages.
type TicketMessageRepository interface {
	// Append locks the parent ticket, runs guard, inserts msg and bumps the
	// ticket's updated_at in one transaction. It returns the updated ticket.
	Append(ctx context.Context, msg *domain.TicketMessage, guard MessageGuard) (*domain.Ticket, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Append(ctx context.Context, msg *domain.TicketMessage, guard MessageGuard) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ticket, err := scanTicket(tx.QueryRow(ctx,
			`SELECT `+ticketColumns+` FROM tickets WHERE id=$1 FOR NO KEY UPDATE`, msg.TicketID))
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(ticket); err != nil {
				return err
			}
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		updated, err = scanTicket(tx.QueryRow(ctx, `
            UPDATE tickets SET updated_at = GREATEST(updated_at, $2)
            WHERE id=$1
            RETURNING `+ticketColumns, msg.TicketID, msg.CreatedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	const query = `
        SELECT id, seq, ticket_id, sender_id, message, is_admin, attachment_url, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		var msg domain.TicketMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.Seq,
			&msg.TicketID,
			&msg.SenderID,
			&msg.Body,
			&msg.IsStaff,
			&msg.AttachmentURL,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, sender_id, message, is_admin, attachment_url)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, seq, created_at`
	return tx.QueryRow(ctx, query,
		msg.TicketID,
		msg.SenderID,
		msg.Body,
		msg.IsStaff,
		msg.AttachmentURL,
	).Scan(&msg.ID, &msg.Seq, &msg.CreatedAt)
}
