package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StaffMember is one roster entry joined with its user record.
type StaffMember struct {
	UserID    string
	Name      string
	Email     string
	GrantedAt time.Time
}

// StaffRepository reads and maintains the staff roster.
type StaffRepository interface {
	IsStaff(ctx context.Context, userID string) (bool, error)
	// ListIDs returns every staff actor ID; used for notification fan-out.
	ListIDs(ctx context.Context) ([]string, error)
	List(ctx context.Context) ([]StaffMember, error)
	Grant(ctx context.Context, userID string) error
	// Revoke returns pgx.ErrNoRows when the user was not on the roster.
	Revoke(ctx context.Context, userID string) error
}

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository instantiates the repository.
func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

func (r *staffRepository) IsStaff(ctx context.Context, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM staff_roster WHERE user_id=$1)`
	var ok bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *staffRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM staff_roster ORDER BY granted_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *staffRepository) List(ctx context.Context) ([]StaffMember, error) {
	const query = `
        SELECT s.user_id, u.name, u.email, s.granted_at
        FROM staff_roster s JOIN users u ON u.id = s.user_id
        ORDER BY s.granted_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StaffMember
	for rows.Next() {
		var member StaffMember
		if err := rows.Scan(
			&member.UserID,
			&member.Name,
			&member.Email,
			&member.GrantedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, member)
	}
	return result, rows.Err()
}

func (r *staffRepository) Grant(ctx context.Context, userID string) error {
	const query = `
        INSERT INTO staff_roster (user_id) VALUES ($1)
        ON CONFLICT (user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, userID)
	return err
}

func (r *staffRepository) Revoke(ctx context.Context, userID string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM staff_roster WHERE user_id=$1`, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
