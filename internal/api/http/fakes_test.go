package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
)

// store backs every repository used by the router tests.
type store struct {
	mu            sync.Mutex
	seq           int64
	users         map[string]*domain.User
	roster        map[string]time.Time
	tickets       map[string]*domain.Ticket
	messages      []domain.TicketMessage
	notifications []*domain.Notification
}

func newStore() *store {
	return &store{
		users:   map[string]*domain.User{},
		roster:  map[string]time.Time{},
		tickets: map[string]*domain.Ticket{},
	}
}

func (s *store) next(prefix string) (string, time.Time) {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq), time.Unix(1700000000+s.seq, 0).UTC()
}

type (
	userRepo         struct{ *store }
	staffRepo        struct{ *store }
	ticketRepo       struct{ *store }
	messageRepo      struct{ *store }
	notificationRepo struct{ *store }
)

func (r userRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.ID, u.CreatedAt = r.next("user")
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r staffRepo) IsStaff(_ context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.roster[userID]
	return ok, nil
}

func (r staffRepo) ListIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.roster))
	for id := range r.roster {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r staffRepo) List(_ context.Context) ([]repository.StaffMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.StaffMember
	for id, at := range r.roster {
		u := r.users[id]
		out = append(out, repository.StaffMember{UserID: id, Name: u.Name, Email: u.Email, GrantedAt: at})
	}
	return out, nil
}

func (r staffRepo) Grant(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roster[userID]; !ok {
		_, r.roster[userID] = r.next("grant")
	}
	return nil
}

func (r staffRepo) Revoke(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roster[userID]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.roster, userID)
	return nil
}

func (r ticketRepo) Create(_ context.Context, t *domain.Ticket, seed *domain.TicketMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID, t.CreatedAt = r.next("ticket")
	t.UpdatedAt = t.CreatedAt
	cp := *t
	r.tickets[t.ID] = &cp
	if seed != nil {
		seed.TicketID = t.ID
		r.insertMessage(seed)
	}
	return nil
}

func (r ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tickets[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (r ticketRepo) ToggleStatus(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	t.Status = t.Status.Toggled()
	_, t.UpdatedAt = r.next("toggle")
	cp := *t
	return &cp, nil
}

func (r ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if filter.OwnerID != nil && t.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r ticketRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.tickets, id)
	return nil
}

// insertMessage must be called with mu held.
func (s *store) insertMessage(msg *domain.TicketMessage) {
	msg.ID, msg.CreatedAt = s.next("msg")
	msg.Seq = s.seq
	s.messages = append(s.messages, *msg)
}

func (r messageRepo) Append(_ context.Context, msg *domain.TicketMessage, guard repository.MessageGuard) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[msg.TicketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if err := guard(t); err != nil {
		return nil, err
	}
	r.insertMessage(msg)
	t.UpdatedAt = msg.CreatedAt
	cp := *t
	return &cp, nil
}

func (r messageRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketMessage
	for _, m := range r.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r notificationRepo) CreateBatch(_ context.Context, batch []*domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range batch {
		n.ID, n.CreatedAt = r.next("note")
		cp := *n
		r.notifications = append(r.notifications, &cp)
	}
	return nil
}

func (r notificationRepo) MarkRead(_ context.Context, actorID, ticketID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, note := range r.notifications {
		if note.ActorID == actorID && note.TicketID == ticketID && !note.IsRead {
			note.IsRead = true
			n++
		}
	}
	return n, nil
}

func (r notificationRepo) ListByActor(_ context.Context, actorID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for i := len(r.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := r.notifications[i]
		if n.ActorID == actorID && (!unreadOnly || !n.IsRead) {
			out = append(out, *n)
		}
	}
	return out, nil
}
