package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
)

// memStore backs every repository fake with one mutex, mimicking a single database.
type memStore struct {
	mu            sync.Mutex
	base          time.Time
	seq           int64
	users         map[string]*domain.User
	roster        []string
	tickets       map[string]*domain.Ticket
	messages      []domain.TicketMessage
	notifications []*domain.Notification

	failCreateTicket error
	failNotify       func(attempt int) error
	notifyAttempts   int
	failRoster       error
}

func newMemStore() *memStore {
	return &memStore{
		base:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		users:   make(map[string]*domain.User),
		tickets: make(map[string]*domain.Ticket),
	}
}

// tick must be called with mu held.
func (s *memStore) tick() (int64, time.Time) {
	s.seq++
	return s.seq, s.base.Add(time.Duration(s.seq) * time.Millisecond)
}

func (s *memStore) nextID(prefix string) string {
	n, _ := s.tick()
	return prefix + "-" + strconv.FormatInt(n, 10)
}

type fakeTickets struct{ *memStore }
type fakeMessages struct{ *memStore }
type fakeNotifications struct{ *memStore }
type fakeStaff struct{ *memStore }
type fakeUsers struct{ *memStore }

func (f fakeTickets) Create(_ context.Context, ticket *domain.Ticket, seed *domain.TicketMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateTicket != nil {
		return f.failCreateTicket
	}
	ticket.ID = f.nextID("ticket")
	_, now := f.tick()
	ticket.CreatedAt, ticket.UpdatedAt = now, now
	stored := *ticket
	f.tickets[ticket.ID] = &stored
	if seed != nil {
		seed.TicketID = ticket.ID
		f.insertMessage(seed)
	}
	return nil
}

func (f fakeTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f fakeTickets) ToggleStatus(_ context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	t.Status = t.Status.Toggled()
	_, t.UpdatedAt = f.tick()
	cp := *t
	return &cp, nil
}

func (f fakeTickets) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Ticket
	for _, t := range f.tickets {
		if filter.OwnerID != nil && t.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f fakeTickets) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.tickets, id)
	kept := f.messages[:0]
	for _, m := range f.messages {
		if m.TicketID != id {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	var notes []*domain.Notification
	for _, n := range f.notifications {
		if n.TicketID != id {
			notes = append(notes, n)
		}
	}
	f.notifications = notes
	return nil
}

// insertMessage must be called with mu held.
func (s *memStore) insertMessage(msg *domain.TicketMessage) {
	msg.ID = s.nextID("msg")
	msg.Seq, msg.CreatedAt = s.tick()
	s.messages = append(s.messages, *msg)
}

func (f fakeMessages) Append(_ context.Context, msg *domain.TicketMessage, guard repository.MessageGuard) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[msg.TicketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	if err := guard(&cp); err != nil {
		return nil, err
	}
	f.insertMessage(msg)
	t.UpdatedAt = msg.CreatedAt
	cp = *t
	return &cp, nil
}

func (f fakeMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TicketMessage
	for _, m := range f.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f fakeNotifications) CreateBatch(_ context.Context, batch []*domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyAttempts++
	if f.failNotify != nil {
		if err := f.failNotify(f.notifyAttempts); err != nil {
			return err
		}
	}
	if _, ok := f.tickets[batch[0].TicketID]; !ok {
		return pgx.ErrNoRows
	}
	for _, n := range batch {
		n.ID = f.nextID("note")
		_, n.CreatedAt = f.tick()
		stored := *n
		f.notifications = append(f.notifications, &stored)
	}
	return nil
}

func (f fakeNotifications) MarkRead(_ context.Context, actorID, ticketID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var changed int64
	for _, n := range f.notifications {
		if n.ActorID == actorID && n.TicketID == ticketID && !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (f fakeNotifications) ListByActor(_ context.Context, actorID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Notification
	for i := len(f.notifications) - 1; i >= 0; i-- {
		n := f.notifications[i]
		if n.ActorID != actorID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f fakeStaff) IsStaff(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoster != nil {
		return false, f.failRoster
	}
	for _, id := range f.roster {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeStaff) ListIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoster != nil {
		return nil, f.failRoster
	}
	return append([]string(nil), f.roster...), nil
}

func (f fakeStaff) List(_ context.Context) ([]repository.StaffMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.StaffMember
	for _, id := range f.roster {
		member := repository.StaffMember{UserID: id}
		if u, ok := f.users[id]; ok {
			member.Name, member.Email = u.Name, u.Email
		}
		out = append(out, member)
	}
	return out, nil
}

func (f fakeStaff) Grant(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.roster {
		if id == userID {
			return nil
		}
	}
	f.roster = append(f.roster, userID)
	return nil
}

func (f fakeStaff) Revoke(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.roster {
		if id == userID {
			f.roster = append(f.roster[:i], f.roster[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f fakeUsers) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = f.nextID("user")
	_, now := f.tick()
	user.CreatedAt, user.UpdatedAt = now, now
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// notificationsFor returns stored notifications for actorID, oldest first.
func (s *memStore) notificationsFor(actorID string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.ActorID == actorID {
			out = append(out, *n)
		}
	}
	return out
}

func (s *memStore) notificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}
