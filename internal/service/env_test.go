package service

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/storage"
)

type testEnv struct {
	store         *memStore
	feed          *events.MemoryFeed
	storage       *storage.LocalStorage
	tickets       *TicketService
	notifications *NotificationService
	attachments   *AttachmentService
	auth          *AuthService
	staff         *StaffService
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	feed := events.NewMemoryFeed()
	dispatcher := events.NewInMemoryDispatcher(nil)

	local, err := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	require.NoError(t, err)
	attachments := NewAttachmentService(local, 0, time.Second, nil)

	tickets := NewTicketService(TicketDependencies{
		TicketRepo:   fakeTickets{store},
		MessageRepo:  fakeMessages{store},
		Attachments:  attachments,
		Dispatcher:   dispatcher,
		Feed:         feed,
		WriteTimeout: time.Second,
		PhoneRegion:  "US",
		FeedRetries:  2,
	})
	tickets.signals.backoff = zeroBackOff

	notifications := NewNotificationService(NotificationDependencies{
		NotificationRepo: fakeNotifications{store},
		StaffRepo:        fakeStaff{store},
		Dispatcher:       dispatcher,
		Feed:             feed,
		MaxAttempts:      3,
		WriteTimeout:     time.Second,
	})
	notifications.retryPolicy = zeroBackOff
	notifications.signals.backoff = zeroBackOff
	notifications.RegisterHandlers()

	gate := auth.NewGate(auth.NewTokenManager("test-secret", time.Hour), auth.NewMemorySessionStore(), nil)
	authSvc := NewAuthService(AuthDependencies{
		UserRepo:   fakeUsers{store},
		StaffRepo:  fakeStaff{store},
		Gate:       gate,
		BcryptCost: 4,
	})

	return &testEnv{
		store:         store,
		feed:          feed,
		storage:       local,
		tickets:       tickets,
		notifications: notifications,
		attachments:   attachments,
		auth:          authSvc,
		staff:         NewStaffService(fakeUsers{store}, fakeStaff{store}),
	}
}

// staffActors seeds the roster with n staff members.
func (e *testEnv) staffActors(n int) []domain.Actor {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	actors := make([]domain.Actor, 0, n)
	for i := 0; i < n; i++ {
		id := e.store.nextID("staff")
		e.store.roster = append(e.store.roster, id)
		actors = append(actors, domain.Actor{ID: id, IsStaff: true})
	}
	return actors
}

func customer(id string) domain.Actor {
	return domain.Actor{ID: id}
}

func strPtr(s string) *string { return &s }
