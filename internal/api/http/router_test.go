package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/realtime"
	"github.com/spec-kit/support-desk/internal/service"
	"github.com/spec-kit/support-desk/internal/storage"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

const filesBase = "http://localhost:8080/files"

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, 64)...)

type harness struct {
	app      *fiber.App
	store    *store
	filesDir string
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newHarness(t *testing.T, limiter *RateLimiter) *harness {
	t.Helper()
	st := newStore()
	logger := zap.NewNop()
	feed := events.NewMemoryFeed()
	dispatcher := events.NewInMemoryDispatcher(logger)

	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir, filesBase)
	require.NoError(t, err)
	attachments := service.NewAttachmentService(local, 0, time.Second, logger)

	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   ticketRepo{st},
		MessageRepo:  messageRepo{st},
		Attachments:  attachments,
		Dispatcher:   dispatcher,
		Feed:         feed,
		WriteTimeout: time.Second,
		FeedRetries:  1,
	})
	notifications := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: notificationRepo{st},
		StaffRepo:        staffRepo{st},
		Dispatcher:       dispatcher,
		Feed:             feed,
		MaxAttempts:      1,
		WriteTimeout:     time.Second,
	})
	notifications.RegisterHandlers()

	gate := auth.NewGate(auth.NewTokenManager("test-secret", time.Hour), auth.NewMemorySessionStore(), logger)
	authSvc := service.NewAuthService(service.AuthDependencies{
		UserRepo:   userRepo{st},
		StaffRepo:  staffRepo{st},
		Gate:       gate,
		BcryptCost: 4,
		Logger:     logger,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, nil, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-desk", "test", nil),
		Users:          handlers.NewUsersHandler(authSvc),
		Tickets:        handlers.NewTicketsHandler(tickets, attachments, notifications),
		Attachments:    handlers.NewAttachmentsHandler(attachments),
		Notifications:  handlers.NewNotificationsHandler(notifications),
		Streams:        handlers.NewStreamHandler(realtime.NewRouter(feed, tickets, notifications, nil, logger), logger),
		Staff:          handlers.NewStaffHandler(service.NewStaffService(userRepo{st}, staffRepo{st})),
		AuthMiddleware: auth.NewAuthMiddleware(gate),
		RateLimiter:    limiter,
		FilesDir:       dir,
	})
	return &harness{app: app, store: st, filesDir: dir}
}

func (h *harness) send(t *testing.T, req *http.Request, token string) (*http.Response, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func (h *harness) json(t *testing.T, method, path, token string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return h.send(t, req, token)
}

func (h *harness) signUp(t *testing.T, name, email string) string {
	t.Helper()
	resp, env := h.json(t, http.MethodPost, "/api/v1/auth/register", "", dto.UserRegisterRequest{
		Name: name, Email: email, Password: "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var data struct {
		Auth dto.AuthResponse `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Auth.Token
}

// signInStaff registers an account, grants it staff and signs in again so the
// new session carries the capability.
func (h *harness) signInStaff(t *testing.T, email string) string {
	t.Helper()
	h.signUp(t, "Agent", email)
	user, err := userRepo{h.store}.GetByEmail(t.Context(), email)
	require.NoError(t, err)
	require.NoError(t, staffRepo{h.store}.Grant(t.Context(), user.ID))

	resp, env := h.json(t, http.MethodPost, "/api/v1/auth/login", "", dto.UserLoginRequest{Email: email, Password: "correct-horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data struct {
		User dto.MeResponse   `json:"user"`
		Auth dto.AuthResponse `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.True(t, data.User.IsStaff)
	return data.Auth.Token
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	agent := h.signInStaff(t, "agent@example.com")
	customer := h.signUp(t, "Dana", "dana@example.com")

	resp, env := h.json(t, http.MethodPost, "/api/v1/tickets", customer, dto.CreateTicketRequest{
		Subject: "Delivery issue",
		Message: "Order late",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	opened := decode[dto.OpenTicketResponse](t, env)
	assert.Equal(t, "pending", string(opened.Ticket.Status))
	require.NotNil(t, opened.Message)
	ticketPath := "/api/v1/tickets/" + opened.Ticket.ID

	resp, env = h.json(t, http.MethodGet, "/api/v1/notifications?unread=true", agent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	notes := decode[[]dto.NotificationResponse](t, env)
	require.Len(t, notes, 1)
	assert.Equal(t, `New support ticket: "Delivery issue"`, notes[0].Message)

	resp, env = h.json(t, http.MethodPost, ticketPath+"/messages", agent, dto.CreateMessageRequest{Body: "Shipped now"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, decode[dto.TicketMessageResponse](t, env).IsAdmin)

	resp, env = h.json(t, http.MethodPost, ticketPath+"/read", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), decode[dto.MarkReadResponse](t, env).Updated)

	resp, env = h.json(t, http.MethodPost, ticketPath+"/toggle", agent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "solved", string(decode[dto.TicketResponse](t, env).Status))

	resp, env = h.json(t, http.MethodPost, ticketPath+"/messages", customer, dto.CreateMessageRequest{Body: "thanks"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apperrors.CodeForbidden, env.Error.Code)

	resp, env = h.json(t, http.MethodGet, ticketPath+"/messages", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[[]dto.TicketMessageResponse](t, env)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Order late", msgs[0].Message)
	assert.Equal(t, "Shipped now", msgs[1].Message)

	resp, _ = h.json(t, http.MethodDelete, ticketPath, customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = h.json(t, http.MethodDelete, ticketPath, agent, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, env = h.json(t, http.MethodGet, ticketPath, customer, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ticket no longer exists", env.Error.Message)
}

func TestCustomersOnlySeeTheirOwnTickets(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.signUp(t, "Alice", "alice@example.com")
	bob := h.signUp(t, "Bob", "bob@example.com")

	resp, env := h.json(t, http.MethodPost, "/api/v1/tickets", alice, dto.CreateTicketRequest{Subject: "Refund", Message: "please"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[dto.OpenTicketResponse](t, env).Ticket.ID

	resp, _ = h.json(t, http.MethodGet, "/api/v1/tickets/"+id, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, env = h.json(t, http.MethodGet, "/api/v1/tickets?page=1&page_size=10", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]dto.TicketResponse](t, env))

	resp, _ = h.json(t, http.MethodGet, "/api/v1/tickets/"+id+"/stream", bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.json(t, http.MethodGet, "/api/v1/tickets/stream", bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func multipartRequest(t *testing.T, path string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile("file", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func TestMultipartMessageStagesAttachment(t *testing.T) {
	h := newHarness(t, nil)
	customer := h.signUp(t, "Dana", "dana@example.com")

	resp, env := h.json(t, http.MethodPost, "/api/v1/tickets", customer, dto.CreateTicketRequest{Subject: "Broken item", Message: "see photo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[dto.OpenTicketResponse](t, env).Ticket.ID

	req := multipartRequest(t, "/api/v1/tickets/"+id+"/messages", map[string]string{"body": "here"}, pngBytes)
	resp, env = h.send(t, req, customer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[dto.TicketMessageResponse](t, env)
	require.NotNil(t, msg.AttachmentURL)
	require.True(t, strings.HasPrefix(*msg.AttachmentURL, filesBase+"/attachments/"))

	// the local driver serves the staged bytes back unchanged
	path := strings.TrimPrefix(*msg.AttachmentURL, "http://localhost:8080")
	fileResp, err := h.app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, fileResp.StatusCode)
	served, err := io.ReadAll(fileResp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, served)

	req = multipartRequest(t, "/api/v1/attachments", nil, []byte("plain text, not an image"))
	resp, env = h.send(t, req, customer)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, env.Error.Code)

	resp, env = h.json(t, http.MethodPost, "/api/v1/tickets/"+id+"/messages", customer, dto.CreateMessageRequest{
		Body:          "foreign",
		AttachmentURL: ptr("https://evil.example.com/x.png"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMultipartReplyToSolvedTicketStagesNothing(t *testing.T) {
	h := newHarness(t, nil)
	customer := h.signUp(t, "Dana", "dana@example.com")
	other := h.signUp(t, "Eve", "eve@example.com")

	resp, env := h.json(t, http.MethodPost, "/api/v1/tickets", customer, dto.CreateTicketRequest{Subject: "Broken item", Message: "see photo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[dto.OpenTicketResponse](t, env).Ticket.ID

	req := multipartRequest(t, "/api/v1/tickets/"+id+"/messages", map[string]string{"body": "mine?"}, pngBytes)
	resp, _ = h.send(t, req, other)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.json(t, http.MethodPost, "/api/v1/tickets/"+id+"/toggle", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req = multipartRequest(t, "/api/v1/tickets/"+id+"/messages", map[string]string{"body": "one more"}, pngBytes)
	resp, env = h.send(t, req, customer)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apperrors.CodeForbidden, env.Error.Code)

	var staged []string
	require.NoError(t, filepath.WalkDir(h.filesDir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			staged = append(staged, path)
		}
		return err
	}))
	assert.Empty(t, staged)
}

func TestAuthEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	resp, env := h.json(t, http.MethodGet, "/api/v1/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apperrors.CodeUnauthorized, env.Error.Code)

	token := h.signUp(t, "Dana", "dana@example.com")
	resp, env = h.json(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[dto.MeResponse](t, env)
	assert.Equal(t, "dana@example.com", me.Email)
	assert.False(t, me.IsStaff)

	resp, _ = h.json(t, http.MethodPost, "/api/v1/auth/register", "", dto.UserRegisterRequest{Name: "Dana", Email: "dana@example.com", Password: "correct-horse"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.json(t, http.MethodPost, "/api/v1/auth/login", "", dto.UserLoginRequest{Email: "dana@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.json(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.json(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStaffRosterEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	agent := h.signInStaff(t, "agent@example.com")
	customer := h.signUp(t, "Dana", "dana@example.com")

	resp, _ := h.json(t, http.MethodGet, "/api/v1/staff", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, env := h.json(t, http.MethodPost, "/api/v1/staff", agent, dto.GrantStaffRequest{Email: "dana@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "dana@example.com", decode[dto.StaffMemberResponse](t, env).Email)

	resp, env = h.json(t, http.MethodGet, "/api/v1/staff", agent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]dto.StaffMemberResponse](t, env), 2)

	resp, _ = h.json(t, http.MethodDelete, "/api/v1/staff/dana@example.com", agent, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.json(t, http.MethodDelete, "/api/v1/staff/dana@example.com", agent, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.json(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.json(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := h.json(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperrors.CodeNotFound, env.Error.Code)
}

func ptr(s string) *string { return &s }

func TestErrorMiddleware(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	app.Get("/transient", func(c *fiber.Ctx) error {
		return apperrors.NewTransientError(errors.New("connection reset"))
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})
	app.Get("/too-large", func(c *fiber.Ctx) error {
		return apperrors.NewPayloadTooLarge(5 << 20)
	})

	tests := []struct {
		path       string
		status     int
		code       string
		retryAfter string
	}{
		{"/transient", http.StatusServiceUnavailable, apperrors.CodeTransient, retryAfterSeconds},
		{"/panic", http.StatusInternalServerError, apperrors.CodeInternal, ""},
		{"/too-large", http.StatusRequestEntityTooLarge, apperrors.CodePayloadTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.retryAfter, resp.Header.Get(fiber.HeaderRetryAfter))

			var env envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}
