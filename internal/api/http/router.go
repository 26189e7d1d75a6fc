package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Attachments    *handlers.AttachmentsHandler
	Notifications  *handlers.NotificationsHandler
	Streams        *handlers.StreamHandler
	Staff          *handlers.StaffHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimiter    *RateLimiter
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// FilesDir is served on /files when attachments live on local disk.
	FilesDir string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}
	if cfg.FilesDir != "" {
		app.Static("/files", cfg.FilesDir, fiber.Static{ByteRange: true})
	}

	var limited fiber.Handler = passThrough
	if cfg.RateLimiter != nil {
		limited = cfg.RateLimiter.Handler()
	}
	requireAuth := cfg.AuthMiddleware.Handle

	api := app.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Post("/register", limited, cfg.Users.Register)
	authGroup.Post("/login", limited, cfg.Users.Login)
	authGroup.Post("/logout", requireAuth, cfg.Users.Logout)
	authGroup.Get("/me", requireAuth, cfg.Users.Me)

	tickets := api.Group("/tickets", requireAuth)
	tickets.Post("/", limited, cfg.Tickets.Create)
	tickets.Get("/", cfg.Tickets.List)
	tickets.Get("/stream", auth.RequireStaff(), cfg.Streams.Tickets)
	tickets.Get("/:id", cfg.Tickets.Get)
	tickets.Post("/:id/toggle", limited, cfg.Tickets.Toggle)
	tickets.Delete("/:id", auth.RequireStaff(), cfg.Tickets.Delete)
	tickets.Get("/:id/messages", cfg.Tickets.ListMessages)
	tickets.Post("/:id/messages", limited, cfg.Tickets.AppendMessage)
	tickets.Post("/:id/read", cfg.Tickets.MarkRead)
	tickets.Get("/:id/stream", cfg.Streams.Thread)

	api.Post("/attachments", requireAuth, limited, cfg.Attachments.Stage)

	notifications := api.Group("/notifications", requireAuth)
	notifications.Get("/", cfg.Notifications.List)
	notifications.Get("/stream", cfg.Streams.Notifications)

	staff := api.Group("/staff", requireAuth, auth.RequireStaff())
	staff.Get("/", cfg.Staff.List)
	staff.Post("/", limited, cfg.Staff.Grant)
	staff.Delete("/:email", cfg.Staff.Revoke)
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}
