package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// Pinger is a backing service the API cannot serve without.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	service   string
	version   string
	startedAt time.Time
	deps      map[string]Pinger
}

// NewHealthHandler probes every non-nil dependency on readiness checks.
func NewHealthHandler(service, version string, deps map[string]Pinger) *HealthHandler {
	h := &HealthHandler{service: service, version: version, startedAt: time.Now(), deps: map[string]Pinger{}}
	for name, dep := range deps {
		if dep != nil {
			h.deps[name] = dep
		}
	}
	return h
}

func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "alive",
		"service":        h.service,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

type probeResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Ready pings dependencies in parallel and answers 503 if any of them fails.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(h.deps))
		g       errgroup.Group
	)
	for name, dep := range h.deps {
		g.Go(func() error {
			start := time.Now()
			err := dep.Ping(ctx)
			res := probeResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status, res.Error = "down", err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "one or more dependencies unavailable",
				"details": results,
			},
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "dependencies": results})
}
