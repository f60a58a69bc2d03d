package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const Version = "1.0.0"

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthChecker is satisfied by the Redis cache service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	db    Pinger
	cache HealthChecker
}

// NewHealthHandler accepts a nil cache when caching is disabled.
func NewHealthHandler(db Pinger, cache HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	services := fiber.Map{"database": "connected", "redis": "disabled"}

	if err := h.db.PingContext(ctx); err != nil {
		services["database"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	}
	if h.cache != nil {
		services["redis"] = "connected"
		if err := h.cache.HealthCheck(ctx); err != nil {
			// The engine works without the cache.
			services["redis"] = "unavailable"
		}
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   state,
		"version":  Version,
		"services": services,
	})
}
