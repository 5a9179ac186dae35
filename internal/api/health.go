package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/driftchat/drift-server/internal/httputil"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	broker Pinger
}

// NewHealthHandler creates a health handler. broker may be nil when the server runs
// without a message broker.
func NewHealthHandler(broker Pinger) *HealthHandler {
	return &HealthHandler{broker: broker}
}

// Health pings the broker, returning component status. A single-node deployment
// reports the broker as disabled and stays healthy.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	brokerStatus := "disabled"
	if h.broker != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
		defer cancel()

		brokerStatus = "ok"
		if err := h.broker.Ping(ctx); err != nil {
			brokerStatus = "unavailable"
		}
	}

	overall := "ok"
	status := fiber.StatusOK
	if brokerStatus == "unavailable" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status": overall,
		"broker": brokerStatus,
	})
}
