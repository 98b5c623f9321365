package handler

import (
	"casewatch/internal/health"
	"casewatch/internal/pkg/response"

	"github.com/gofiber/fiber/v3"
)

type HealthHandler struct {
	monitor *health.Monitor
}

func NewHealthHandler(monitor *health.Monitor) *HealthHandler {
	return &HealthHandler{monitor: monitor}
}

func (h *HealthHandler) RegisterRoutes(app *fiber.App) {
	if app == nil {
		return
	}
	app.Get("/health", h.GetHealth)
	app.Get("/health/live", h.GetLiveness)
}

// GetHealth reports the latest monitoring snapshot. A critical system
// answers 503 so load balancers rotate the instance out.
func (h *HealthHandler) GetHealth(c fiber.Ctx) error {
	snapshot := h.monitor.Current()
	status := fiber.StatusOK
	if snapshot.Status == health.StatusCritical {
		status = fiber.StatusServiceUnavailable
	}
	return response.Success(c, status, string(snapshot.Status), snapshot)
}

// GetLiveness answers as long as the process is serving requests.
func (h *HealthHandler) GetLiveness(c fiber.Ctx) error {
	return response.Success(c, fiber.StatusOK, response.MessageOK, fiber.Map{"alive": true})
}
