package routes

import (
	"net/http"

	"casewatch/internal/delivery/http/handler"
	"casewatch/internal/delivery/http/middleware"
	"casewatch/internal/realtime"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
)

type Registry struct {
	health   *handler.HealthHandler
	pipeline *handler.PipelineHandler
	ws       *realtime.Handler
	metrics  http.Handler
	auth     *middleware.AuthMiddleware
}

func NewRegistry(health *handler.HealthHandler, pipeline *handler.PipelineHandler, ws *realtime.Handler, metrics http.Handler, auth *middleware.AuthMiddleware) *Registry {
	return &Registry{health: health, pipeline: pipeline, ws: ws, metrics: metrics, auth: auth}
}

func (r *Registry) Register(app *fiber.App) {
	if app == nil {
		return
	}

	r.health.RegisterRoutes(app)

	if r.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.metrics))
	}

	api := app.Group("/api")
	v1 := api.Group("/v1")
	var authHandler fiber.Handler
	if r.auth != nil {
		authHandler = r.auth.Middleware()
	}
	r.pipeline.RegisterRoutes(v1, authHandler)

	if r.ws != nil {
		app.Get("/ws/updates", r.ws.HandleUpdatesWS)
	}
}
