package app

import (
	"fmt"
	"strings"

	"casewatch/internal/delivery/http/handler"
	"casewatch/internal/delivery/http/middleware"
	"casewatch/internal/delivery/http/routes"
	"casewatch/internal/pkg/token"
	"casewatch/internal/realtime"

	"github.com/gofiber/fiber/v3"
)

type App struct {
	Fiber     *fiber.App
	Container *Container
}

func New(c *Container) *App {
	f := fiber.New(fiber.Config{AppName: c.Config.App.AppName})

	registerGlobalMiddleware(f, c)
	registerRoutes(f, c)

	return &App{Fiber: f, Container: c}
}

func registerGlobalMiddleware(f *fiber.App, c *Container) {
	if f == nil {
		return
	}

	f.Use(middleware.NewErrorMiddleware().Middleware())
	f.Use(middleware.NewAccessLogMiddleware(c.Logger, c.Latency).Middleware())
}

func registerRoutes(f *fiber.App, c *Container) {
	if f == nil {
		return
	}

	verifier := token.NewHMACVerifier(c.Config.Subscribe.Secret)
	wsHandler := realtime.NewHandler(c.Hub, verifier, c.Logger)

	registry := routes.NewRegistry(
		handler.NewHealthHandler(c.Monitor),
		handler.NewPipelineHandler(c.Sched, c.Manager, c.Detector, c.Hub, c.Monitor, c.Logger),
		wsHandler,
		c.Metrics.Handler(),
		middleware.NewAuthMiddleware(verifier),
	)
	registry.Register(f)
}

func ListenAddr(port string) (string, error) {
	p := strings.TrimSpace(port)
	if p == "" {
		return "", fmt.Errorf("empty HTTP port")
	}
	if strings.HasPrefix(p, ":") {
		return p, nil
	}
	return ":" + p, nil
}
