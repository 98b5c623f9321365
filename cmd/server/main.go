package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casewatch/internal/app"
	"casewatch/internal/config"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	container, err := app.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build container: %v", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Printf("cleanup error: %v", err)
		}
	}()

	if len(container.Degraded) > 0 {
		logger.Printf("Starting degraded | components=%v", container.Degraded)
	}

	if err := container.Start(); err != nil {
		logger.Fatalf("failed to start pipeline: %v", err)
	}

	application := app.New(container)

	addr, err := app.ListenAddr(cfg.App.HTTPPort)
	if err != nil {
		logger.Fatalf("invalid HTTP port: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Fiber.Listen(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		logger.Printf("Shutting down | signal=%s", sig)

		container.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Fiber.ShutdownWithContext(ctx); err != nil {
			logger.Printf("shutdown error: %v", err)
		}
	}
}
