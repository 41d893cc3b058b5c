package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-rtc/internal/auth"
	"market-rtc/internal/config"
	"market-rtc/internal/database"
	"market-rtc/internal/handlers"
	"market-rtc/internal/realtime"
	"market-rtc/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if cfg.Server.Debug {
		logger.SetDebug()
	}
	defer logger.Sync()

	// Durable notification queue
	queue, err := database.NewPostgresQueue(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cross-instance backplane; optional, the node runs standalone without it
	var backplane realtime.Backplane
	if cfg.Redis.URL != "" {
		bp, err := realtime.NewRedisBackplane(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Error("Backplane unavailable, running single-instance: %v", err)
		} else {
			backplane = bp
			defer bp.Close()
		}
	}

	// Realtime engine
	engine := realtime.NewEngine(cfg.Realtime, backplane, queue)
	if err := engine.Start(ctx); err != nil {
		logger.Error("Backplane subscribe failed, running single-instance: %v", err)
	}
	defer engine.Stop()

	// Services and handlers
	authService := auth.NewService(cfg)
	wsHandlers := handlers.NewWebSocketHandlers(authService, engine)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Realtime server started on %s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
}
