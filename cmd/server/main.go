package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/chat-history/internal/api"
	"gwi.com/chat-history/internal/auth"
	"gwi.com/chat-history/internal/config"
	"gwi.com/chat-history/internal/core"
	"gwi.com/chat-history/internal/logger"
	"gwi.com/chat-history/internal/store"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional env file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.WithField("log_level", log.GetLevel().String()).Info("service starting")

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer dbStore.Close()

	// Initialize LLM service, it stays unconfigured without an API key
	llmService := core.NewLLMService(context.Background(), core.LLMOptions{
		APIKey:            cfg.GeminiAPIKey,
		Model:             cfg.GeminiModel,
		SystemInstruction: cfg.GeminiSystemPrompt,
	}, log)
	defer llmService.Close()

	chatService := core.NewChatService(dbStore, llmService, log, core.ChatOptions{
		HistoryLimit: cfg.HistoryLimit,
		AutoTitle:    cfg.AutoTitle,
	})
	accountService := core.NewAccountService(dbStore, auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL), log)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, accountService, log)
	router := api.NewRouter(apiHandler, log)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // streamed replies clear it
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", serverAddr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatalf("could not listen on %s", serverAddr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	// Title generation may still be writing to the store.
	chatService.WaitBackground()
	log.Info("server exiting gracefully")
}
