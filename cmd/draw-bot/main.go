package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glebk/draw-bot/internal/api"
	"github.com/glebk/draw-bot/internal/audio"
	"github.com/glebk/draw-bot/internal/bot"
	"github.com/glebk/draw-bot/internal/config"
	"github.com/glebk/draw-bot/internal/domain"
	"github.com/glebk/draw-bot/internal/repository/postgres"
	"github.com/glebk/draw-bot/internal/repository/sqlite"
	"github.com/glebk/draw-bot/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	opts := []service.Option{service.WithGlobalLedger(cfg.GlobalLedger)}
	if cfg.Audio.Enabled() {
		presigner, err := audio.NewPresigner(ctx, cfg.Audio.Presigner())
		if err != nil {
			log.Fatalf("Failed to initialize audio storage: %v", err)
		}
		opts = append(opts, service.WithAudioResolver(presigner))
		log.Printf("Winner sounds served from bucket %s", cfg.Audio.Bucket)
	} else {
		opts = append(opts, service.WithAudioResolver(audio.Passthrough{}))
	}

	// Initialize service
	drawService, err := service.NewDrawService(store, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize draw service: %v", err)
	}

	if cfg.GlobalLedger && cfg.LedgerPruneInterval > 0 {
		scheduler, err := drawService.StartLedgerMaintenance(cfg.LedgerPruneInterval)
		if err != nil {
			log.Fatalf("Failed to start ledger maintenance: %v", err)
		}
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				log.Printf("Error stopping scheduler: %v", err)
			}
		}()
	}

	var server *http.Server
	if cfg.HTTPAddr != "" {
		router := gin.Default()
		api.NewHandler(drawService).RegisterRoutes(router)
		server = &http.Server{Addr: cfg.HTTPAddr, Handler: router}

		go func() {
			log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("HTTP server stopped with error: %v", err)
			}
		}()
	}

	if cfg.TelegramToken != "" {
		telegramBot, err := bot.New(cfg.TelegramToken, drawService)
		if err != nil {
			log.Fatalf("Failed to initialize bot: %v", err)
		}

		go func() {
			log.Println("Bot started. Press Ctrl+C to stop.")
			if err := telegramBot.Start(ctx); err != nil {
				log.Fatalf("Bot stopped with error: %v", err)
			}
		}()
	}

	// Wait for stop signal
	<-ctx.Done()
	log.Println("Shutting down gracefully...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}
	}
}

func openStore(cfg *config.Config) (domain.Store, error) {
	if cfg.UsePostgres() {
		store, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Println("Database initialized on PostgreSQL")
		return store, nil
	}

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	log.Printf("Database initialized at: %s", cfg.DatabasePath)
	return store, nil
}
