package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lojasmm/psidbot/internal/config"
	"github.com/lojasmm/psidbot/internal/conversation"
	"github.com/lojasmm/psidbot/internal/lookup"
	"github.com/lojasmm/psidbot/internal/metrics"
	"github.com/lojasmm/psidbot/internal/session"
	"github.com/lojasmm/psidbot/internal/store"
	"github.com/lojasmm/psidbot/internal/telegram"
	"github.com/lojasmm/psidbot/internal/whatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	envDev  = "dev"
	envProd = "prod"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := setupLogger(cfg.Env)
	for _, w := range cfg.Warnings {
		logger.Warn("config value ignored", "warning", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("psidbot stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("psidbot stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "psidbot.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, closeSessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	controller := conversation.NewController(conversation.Options{
		Sessions: sessions,
		Pictures: lookup.NewPictureClient(cfg.PictureBaseURL, cfg.PicturePrefix, cfg.HTTPTimeout),
		Info: lookup.NewInfoClient(lookup.InfoOptions{
			BaseURL:     cfg.InfoBaseURL,
			EmailDomain: cfg.InfoEmailDomain,
			Cookies:     cfg.Cookies,
			Headers:     cfg.Headers,
			Timeout:     cfg.HTTPTimeout,
		}),
		History:      db,
		HistoryLimit: cfg.HistoryLimit,
		Location:     cfg.Location,
		Logger:       logger.With("component", "conversation"),
	})

	locks := session.NewManager()

	// Periodic cleanup of stale per-chat locks to prevent memory leaks
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := locks.Cleanup(time.Hour); n > 0 {
					logger.Debug("removed idle chat locks", "count", n)
				}
			}
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var waBot *whatsapp.Bot
	if cfg.WhatsAppEnabled() {
		waClient := whatsapp.NewClient(whatsapp.DefaultAPIURL, cfg.WAPhoneNumberID, cfg.WAAccessToken, cfg.HTTPTimeout)
		waBot = whatsapp.NewBot(waClient, controller, locks, logger)
		webhook := whatsapp.NewWebhookHandler(cfg.WAVerifyToken, cfg.WAAppSecret, waBot.Dispatch, logger.With("component", "webhook"))

		r.Get("/webhook", webhook.HandleVerify)
		r.Post("/webhook", webhook.HandleIncoming)
		logWhatsAppSetup(logger, cfg)
	}

	var wg sync.WaitGroup
	if cfg.TelegramEnabled() {
		tgBot, err := telegram.NewBot(telegram.Options{
			Token:   cfg.TelegramToken,
			Timeout: cfg.TelegramTimeout,
			Handler: controller,
			Locks:   locks,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tgBot.Run(ctx); err != nil {
				logger.Error("telegram bot stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if waBot != nil {
		waBot.Wait()
	}
	wg.Wait()
	return nil
}

// logWhatsAppSetup never logs a configured verify token. A generated one is
// shown because the operator needs it to register the webhook with Meta.
func logWhatsAppSetup(logger *slog.Logger, cfg *config.Config) {
	logger.Info("whatsapp frontend enabled", "signed_webhooks", cfg.WAAppSecret != "")
	if cfg.VerifyTokenGenerated {
		logger.Info("generated webhook verify token", "verify_token", cfg.WAVerifyToken)
	}
}

func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.StateBackend != config.BackendRedis {
		return session.NewMemoryStore(0, cfg.SessionTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rs := session.NewRedisStore(rdb, cfg.SessionTTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return rs, func() { rdb.Close() }, nil
}

func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case envDev:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
		logger.Warn("unknown ENV, using prod logging", "env", env)
	}

	return logger
}
