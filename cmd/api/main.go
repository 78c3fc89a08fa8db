package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callsync/internal/auth"
	"callsync/internal/backfill"
	"callsync/internal/config"
	"callsync/internal/contacts"
	"callsync/internal/crm"
	"callsync/internal/events"
	"callsync/internal/httpapi"
	"callsync/internal/integration"
	"callsync/internal/mapping"
	"callsync/internal/provision"
	"callsync/internal/queue"
	"callsync/internal/reporting"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
	"callsync/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// External service clients.
	crmClient := crm.NewHTTPClient(crm.HTTPClientOptions{
		BaseURL: cfg.CRM.BaseURL,
		APIKey:  cfg.CRM.APIKey,
	})
	telClient := telephony.NewHTTPClient(telephony.HTTPClientOptions{
		BaseURL: cfg.Telephony.BaseURL,
		APIKey:  cfg.Telephony.APIKey,
	})

	// Stores and services.
	store := mapping.NewPostgresStore(db)
	cfgStore := integration.NewPostgresConfigStore(db)
	messages := integration.NewMessages(integration.NewPostgresMessageRepo(db))
	resolver := contacts.NewResolver(crmClient, store)
	// Object types are tenant-global for the configured CRM credentials.
	resolver.UseTypeCache(integration.NewTypeCache("crm", rdb, 0))

	dispatcher := events.NewDispatcher(
		events.NewCallHandler(telClient, crmClient, store, resolver),
		events.NewMessageHandler(crmClient, store, resolver),
		events.NewRecordHandler(crmClient, telClient, store),
	)
	provisioner := provision.New(crmClient, telClient, cfgStore, messages,
		cfg.Webhook.PublicBaseURL, logger.WithSource(log, "provision"))
	backfiller := backfill.NewEngine(crmClient, telClient, store)
	reports := reporting.NewService(store)

	var q queue.Client
	if cfg.QueueEnabled() {
		q, err = queue.NewRabbitClient(cfg.Queue.URL, cfg.Queue.Name)
		if err != nil {
			log.Error("queue init failed", "err", err)
			os.Exit(1)
		}
		defer q.Close()
	}

	handlers := httpapi.NewHandlers(cfgStore, dispatcher, provisioner, backfiller,
		reports, messages, cfg.CRM.WebhookSecret, rdb, q)

	if q != nil {
		go runRetryConsumer(rootCtx, logger.WithSource(log, "retry"), q, handlers)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// runRetryConsumer drains parked deliveries until shutdown. The broker
// ack happens only after Replay (or a re-park) succeeds, so a crash mid
// replay leaves the delivery on the queue. A replay that fails again goes
// back through Publish rather than blocking the stream.
func runRetryConsumer(ctx context.Context, log *slog.Logger, q queue.Client, h *httpapi.Handlers) {
	deliveries, err := q.Consume(ctx)
	if err != nil {
		log.Error("retry consumer failed to start", "err", err)
		return
	}
	for d := range deliveries {
		ctx := logger.With(ctx, log.With("source", d.Source, "workspace_id", d.WorkspaceID))
		if err := h.Replay(ctx, d.Delivery); err != nil {
			log.Warn("replay failed, re-parking delivery", "source", d.Source, "err", err)
			if err := q.Publish(ctx, d.Delivery); err != nil {
				log.Error("re-park failed, requeueing delivery", "source", d.Source, "err", err)
				if err := d.Nack(true); err != nil {
					log.Error("nack failed", "source", d.Source, "err", err)
				}
				continue
			}
		}
		if err := d.Ack(); err != nil {
			log.Error("ack failed", "source", d.Source, "err", err)
		}
	}
}
