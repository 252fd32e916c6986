package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"safechain/internal/alert"
	handlers "safechain/internal/handler"
	"safechain/internal/ledger"
	"safechain/internal/reward"
	"safechain/internal/store"
	"safechain/pkg/cache"
	"safechain/pkg/config"
	"safechain/pkg/hashstore"
	"safechain/pkg/logger"
	"safechain/pkg/metrics"
	"safechain/pkg/middleware"
	"safechain/pkg/notification"
	"safechain/pkg/scheduler"
	"safechain/pkg/sse"
	"safechain/pkg/vault"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBDriver, cfg.DSN)
	if err != nil {
		log.Fatal("opening alert store failed", zap.Error(err))
	}

	var media hashstore.Store
	switch cfg.MediaBackend {
	case "minio":
		media, err = hashstore.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			log.Fatal("connecting media store failed", zap.Error(err))
		}
	default:
		media = hashstore.NewMemoryStore()
		log.Warn("media store is in-memory; stored media does not survive a restart")
	}

	v := vault.New(media, vault.NewMemoryKeyProvider())

	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatal("creating cache failed", zap.Error(err))
	}
	defer c.Close()

	m := metrics.New()

	gw := ledger.New(ledger.Config{
		BaseURL:      cfg.Ledger.BaseURL,
		Token:        cfg.Ledger.Token,
		AppID:        cfg.Ledger.AppID,
		MaxAttempts:  cfg.Ledger.MaxAttempts,
		BaseDelay:    cfg.Ledger.BaseDelay,
		MaxDelay:     cfg.Ledger.MaxDelay,
		PollInterval: cfg.Ledger.PollInterval,
	}, log, m)

	events := sse.NewHub(30 * time.Second)
	notifier := notification.NewDispatcher(notification.Config{
		SMSSign:     cfg.Notify.SMSSign,
		SMSTemplate: cfg.Notify.SMSTemplate,
		Contacts:    cfg.Notify.Contacts,
	}, nil, nil, log) // carrier clients are injected by deployment wiring

	machine := alert.NewMachine(st, v, gw, log, m, alert.Options{
		DefaultTimeout: cfg.AlertTimeout,
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
		ResultCache:    c,
		Events:         events,
		Notifier:       notifier,
	})
	issuer := reward.NewIssuer(st, gw, log, m, cfg.Ledger.ConfirmTimeout)

	cr := scheduler.NewCron(nil)
	reconciler := alert.NewReconciler(st, gw, log, m)
	if _, err := cr.Add(cfg.ReconcileSchedule, reconciler); err != nil {
		log.Fatal("scheduling reconciliation failed", zap.Error(err))
	}
	cr.Start()
	defer cr.Stop()

	gin.SetMode(cfg.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	limit := middleware.RateLimit(middleware.RateLimitConfig{
		Rate:         cfg.SubmitRate,
		TrustedCIDRs: cfg.TrustedCIDRs,
	})
	handlers.RegisterRoutes(engine, handlers.New(machine, issuer, st, v, events, m, log), m, c, limit)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: engine,
	}

	go func() {
		log.Info("safechain listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("stopped")
}
