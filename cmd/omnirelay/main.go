package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omnirelay/omnirelay/pkg/api"
	"github.com/omnirelay/omnirelay/pkg/app"
	"github.com/omnirelay/omnirelay/pkg/bus"
	"github.com/omnirelay/omnirelay/pkg/config"
	"github.com/omnirelay/omnirelay/pkg/creds"
	"github.com/omnirelay/omnirelay/pkg/dedup"
	"github.com/omnirelay/omnirelay/pkg/dispatch"
	"github.com/omnirelay/omnirelay/pkg/infrastructure/persistence"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/maintenance"
	"github.com/omnirelay/omnirelay/pkg/provider/discord"
	"github.com/omnirelay/omnirelay/pkg/provider/email"
	"github.com/omnirelay/omnirelay/pkg/provider/telegram"
	"github.com/omnirelay/omnirelay/pkg/provider/whatsapp"
	"github.com/omnirelay/omnirelay/pkg/registry"
	"github.com/omnirelay/omnirelay/pkg/resolve"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info", false)
		logger.ErrorCF("main", "Configuration failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel, cfg.LogJSON)

	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		logger.ErrorCF("main", "Database open failed", map[string]interface{}{
			"path":  cfg.DBPath,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer db.Close()

	conns := persistence.NewConnectionRepository(db)
	received := persistence.NewReceivedRepository(db)
	sent := persistence.NewSentRepository(db)

	var filter dedup.Filter
	var memFilter *dedup.MemoryFilter
	if cfg.RedisAddr != "" {
		filter = dedup.NewRedisFilter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		logger.InfoCF("main", "Dedup on Redis", map[string]interface{}{"addr": cfg.RedisAddr})
	} else {
		memFilter = dedup.NewMemoryFilter()
		filter = memFilter
	}

	eventBus := bus.New(cfg.BusBuffer)

	reg := registry.New(
		discord.New(eventBus, filter),
		telegram.New(eventBus, filter, cfg.PublicURL),
		whatsapp.New(eventBus, filter),
		email.New(),
	)

	queue := dispatch.New(reg, dispatch.Options{
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseBackoff: cfg.Queue.BaseBackoff(),
		CallTimeout: cfg.ProviderTimeout(),
	}, app.NewSendRecorder(sent, reg))

	svc := app.NewGatewayService(conns, received, creds.DefaultService(), reg, queue,
		resolve.New(received, sent))

	hub := api.NewWSHub()
	eventBus.Subscribe("recorder", svc.RecordInbound)
	eventBus.Subscribe("ws", hub.Broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue.Start(ctx)
	svc.ReactivateAll(ctx)

	go maintenance.New(cfg.DedupSweepCron, memFilter, reg).Run(ctx)

	server := api.NewServer(cfg.Addr(), svc, reg, hub)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCF("main", "Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.ErrorCF("main", "HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("main", "HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	cancel()
	queue.Stop()
	reg.Close(shutdownCtx)
	eventBus.Close()
	hub.Close()
	logger.InfoC("main", "Shutdown complete")
}
