package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	bidding "live-auction/internal/biddingService"
	"live-auction/internal/config"
	"live-auction/internal/metrics"
	model "live-auction/internal/models"
	"live-auction/internal/notify"
	"live-auction/internal/realtime"
	"live-auction/internal/repository"
	"live-auction/internal/server"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	if !utils.SetLevel(cfg.LogLevel) {
		utils.Warn("Unknown LOG_LEVEL, keeping info", map[string]any{"level": cfg.LogLevel})
	}
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo := openStore(ctx, cfg)
	defer closeRepo()

	dispatcher := notify.NewDispatcher(openSink(cfg), notify.DefaultConfig)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			utils.Warn("Notification sink close failed", map[string]any{"error": err.Error()})
		}
	}()

	hub := realtime.NewHub(cfg.WSQueueSize)
	var publisher bidding.Publisher = hub
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		relay := realtime.NewRedisRelay(client, cfg.RedisChannel, hub)
		if err := relay.Start(ctx); err != nil {
			utils.Fatal("Failed to start Redis relay", map[string]any{"addr": cfg.RedisAddr, "error": err.Error()})
		}
		publisher = relay
	}

	biddingSvc := bidding.NewBiddingService(repo,
		bidding.WithAntiSnipeWindow(cfg.AntiSnipeWindow),
		bidding.WithMaxExtension(cfg.MaxExtension),
		bidding.WithSnapshotLimit(cfg.SnapshotLimit),
		bidding.WithUserBidsLimit(cfg.UserBidsLimit),
		bidding.WithPublisher(publisher),
		bidding.WithNotifier(dispatcher),
		bidding.WithLotURLBase(cfg.WebAppURL),
	)

	if cfg.SeedDemo {
		seedDemoLot(ctx, biddingSvc)
	}

	router := server.SetupRouter(biddingSvc, server.Options{
		Authenticator: server.HeaderAuthenticator{},
		IsAdmin:       cfg.IsAdmin,
		WebSocket:     realtime.NewWSHandler(hub, biddingSvc.GetLot, allowOrigin(cfg.WebAppURL)),
		Health:        repo.Ping,
	})

	metricsSrv := metrics.StartServer(cfg.MetricsPort, repo.Ping)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.Info("Starting auction server", map[string]any{
			"service": cfg.ServiceName,
			"env":     cfg.Env,
			"port":    cfg.HTTPPort,
			"store":   cfg.StoreBackend,
			"notify":  cfg.NotifyBackend,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		utils.Info("Shutdown signal received", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			utils.Error("HTTP server shutdown failed", map[string]any{"error": err.Error()})
		}
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		utils.Error("Auction server stopped", map[string]any{"error": err.Error()})
	}
}

// openStore returns the configured store together with its cleanup
func openStore(ctx context.Context, cfg config.Config) (repository.AuctionDB, func()) {
	if cfg.StoreBackend != config.StorePostgres {
		return repository.NewMemoryRepo(), func() {}
	}

	db, err := repository.OpenPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		utils.Fatal("Failed to connect to Postgres", map[string]any{"error": err.Error()})
	}
	repo := repository.NewPostgresRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		utils.Fatal("Failed to apply schema", map[string]any{"error": err.Error()})
	}
	return repo, func() { _ = db.Close() }
}

// openSink returns the outbid notification transport; failures fall back to logging
func openSink(cfg config.Config) notify.Sink {
	switch cfg.NotifyBackend {
	case config.NotifyKafka:
		return notify.NewKafkaSink(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopicOutbid))
	case config.NotifyRabbitMQ:
		sink, err := notify.DialRabbitSink(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			utils.Error("RabbitMQ unavailable, logging notifications instead", map[string]any{"error": err.Error()})
			return notify.LogSink{}
		}
		return sink
	default:
		return notify.LogSink{}
	}
}

// allowOrigin accepts any origin unless a web app URL is configured
func allowOrigin(webAppURL string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return webAppURL == "" || origin == "" || origin == webAppURL
	}
}

// seedDemoLot creates the demo lot when the store holds no lots yet
func seedDemoLot(ctx context.Context, svc *bidding.BiddingService) {
	lots, err := svc.ListLots(ctx)
	if err != nil {
		utils.Error("Demo seed skipped", map[string]any{"error": err.Error()})
		return
	}
	if len(lots) > 0 {
		return
	}

	_, err = svc.CreateLot(ctx, model.NewLot{
		Title:       "BMW STH Stranger Things",
		Description: "Hot Wheels Super Treasure Hunt, sealed card",
		StartPrice:  80,
		BidStep:     10,
		Duration:    60 * time.Minute,
	})
	if err != nil {
		utils.Error("Demo seed failed", map[string]any{"error": err.Error()})
	}
}
