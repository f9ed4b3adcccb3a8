package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/screenbridge/broker/internal/config"
	"github.com/screenbridge/broker/internal/database"
	"github.com/screenbridge/broker/internal/http/handler"
	"github.com/screenbridge/broker/internal/http/router"
	"github.com/screenbridge/broker/internal/observability"
	"github.com/screenbridge/broker/internal/repository"
	"github.com/screenbridge/broker/internal/security"
	"github.com/screenbridge/broker/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "broker",
		Short: "Remote-control session broker",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newSeedDeviceIDsCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return err
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runtime.LoggerProvider = loggerProvider
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := runtime.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown observability runtime", "error", err)
		}
	}()

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}

	orderRepo := repository.NewOrderRepository(db)
	deviceRepo := repository.NewDeviceIDRepository(db)
	onlineRepo := repository.NewOnlineRepository(db)

	var statusCache service.StatusCacheStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		statusCache = service.NewRedisStatusCacheStore(client, "")
		logger.Info("status cache backed by redis", "addr", cfg.RedisAddr)
	} else {
		statusCache = service.NewInMemoryStatusCacheStore()
	}

	tokens := security.NewTokenIssuer(cfg.AuthTokenIssuer, cfg.AuthTokenSecret, cfg.AuthTokenTTL)
	onlineService := service.NewOnlineService(onlineRepo)
	orderService := service.NewOrderService(
		orderRepo,
		onlineService,
		statusCache,
		tokens,
		service.SignalingEndpoint{Host: cfg.SignalingHost, Port: cfg.SignalingPort},
		cfg.RelayServers,
		cfg.ReflexServers,
		cfg.StatusCacheTTL,
	)
	deviceService := service.NewDeviceIDService(deviceRepo)

	handlerDeps := router.Dependencies{
		SessionHandler: handler.NewSessionHandler(orderService),
		DeviceHandler:  handler.NewDeviceHandler(deviceService),
		ManagerHandler: handler.NewManagerHandler(orderService, deviceService, onlineService, cfg.HistoryMaxLimit, cfg.OnlineHistoryMaxLimit),
		Readiness: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		EnableOTelHTTP: cfg.OTELHTTPEnabled,
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(handlerDeps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("broker listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("broker shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newSeedDeviceIDsCommand() *cobra.Command {
	var first, last int64
	cmd := &cobra.Command{
		Use:   "seed-device-ids",
		Short: "Seed the unused device id pool",
		Long: "Appends the identity range to the unused pool, skipping ids already " +
			"known to either pool. Safe to re-run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, _, err := observability.InitLogging(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if first == 0 {
				first = cfg.DeviceIDPoolFirst
			}
			if last == 0 {
				last = cfg.DeviceIDPoolLast
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			added, err := repository.NewDeviceIDRepository(db).SeedRange(first, last)
			if err != nil {
				return err
			}
			logger.Info("device id pool seeded", "first", first, "last", last, "added", added)
			return nil
		},
	}
	cmd.Flags().Int64Var(&first, "first", 0, "first device id of the range (default from config)")
	cmd.Flags().Int64Var(&last, "last", 0, "last device id of the range (default from config)")
	return cmd
}
