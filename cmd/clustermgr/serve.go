package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"clustermgr/config"
	"clustermgr/pkg/bus"
	"clustermgr/pkg/cluster"
	"clustermgr/pkg/logging"
	"clustermgr/pkg/manager"
	"clustermgr/pkg/metrics"
	"clustermgr/pkg/notify"
	"clustermgr/pkg/server"
	"clustermgr/storage"
)

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cluster manager replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to configuration file")
	f.String("host", "", "gRPC listen host")
	f.Int("port", 0, "gRPC listen port")
	f.String("name", "", "Cluster name")
	f.String("node-id", "", "Node ID (default: random)")
	f.String("cluster-id", "", "Cluster ID reported to the registry")
	f.String("bus", "", "Bus backend (memory|redis)")
	f.String("redis-addr", "", "Redis address for the redis bus")
	f.String("storage", "", "Reservation storage backend (memory|badger)")
	f.String("data-dir", "", "Badger data directory")
	f.String("log-level", "", "Log level")
	return cmd
}

// applyFlags overrides cfg with the flags given on the command line
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("host", &cfg.Server.Host)
	str("name", &cfg.Cluster.Name)
	str("node-id", &cfg.Cluster.NodeID)
	str("cluster-id", &cfg.Cluster.ClusterID)
	str("bus", &cfg.Bus.Backend)
	str("redis-addr", &cfg.Bus.RedisAddr)
	str("storage", &cfg.Storage.Backend)
	str("data-dir", &cfg.Storage.DataDir)
	str("log-level", &cfg.Logging.Level)
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	switch cfg.Bus.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}
	switch cfg.Storage.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, logCloser, err := logging.New("clustermgr", cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeBus, err := openBus(ctx, cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier := notify.New(notify.Config{
		URL:       cfg.Cluster.URL,
		ClusterID: cfg.Cluster.ClusterID,
		Region:    cfg.Cluster.Region,
		Timeout:   cfg.Cluster.NotifyTimeout,
		Logger:    logger,
	})
	defer notifier.Wait()
	if !notifier.Enabled() {
		logger.Info("registry url not set or invalid, capacity notifications disabled", "url", cfg.Cluster.URL)
	}

	mgr := manager.New(manager.Config{
		ClusterName:         cfg.Cluster.Name,
		ClusterID:           cfg.Cluster.ClusterID,
		InitialTime:         cfg.Cluster.InitialTime,
		CheckAlivePeriod:    cfg.Cluster.CheckAlivePeriod,
		CheckAliveCount:     cfg.Cluster.CheckAliveCount,
		Strategies:          cfg.Cluster.Strategy,
		ScheduleReserveTime: cfg.Cluster.ScheduleReserveTime,
	},
		manager.WithLogger(logger),
		manager.WithNotifier(notifier),
		manager.WithStore(store),
	)
	defer mgr.Close()

	svc := server.NewClusterManagerService(mgr, logger)
	srv := server.NewServer(cfg.Server, svc, logger)

	var wasMaster atomic.Bool
	node := cluster.New(cluster.Config{
		NodeID: cfg.Cluster.NodeID,
		Timing: cluster.Timing{
			RecommendInterval:   cfg.Election.RecommendInterval,
			DecideAfter:         cfg.Election.DecideAfter,
			HeartbeatInterval:   cfg.Election.HeartbeatInterval,
			SuperviseInterval:   cfg.Election.SuperviseInterval,
			MaxMissedHeartbeats: cfg.Election.MaxMissedHeartbeats,
		},
		Logger: logger,
		OnRoleChange: func(role cluster.Role) {
			if role == cluster.RoleMaster {
				wasMaster.Store(true)
			}
			srv.OnRoleChange(role)
		},
	}, b, mgr, server.NewRegistrar(b, svc, cfg.Cluster.Name, logger))

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Path)
		ms.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ms.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srvErr := make(chan error, 1)
	go func() {
		err := srv.Start(runCtx)
		if err != nil {
			cancel()
		}
		srvErr <- err
	}()

	logger.Info("starting cluster manager", "name", cfg.Cluster.Name, "node", cfg.Cluster.NodeID)
	runErr := node.Run(runCtx)
	cancel()
	if err := <-srvErr; err != nil && runErr == nil {
		runErr = err
	}

	if runErr != nil {
		logger.Error("cluster manager stopped", "error", runErr)
		return runErr
	}
	if wasMaster.Load() {
		mgr.Stop()
	}
	logger.Info("cluster manager stopped")
	return nil
}

func openBus(ctx context.Context, cfg config.BusConfig, logger hclog.Logger) (bus.Bus, func(), error) {
	if cfg.Backend != "redis" {
		b := bus.NewMemoryBus(logger)
		return b, func() { _ = b.Close() }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	b := bus.NewRedisBus(client, logger)
	if err := b.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis bus at %s: %w", cfg.RedisAddr, err)
	}
	return b, func() {
		_ = b.Close()
		_ = client.Close()
	}, nil
}

func openStore(cfg config.StorageConfig) (storage.ReservationStore, error) {
	if cfg.Backend != "badger" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewBadgerStore(storage.BadgerOptions{DataDir: cfg.DataDir, InMemory: cfg.InMemory})
}

