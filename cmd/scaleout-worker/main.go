package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goprom "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/scaleout/internal/application/worker"
	"github.com/aescanero/scaleout/internal/config"
	eventsmemory "github.com/aescanero/scaleout/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/scaleout/pkg/adapters/events/redis"
	"github.com/aescanero/scaleout/pkg/adapters/executor"
	"github.com/aescanero/scaleout/pkg/adapters/executor/anthropic"
	"github.com/aescanero/scaleout/pkg/adapters/executor/docker"
	membershipetcd "github.com/aescanero/scaleout/pkg/adapters/membership/etcd"
	"github.com/aescanero/scaleout/pkg/adapters/metrics/prometheus"
	trackeretcd "github.com/aescanero/scaleout/pkg/adapters/tracker/etcd"
	trackermemory "github.com/aescanero/scaleout/pkg/adapters/tracker/memory"
	trackerredis "github.com/aescanero/scaleout/pkg/adapters/tracker/redis"
	"github.com/aescanero/scaleout/pkg/api/grpc"
	"github.com/aescanero/scaleout/pkg/api/http"
	"github.com/aescanero/scaleout/pkg/api/websocket"
	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// tracker is what the worker needs from a tracker backend
type tracker interface {
	ports.JobTracker
	ports.TrackerAdmin
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	host := worker.HostLabel(cfg.Worker.Host)
	id := worker.NewIdentity(host)

	logger.Info("starting scaleout worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("worker_id", id))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var etcdClient *clientv3.Client
	if cfg.UsesEtcd() {
		var err error
		etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Logger:      logger.Named("etcd"),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to etcd: %w", err)
		}
		defer etcdClient.Close()
		logger.Info("connected to etcd", zap.Strings("endpoints", cfg.Etcd.Endpoints))
	}

	trk, err := newTracker(cfg, redisClient, etcdClient, logger)
	if err != nil {
		return err
	}
	defer trk.Close()

	bus := newBus(cfg, redisClient, id, logger)
	defer bus.Close()

	var membership ports.Membership
	if cfg.Backends.Membership == config.BackendEtcd {
		membership = membershipetcd.NewMembership(etcdClient, membershipetcd.DefaultPrefix, cfg.Etcd.MemberTTL, logger.Named("membership"))
	}

	performer, err := executor.NewPerformer(&executor.Config{
		Kind: cfg.Executor.Kind,
		Docker: docker.Config{
			DefaultImage: cfg.Executor.DockerImage,
			APIVersion:   cfg.Executor.DockerAPIVersion,
			Pull:         cfg.Executor.DockerPull,
		},
		Anthropic: anthropic.Config{
			APIKey:           cfg.LLM.APIKey,
			DefaultModel:     cfg.LLM.DefaultModel,
			DefaultMaxTokens: cfg.LLM.DefaultMaxTokens,
		},
		Logger: logger.Named("executor"),
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	metricsCollector := prometheus.NewCollector(goprom.DefaultRegisterer)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	node := worker.NewNode(worker.Config{
		ID:                id,
		Host:              host,
		MasterURL:         cfg.Master.URL,
		MasterTopic:       cfg.Master.Path,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		ExecutionTimeout:  cfg.Timeouts.JobExecution,
	}, worker.Deps{
		Tracker:    trk,
		Bus:        bus,
		Performer:  performer,
		Membership: membership,
		Metrics:    metricsCollector,
		Logger:     logger,
	})

	supervisor := worker.NewSupervisor(node, worker.SupervisorConfig{
		Policy:          worker.NewRestartPolicy(cfg.Worker.MaxRestarts, cfg.Worker.RestartBackoff),
		MailboxSize:     cfg.Worker.MailboxSize,
		ShutdownTimeout: cfg.Timeouts.Shutdown,
		OnStateChange:   grpcServer.SetState,
	})

	httpServer := http.NewServer(&http.Config{
		Port:     cfg.HTTPPort,
		Worker:   supervisor,
		Tracker:  trk,
		Gatherer: goprom.DefaultGatherer,
		Logger:   logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(bus,
		[]string{domain.TopicBroadcast, cfg.Master.Path, id, domain.TopicTopics},
		logger.Named("websocket")))

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("scaleout worker started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("tracker", cfg.Backends.Tracker),
		zap.String("executor", cfg.Executor.Kind))

	// returns on signal, a shutdown message or when the restart policy
	// gives up
	runErr := supervisor.Run(ctx)
	logger.Info("worker stopped", zap.Int64("restarts", supervisor.Restarts()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	for _, err := range errs {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("scaleout worker shut down complete")
	return runErr
}

func newTracker(cfg *config.Config, rc *goredis.Client, ec *clientv3.Client, logger *zap.Logger) (tracker, error) {
	logger = logger.Named("tracker")
	switch cfg.Backends.Tracker {
	case config.BackendRedis:
		return trackerredis.NewTracker(rc, logger), nil
	case config.BackendEtcd:
		return trackeretcd.NewTracker(ec, trackeretcd.DefaultPrefix, logger), nil
	case config.BackendMemory:
		logger.Warn("using in-memory tracker; state is local to this process")
		return trackermemory.NewTracker(), nil
	default:
		return nil, errors.New("unsupported tracker backend: " + cfg.Backends.Tracker)
	}
}

// newBus gives the worker its own consumer group prefix so every worker
// sees every broadcast.
func newBus(cfg *config.Config, rc *goredis.Client, id domain.WorkerIdentity, logger *zap.Logger) ports.MessageBus {
	logger = logger.Named("bus")
	if cfg.Backends.Bus == config.BackendMemory {
		return eventsmemory.NewBus(logger)
	}
	return eventsredis.NewStreamsBus(rc, id, id, logger)
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
