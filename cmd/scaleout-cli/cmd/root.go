package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	trackeretcd "github.com/aescanero/scaleout/pkg/adapters/tracker/etcd"
	trackerredis "github.com/aescanero/scaleout/pkg/adapters/tracker/redis"
	"github.com/aescanero/scaleout/pkg/ports"
)

var version = "dev"

// opener connects to a tracker. The returned func releases it.
type opener func(ctx context.Context, o *options) (ports.TrackerAdmin, func() error, error)

type options struct {
	backend       string
	redisAddr     string
	redisPassword string
	etcdEndpoints []string
	timeout       time.Duration
}

// NewRootCmd builds the command tree. open is used to reach the tracker.
func NewRootCmd(open opener) *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "scaleout-cli",
		Short:         "Drive a scaleout job tracker from the master side",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.backend, "backend", envOr("TRACKER_BACKEND", "redis"), "tracker backend (redis or etcd)")
	flags.StringVar(&o.redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	flags.StringVar(&o.redisPassword, "redis-pass", os.Getenv("REDIS_PASS"), "Redis password")
	flags.StringSliceVar(&o.etcdEndpoints, "etcd-endpoints", []string{envOr("ETCD_ENDPOINTS", "localhost:2379")}, "etcd endpoints")
	flags.DurationVar(&o.timeout, "timeout", 5*time.Second, "per-command timeout")

	run := func(fn func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			t, closeFn, err := open(ctx, o)
			if err != nil {
				return err
			}
			defer closeFn()

			return fn(ctx, t, cmd, args)
		}
	}

	root.AddCommand(
		newAssignCmd(run),
		newCurrentCmd(run),
		newEnableCmd(run, true),
		newEnableCmd(run, false),
		newReplicateCmd(run),
		newFinishCmd(run),
		newWorkersCmd(run),
		newUpdatesCmd(run),
	)
	return root
}

// Execute runs the CLI against a real tracker
func Execute(ctx context.Context) {
	root := NewRootCmd(openTracker)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openTracker(ctx context.Context, o *options) (ports.TrackerAdmin, func() error, error) {
	logger := zap.NewNop()

	switch o.backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: o.redisAddr, Password: o.redisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return trackerredis.NewTracker(client, logger), client.Close, nil

	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   o.etcdEndpoints,
			DialTimeout: o.timeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return trackeretcd.NewTracker(client, trackeretcd.DefaultPrefix, logger), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported tracker backend: %s", o.backend)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
