package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ncobase/msst/config"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/logging/observes"
	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/oss"
	"github.com/ncobase/msst/version"
	"github.com/ncobase/msst/workflow"
	"github.com/spf13/cobra"
)

// app holds what the subcommands share. Clients are built on first use so
// a storage command never needs a reachable processing API and vice versa.
type app struct {
	configPath string

	cfg      *config.Config
	closers  []func()
	client   *msst.Client
	gateway  *oss.Gateway
	tracker  workflow.Tracker
	loadOnce bool
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "msst",
		Short:         "Submit audio separation jobs and collect their results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "conf", "c", "", "config file (default: ./config.yaml, $HOME/.msst, /etc/msst)")

	rootCmd.AddCommand(
		newSubmitCommand(a),
		newStatusCommand(a),
		newWaitCommand(a),
		newResultsCommand(a),
		newDownloadCommand(a),
		newCleanupCommand(a),
		newHealthCommand(a),
		newServeCommand(a),
		newStorageCommand(a),
		newVersionCommand(),
	)

	return rootCmd
}

func (a *app) init(ctx context.Context) error {
	if a.loadOnce {
		return nil
	}
	a.loadOnce = true

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	cleanup, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	logger.SetVersion(version.Get().Version)

	if opts := cfg.Observes.SentryOptions(cfg.AppName); opts != nil {
		if err := observes.NewSentry(opts); err != nil {
			logger.Warnf(ctx, "sentry disabled: %v", err)
		} else {
			a.closers = append(a.closers, func() { observes.FlushSentry(2 * time.Second) })
		}
	}
	if opt := cfg.Observes.TracerOption(); opt != nil {
		shutdown, err := observes.NewTracer(opt)
		if err != nil {
			logger.Warnf(ctx, "tracing disabled: %v", err)
		} else {
			a.closers = append(a.closers, func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			})
		}
	}
	if f := cfg.File(); f != "" {
		logger.Debugf(ctx, "using config file %s", f)
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) msstClient() (*msst.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := msst.NewClient(*a.cfg.MSST)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

func (a *app) storage(ctx context.Context) (*oss.Gateway, error) {
	if a.gateway != nil {
		return a.gateway, nil
	}
	_, gw, err := a.cfg.NewStorage(ctx)
	if err != nil {
		return nil, err
	}
	a.gateway = gw
	return gw, nil
}

func (a *app) trackerFor(ctx context.Context) (workflow.Tracker, error) {
	if a.tracker != nil {
		return a.tracker, nil
	}
	switch a.cfg.Workflow.Tracker {
	case "redis":
		rdb := a.cfg.Redis.Client()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis %s: %w", a.cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.tracker = workflow.NewRedisTracker(rdb, a.cfg.Redis.TrackerOptions())
	default:
		a.tracker = workflow.NewMemoryTracker(a.cfg.Redis.MemoryTrackerOptions())
	}
	return a.tracker, nil
}

// coordinator wires client, storage and tracker. Without needStorage an
// unusable storage section only disables storage backed refs.
func (a *app) coordinator(ctx context.Context, needStorage bool) (*workflow.Coordinator, error) {
	client, err := a.msstClient()
	if err != nil {
		return nil, err
	}
	gw, err := a.storage(ctx)
	if err != nil {
		if needStorage {
			return nil, err
		}
		logger.Debugf(ctx, "object storage unavailable: %v", err)
		gw = nil
	}
	tracker, err := a.trackerFor(ctx)
	if err != nil {
		return nil, err
	}
	mat := workflow.NewMaterializer(client, gw, workflow.MaterializerConfig{Concurrency: a.cfg.Workflow.Concurrency})
	return workflow.NewCoordinator(client, gw, tracker, mat, a.cfg.Workflow.Options()), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
