package commands

import (
	"path/filepath"

	"github.com/ncobase/msst/concurrency/worker"
	"github.com/ncobase/msst/config"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/server"
	"github.com/ncobase/msst/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the callback server receiving terminal task states",
		Long: `Run the HTTP server the processing API calls back on completion.

POST /api/callback   materializes results of expected tasks into
                     <workflow.download_dir>/<task id>/
GET  /api/tasks/:id  outcome of a handled callback
GET  /health         worker pool state

Use workflow.tracker: redis when jobs are submitted from other processes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			coord, err := a.coordinator(ctx, false)
			if err != nil {
				return err
			}
			tracker, err := a.trackerFor(ctx)
			if err != nil {
				return err
			}

			outcomes := server.NewOutcomes(0)
			receiver := workflow.NewReceiver(tracker, coord.Materializer(), workflow.ReceiverConfig{
				Dir:       cfg.Workflow.DownloadDir,
				Cleanup:   cfg.Workflow.Cleanup,
				OnOutcome: outcomes.Record,
			})
			pool, err := worker.NewPool(cfg.Worker)
			if err != nil {
				return err
			}

			cfg.Watch(func(next *config.Config) {
				logger.StdLogger().SetLevel(logrus.Level(next.Logger.Level))
				logger.Infof(ctx, "config reloaded, log level %s", logrus.Level(next.Logger.Level))
			})

			dir, _ := filepath.Abs(cfg.Workflow.DownloadDir)
			logger.Infof(ctx, "results go to %s, tracker %s", dir, cfg.Workflow.Tracker)
			return server.New(*cfg.Server, receiver, pool, outcomes).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default: server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: server.port)")
	return cmd
}
