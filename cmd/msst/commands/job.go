package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/oss"
	"github.com/ncobase/msst/workflow"
	"github.com/spf13/cobra"
)

type submitFlags struct {
	file      string
	key       string
	presign   string
	outputs   []string
	preset    string
	format    string
	taskID    string
	callback  string
	wait      bool
	timeout   time.Duration
	dir       string
	noCleanup bool
}

func newSubmitCommand(a *app) *cobra.Command {
	f := &submitFlags{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a separation job",
		Long: `Submit a separation job in one of three modes:

  --file PATH            upload the local file with the request
  --key KEY              process an object already in storage
  --presign KEY          hand the service presigned URLs for KEY and for
                         every --output name under separated/<task id>/

With --wait the job is polled to completion and its results are written to
--dir. Without it the task id is printed; use --callback to have the service
push the terminal state to a running "msst serve".

The storage backed services only ever report "processing" through their
status endpoint, so --wait with --key or --presign needs --timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmit(cmd, a, f)
		},
	}

	cmd.Flags().StringVar(&f.file, "file", "", "local audio file to upload")
	cmd.Flags().StringVar(&f.key, "key", "", "storage key of the source audio")
	cmd.Flags().StringVar(&f.presign, "presign", "", "storage key of the source audio, exchanged through presigned URLs")
	cmd.Flags().StringSliceVar(&f.outputs, "output", nil, "result file name expected in presigned mode (repeatable)")
	cmd.Flags().StringVarP(&f.preset, "preset", "p", "", "separation preset name")
	cmd.Flags().StringVarP(&f.format, "format", "f", "wav", "output format: wav, mp3 or flac")
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "task id to request (default: random UUID)")
	cmd.Flags().StringVar(&f.callback, "callback", "", "callback URL for completion (default: workflow.callback_url when --wait is not set)")
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "poll until the job finishes and download the results")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "give up waiting after this long (0: no limit)")
	cmd.Flags().StringVarP(&f.dir, "dir", "d", "", "result directory (default: workflow.download_dir)")
	cmd.Flags().BoolVar(&f.noCleanup, "no-cleanup", false, "keep server side task state after downloading")
	_ = cmd.MarkFlagRequired("preset")
	cmd.MarkFlagsMutuallyExclusive("file", "key", "presign")
	cmd.MarkFlagsOneRequired("file", "key", "presign")
	cmd.MarkFlagsMutuallyExclusive("wait", "callback")

	return cmd
}

func runSubmit(cmd *cobra.Command, a *app, f *submitFlags) error {
	ctx := cmd.Context()
	if f.wait && f.timeout <= 0 && (f.key != "" || f.presign != "") {
		return errors.New("--wait with --key or --presign requires --timeout")
	}
	if f.noCleanup {
		a.cfg.Workflow.Cleanup = false
	}
	coord, err := a.coordinator(ctx, f.presign != "" || f.key != "")
	if err != nil {
		return err
	}

	var job msst.Job
	switch {
	case f.file != "":
		job = coord.PrepareDirect(f.file, f.preset, f.format)
	case f.key != "":
		job = coord.PrepareStorageKey(f.key, f.preset, f.format)
	default:
		if len(f.outputs) == 0 {
			return errors.New("--presign needs at least one --output name")
		}
		if job, err = coord.PreparePresigned(ctx, f.presign, f.preset, f.outputs); err != nil {
			return err
		}
		job.OutputFormat = f.format
	}
	if f.taskID != "" {
		job.TaskID = f.taskID
	}

	dir := f.dir
	if dir == "" {
		dir = a.cfg.Workflow.DownloadDir
	}
	if f.wait {
		ctx, cancel := withTimeout(ctx, f.timeout)
		defer cancel()
		report, err := coord.Run(ctx, job, dir)
		if report != nil {
			printReport(cmd.OutOrStdout(), report)
		}
		return err
	}

	callback := f.callback
	if callback == "" {
		callback = a.cfg.Workflow.CallbackURL
	}
	var d workflow.Detection = workflow.Poll{Interval: a.cfg.Workflow.PollInterval}
	if callback != "" {
		d = workflow.Callback{Endpoint: callback}
		if a.cfg.Workflow.Tracker != "redis" {
			logger.Warnf(ctx, "tracker is %q: a separate callback server will not recognise this task", a.cfg.Workflow.Tracker)
		}
	}

	job, err = coord.Submit(ctx, job, d)
	if err != nil {
		return err
	}
	mode, _ := job.Mode()
	return printJSON(cmd, map[string]any{
		"task_id":      job.TaskID,
		"mode":         mode.String(),
		"callback_url": job.CallbackURL,
		"sink_keys":    job.SinkKeys,
	})
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show the current status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.msstClient()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newWaitCommand(a *app) *cobra.Command {
	var dir string
	var noCleanup bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait TASK_ID",
		Short: "Poll a submitted task until it finishes and download its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()
			id := args[0]
			coord, err := a.coordinator(ctx, false)
			if err != nil {
				return err
			}
			st, err := coord.Poller().Wait(ctx, id)
			if err != nil {
				return err
			}

			if dir == "" {
				dir = a.cfg.Workflow.DownloadDir
			}
			report := coord.Materializer().Materialize(ctx, id, workflow.RefsFromStatus(st, msst.Job{TaskID: id}), dir)
			printReport(cmd.OutOrStdout(), report)
			if report.OK() && a.cfg.Workflow.Cleanup && !noCleanup {
				coord.Materializer().Cleanup(ctx, id)
			}
			return report.Err()
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "result directory (default: workflow.download_dir)")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "keep server side task state after downloading")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long (0: no limit)")
	return cmd
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func newResultsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "results TASK_ID",
		Short: "List the result files of a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.msstClient()
			if err != nil {
				return err
			}
			res, err := client.Results(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newDownloadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download TASK_ID FILENAME [DEST]",
		Short: "Download one result file of a task",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.msstClient()
			if err != nil {
				return err
			}
			id, name := args[0], msst.Basename(args[1])
			dest := name
			if len(args) == 3 {
				dest = args[2]
			}

			pr, pw := io.Pipe()
			go func() {
				_, err := client.Download(cmd.Context(), id, name, pw)
				pw.CloseWithError(err)
			}()
			n, err := oss.WriteFileAtomic(dest, pr)
			_ = pr.Close()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\n", dest, n)
			return nil
		},
	}
}

func newCleanupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup TASK_ID",
		Short: "Delete server side state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.msstClient()
			if err != nil {
				return err
			}
			if err := client.Cleanup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s cleaned up\n", args[0])
			return nil
		},
	}
}

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the processing API health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.msstClient()
			if err != nil {
				return err
			}
			h, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, h)
		},
	}
}

func printReport(w io.Writer, r *workflow.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range r.Items {
		if it.Err != nil {
			fmt.Fprintf(tw, "FAIL\t%s\t%v\n", it.Ref.Name, it.Err)
			continue
		}
		fmt.Fprintf(tw, "OK\t%s\t%d bytes\t%s\n", it.Ref.Name, it.Bytes, it.Path)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "task %s: %d/%d results\n", r.TaskID, len(r.Succeeded()), len(r.Items))
}
