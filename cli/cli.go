package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Oudwins/comfyrunner/internals/cliutil"
	"github.com/Oudwins/comfyrunner/internals/desktop"
	"github.com/Oudwins/comfyrunner/internals/env"
	"github.com/Oudwins/comfyrunner/internals/schemas"
	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/Oudwins/comfyrunner/internals/version"
	"github.com/Oudwins/comfyrunner/runnerd/server"
	"github.com/Oudwins/comfyrunner/sdk"
	"github.com/Oudwins/comfyrunner/tui"

	z "github.com/Oudwins/zog"
)

type rootOptions struct {
	daemonURL   string
	noAutostart bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "comfyrunner",
		Short:         "queue ComfyUI jobs and wait for their images",
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.daemonURL, "daemon-url", "", "control API address (default from COMFYRUNNER_PORT)")
	cmd.PersistentFlags().BoolVar(&opts.noAutostart, "no-autostart", false, "fail instead of starting the daemon")

	cmd.AddCommand(
		newServeCmd(),
		newStopCmd(opts),
		newSubmitCmd(opts),
		newLatestCmd(opts),
		newLogsCmd(opts),
		newHistoryCmd(opts),
		newResetCmd(opts),
		newCheckpointsCmd(opts),
		newTuiCmd(opts),
	)
	return cmd
}

// client returns a daemon client, starting the daemon first unless disabled.
func (o *rootOptions) client() (*sdk.Client, error) {
	baseURL := o.daemonURL
	if baseURL == "" {
		baseURL = env.Get().BASE_URL
	}
	client := sdk.NewClient(sdk.WithBaseURL(baseURL))
	if o.noAutostart {
		return client, nil
	}
	if err := cliutil.EnsureDaemonRunning(client); err != nil {
		return nil, err
	}
	return client, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			s := server.New()
			go func() {
				<-ctx.Done()
				s.Shutdown()
			}()
			return s.Start()
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "shut the daemon down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stopOpts := *opts
			stopOpts.noAutostart = true
			client, err := stopOpts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondShort)
			defer cancel()
			if err := client.Shutdown(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "daemon stopping")
			return nil
		},
	}
}

type submitOptions struct {
	request schemas.SubmitRequest
	seed    int64
	wait    time.Duration
	open    bool
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	so := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit [positive prompt]",
		Short: "queue one image job",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			request := so.request
			if request.Positive == "" {
				request.Positive = strings.Join(args, " ")
			}
			request.SeedMode = schemas.SeedRandom
			if cmd.Flags().Changed("seed") {
				request.SeedMode, request.Seed = schemas.SeedFixed, so.seed
			}
			if issues := schemas.SubmitSchema.Validate(&request); len(issues) > 0 {
				return fmt.Errorf("invalid arguments: %v", z.Issues.Flatten(issues))
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			summary, err := client.Submit(ctx, request)
			if errors.Is(err, sdk.ErrNotSaved) {
				return errors.New("image not saved yet! wait for the running job or run `comfyrunner reset`")
			}
			if err != nil {
				return err
			}
			cliutil.PrintJobSubmitted(cmd.OutOrStdout(), summary)

			if so.wait <= 0 {
				return nil
			}
			job, err := client.WaitJob(cmd.Context(), summary.JobID, so.wait)
			if err != nil {
				return err
			}
			if len(job.Paths) == 0 {
				return fmt.Errorf("job %s saved no images", job.JobID)
			}
			return showPath(cmd, job.Paths[0], so.open)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&so.request.Positive, "positive", "p", "", "positive prompt")
	flags.StringVarP(&so.request.Negative, "negative", "n", "", "negative prompt")
	flags.StringVar(&so.request.Checkpoint, "checkpoint", "", "checkpoint file name")
	flags.StringVarP(&so.request.Resolution, "resolution", "r", "", "WIDTHxHEIGHT, overrides --width/--height")
	flags.IntVar(&so.request.Width, "width", 0, "image width")
	flags.IntVar(&so.request.Height, "height", 0, "image height")
	flags.StringVar(&so.request.Preset, "preset", "", "sampler preset name")
	flags.Int64Var(&so.seed, "seed", 0, "fixed seed (random when unset)")
	flags.IntVar(&so.request.Steps, "steps", 0, "sampling steps")
	flags.Float64Var(&so.request.CFG, "cfg", 0, "classifier-free guidance scale")
	flags.Float64Var(&so.request.Denoise, "denoise", 0, "denoise strength")
	flags.IntVar(&so.request.ClipSkip, "clip-skip", 0, "CLIP skip, negative")
	flags.StringVar(&so.request.FilenamePrefix, "prefix", "", "output filename prefix (default yymmdd)")
	flags.DurationVarP(&so.wait, "wait", "w", 0, "wait up to this long for this job's image and print its path")
	flags.BoolVar(&so.open, "open", false, "open the saved image in the default viewer (with --wait)")
	return cmd
}

func newLatestCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration
	var open bool
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "print the newest saved image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			path, err := client.Latest(cmd.Context(), wait)
			if err != nil {
				return err
			}
			return showPath(cmd, path, open)
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "wait for the next saved image")
	cmd.Flags().BoolVar(&open, "open", false, "open the image in the default viewer")
	return cmd
}

func showPath(cmd *cobra.Command, path string, open bool) error {
	cliutil.PrintPath(cmd.OutOrStdout(), path)
	if !open {
		return nil
	}
	return desktop.OpenPath(path)
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var serverLog bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "print the job event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			read := client.WebSocketLog
			if serverLog {
				read = client.ServerLog
			}
			text, err := read(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(text, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&serverLog, "server", false, "print the upstream process log instead")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "list past jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			jobs, err := client.History(ctx, limit)
			if err != nil {
				return err
			}
			cliutil.PrintHistory(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "forget the current session's jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondShort)
			defer cancel()
			cleared, err := client.ResetSession(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d job(s)\n", cleared)
			return nil
		},
	}
}

func newCheckpointsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "list available checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondShort)
			defer cancel()
			response, err := client.Checkpoints(ctx)
			if err != nil {
				return err
			}
			cliutil.PrintCheckpoints(cmd.OutOrStdout(), response)
			return nil
		},
	}
}

func newTuiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "fill in a job interactively and follow it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			return tui.Run(client)
		},
	}
}
