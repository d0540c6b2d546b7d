package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/output"
	"github.com/anstrom/portsweep/internal/scanning"
	"github.com/anstrom/portsweep/internal/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	opts := &scanOptions{}
	var baseline string

	cmd := &cobra.Command{
		Use:   "watch [host] [max-port]",
		Short: "Repeat a scan on a schedule and report port changes",
		Long: `Run the same scan immediately and then on a cron schedule, printing
each report and logging the ports that opened or closed since the
previous complete run. Stop with Ctrl-C.

The schedule accepts five-field cron expressions and descriptors such
as @hourly or "@every 10m".`,
		Example: `  portsweep watch 192.168.1.10 1024 --schedule "@every 5m"
  portsweep watch db.internal --min-port 5432 --max-port 5432 --schedule "*/15 * * * *"
  portsweep watch 10.0.0.5 --baseline last.json`,
		Args: positionalArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.buildJob(cmd, args)
			if err != nil {
				return err
			}
			return a.runWatch(cmd.Context(), job, opts, baseline)
		},
	}

	addJobFlags(cmd)
	addOutputFlags(cmd, opts)
	cmd.Flags().String("schedule", "", "cron schedule (default from watch.schedule, \"@every 5m\")")
	cmd.Flags().StringVar(&baseline, "baseline", "", "saved report to compare the first run against")
	return cmd
}

// runWatch scans once, then keeps scanning on schedule until ctx is done.
// A fatal error on the first run aborts; later failures are only logged.
func (a *app) runWatch(ctx context.Context, job scanning.Job, opts *scanOptions, baseline string) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return errors.ErrInvalidJob(err.Error(), nil)
	}

	recorder, hub, stopMetrics, err := a.startMetrics(ctx)
	if err != nil {
		return err
	}
	defer stopMetrics()

	run := func(runCtx context.Context) (*scanning.Report, error) {
		c := scanning.NewCoordinator(job, a.coordinatorOptions(recorder)...)
		return a.runCoordinator(runCtx, c, hub, opts.progress)
	}

	handler := func(report *scanning.Report, diff watch.Diff) {
		if err := output.Write(a.stdout, report, format, output.Options{ShowCounts: opts.showClosed}); err != nil {
			a.logger.Warn("Failed to write report", "error", err)
		}
		if diff.Changed() && !diff.First {
			fmt.Fprintf(a.stdout, "Opened: %s\nClosed: %s\n",
				output.JoinPorts(diff.Opened), output.JoinPorts(diff.Closed))
		}
		if opts.outputFile != "" {
			if err := output.Save(report, opts.outputFile); err != nil {
				a.logger.Warn("Failed to save report", "path", opts.outputFile, "error", err)
			}
		}
	}

	w, err := watch.New(a.cfg.Watch.Schedule, run, handler, a.logger)
	if err != nil {
		return err
	}

	if baseline != "" {
		prev, err := output.Load(baseline)
		if err != nil {
			return errors.WrapScanError(errors.CodeValidation, "Cannot load baseline report", err)
		}
		w.SetBaseline(prev)
	}

	if _, err := w.RunOnce(ctx); err != nil {
		if errors.IsCode(err, errors.CodeCanceled) {
			return nil
		}
		return err
	}

	if err := w.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}
