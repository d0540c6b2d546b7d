package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/output"
	"github.com/anstrom/portsweep/internal/resolver"
	"github.com/anstrom/portsweep/internal/scanning"
)

const (
	progressInterval      = 2 * time.Second
	systemMetricsInterval = 5 * time.Second
)

// scanOptions holds the flags shared by scan and watch.
type scanOptions struct {
	format     string
	outputFile string
	showClosed bool
	progress   bool
}

func newScanCommand(a *app) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [host] [max-port]",
		Short: "Scan a host for open TCP ports",
		Long: `Scan every port of a range on one host with a TCP connect probe.

The host defaults to localhost and the range to 1-65535. A second
positional argument sets the highest port and overrides --max-port.
Each port is reported as open, closed (refused), timeout (no answer,
usually filtered) or error; only open ports and errors are listed.`,
		Example: `  portsweep scan
  portsweep scan 192.168.1.10 1024
  portsweep scan example.com --min-port 20 --max-port 443 -c 200 -t 1.5
  portsweep scan 10.0.0.5 --rate 500 --format json --output report.json`,
		Args: positionalArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.buildJob(cmd, args)
			if err != nil {
				return err
			}
			_, err = a.runScan(cmd.Context(), job, opts)
			return err
		},
	}

	addJobFlags(cmd)
	addOutputFlags(cmd, opts)
	return cmd
}

// addJobFlags defines the flags that describe a scan job.
func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().Int("min-port", scanning.MinPort, "lowest port to scan")
	cmd.Flags().Int("max-port", scanning.MaxPort, "highest port to scan")
	cmd.Flags().IntP("concurrency", "c", scanning.DefaultConcurrency,
		"number of concurrent connection attempts (capped at scanning.max_concurrency)")
	cmd.Flags().Float64P("timeout", "t", scanning.DefaultTimeout.Seconds(), "per-attempt timeout in seconds")
	cmd.Flags().Int("rate", 0, "maximum connection attempts per second (0 = unlimited)")
	cmd.Flags().String("dns-server", "", "resolve the host through this DNS server (host[:port])")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while scanning")
}

func addOutputFlags(cmd *cobra.Command, opts *scanOptions) {
	cmd.Flags().StringVar(&opts.format, "format", string(output.FormatText), "output format: text, json, yaml, xml")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "also save the report to this file (.json, .yaml, .xml)")
	cmd.Flags().BoolVar(&opts.showClosed, "show-closed", false, "show closed, timeout and error counts")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "log scan progress periodically")
}

func positionalArgs(_ *cobra.Command, args []string) error {
	if len(args) > 2 {
		return errors.ErrInvalidJob(fmt.Sprintf("expected at most 2 arguments (host, max-port), got %d", len(args)), nil)
	}
	return nil
}

// buildJob resolves the job settings from positional arguments, flags,
// environment and config file, in that order of precedence.
func (a *app) buildJob(cmd *cobra.Command, args []string) (scanning.Job, error) {
	s := a.cfg.Scanning

	host := s.DefaultHost
	if len(args) > 0 && args[0] != "" {
		host = args[0]
	}

	minPort := a.intSetting("scanning.min_port", s.MinPort)
	maxPort := a.intSetting("scanning.max_port", s.MaxPort)
	if len(args) > 1 {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return scanning.Job{}, errors.ErrInvalidJob(fmt.Sprintf("max port %q is not a number", args[1]), err)
		}
		maxPort = p
	}

	concurrency := a.intSetting("scanning.concurrency", s.Concurrency)
	if capped := a.cfg.ClampConcurrency(concurrency); capped != concurrency {
		a.logger.Warn("Concurrency capped", "requested", concurrency, "max", capped)
		concurrency = capped
	}

	timeout := s.Timeout
	if a.v.IsSet("scanning.timeout_seconds") {
		timeout = time.Duration(a.v.GetFloat64("scanning.timeout_seconds") * float64(time.Second))
	} else if a.v.IsSet("scanning.timeout") {
		timeout = a.v.GetDuration("scanning.timeout")
	}

	job := scanning.Job{
		Host:        host,
		MinPort:     minPort,
		MaxPort:     maxPort,
		Concurrency: concurrency,
		Timeout:     timeout,
		RateLimit:   a.intSetting("scanning.rate_limit", s.RateLimit),
	}
	if err := job.Validate(); err != nil {
		return scanning.Job{}, err
	}

	a.logger.Debug("Scan job configured",
		"command", cmd.Name(),
		"host", job.Host,
		"ports", job.Ports().String(),
		"concurrency", job.Concurrency,
		"timeout", job.Timeout,
		"rate_limit", job.RateLimit)
	return job, nil
}

func (a *app) intSetting(key string, fallback int) int {
	if a.v.IsSet(key) {
		return a.v.GetInt(key)
	}
	return fallback
}

// coordinatorOptions wires the resolver, logger and metrics recorder.
func (a *app) coordinatorOptions(recorder metrics.Recorder) []scanning.Option {
	return []scanning.Option{
		scanning.WithResolver(resolver.New(a.cfg.Resolver.Server, a.cfg.Resolver.Timeout)),
		scanning.WithLogger(a.logger),
		scanning.WithMetrics(recorder),
	}
}

// startMetrics serves Prometheus metrics and the progress stream when
// configured. The returned hub may be nil and stop is always safe to call.
func (a *app) startMetrics(ctx context.Context) (metrics.Recorder, *metrics.ProgressHub, func(), error) {
	if !a.cfg.IsMetricsEnabled() {
		return metrics.Noop{}, nil, func() {}, nil
	}

	pm := metrics.NewPrometheusMetrics()
	var accessLog io.Writer
	if a.cfg.Metrics.AccessLog {
		accessLog = a.stderr
	}
	server := metrics.NewServer(a.cfg.Metrics.ListenAddr, pm, a.logger, accessLog)
	if err := server.Start(); err != nil {
		return nil, nil, nil, errors.WrapScanError(errors.CodeConfiguration, "Cannot serve metrics", err)
	}

	updCtx, cancel := context.WithCancel(ctx)
	go pm.StartPeriodicUpdates(updCtx, systemMetricsInterval)

	return pm, server.Progress(), func() {
		cancel()
		if err := server.Stop(); err != nil {
			a.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}, nil
}

// runScan executes job, prints the report and saves it if requested.
// Cancelled scans still print their partial report.
func (a *app) runScan(ctx context.Context, job scanning.Job, opts *scanOptions) (*scanning.Report, error) {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return nil, errors.ErrInvalidJob(err.Error(), nil)
	}

	recorder, hub, stopMetrics, err := a.startMetrics(ctx)
	if err != nil {
		return nil, err
	}
	defer stopMetrics()

	coordinator := scanning.NewCoordinator(job, a.coordinatorOptions(recorder)...)
	report, err := a.runCoordinator(ctx, coordinator, hub, opts.progress)
	if err != nil && !errors.IsCode(err, errors.CodeCanceled) {
		return nil, err
	}

	if werr := output.Write(a.stdout, report, format, output.Options{ShowCounts: opts.showClosed}); werr != nil {
		return report, fmt.Errorf("failed to write report: %w", werr)
	}
	if opts.outputFile != "" {
		if serr := output.Save(report, opts.outputFile); serr != nil {
			return report, serr
		}
		a.logger.Info("Report saved", "path", opts.outputFile)
	}
	return report, err
}

// runCoordinator runs c while publishing progress to the log (when
// logProgress is set) and to hub.
func (a *app) runCoordinator(ctx context.Context, c *scanning.Coordinator, hub *metrics.ProgressHub,
	logProgress bool) (*scanning.Report, error) {
	if logProgress || hub != nil {
		progressCtx, stopProgress := context.WithCancel(ctx)
		defer stopProgress()
		go a.reportProgress(progressCtx, c, hub, logProgress)
	}

	report, err := c.Run(ctx)
	if report != nil {
		hub.Broadcast(metrics.ProgressUpdate{
			JobID:     report.JobID,
			Host:      report.Host,
			State:     string(report.State),
			Done:      report.Counts.Total,
			Total:     report.PortRange.Count(),
			OpenPorts: report.OpenPorts,
		})
	}
	return report, err
}

// reportProgress publishes done/total until ctx is cancelled or the scan ends.
func (a *app) reportProgress(ctx context.Context, c *scanning.Coordinator, hub *metrics.ProgressHub, logProgress bool) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := c.State()
			if state.Terminal() {
				return
			}
			done, total := c.Progress()
			hub.Broadcast(metrics.ProgressUpdate{
				JobID: c.ID(),
				Host:  c.Job().Host,
				State: string(state),
				Done:  done,
				Total: total,
			})
			if !logProgress {
				continue
			}
			percent := 0.0
			if total > 0 {
				percent = float64(done) * 100 / float64(total)
			}
			a.logger.Info("Scan progress",
				"job_id", c.ID(),
				"done", done,
				"total", total,
				"percent", fmt.Sprintf("%.1f", percent))
		}
	}
}
