// Package cli provides the command-line interface for portsweep.
// It implements the Cobra-based command tree: a one-shot TCP connect scan
// and a watch mode that repeats the scan on a schedule.
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
)

const (
	envPrefix         = "PORTSWEEP"
	defaultConfigFile = "portsweep.yaml"
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// flagKeys maps command-line flags to configuration keys. A flag that was
// set on the command line wins over the environment, which wins over the
// config file.
var flagKeys = map[string]string{
	"min-port":     "scanning.min_port",
	"max-port":     "scanning.max_port",
	"concurrency":  "scanning.concurrency",
	"timeout":      "scanning.timeout_seconds",
	"rate":         "scanning.rate_limit",
	"dns-server":   "resolver.server",
	"metrics-addr": "metrics.listen_addr",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"schedule":     "watch.schedule",
}

// app holds the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *logging.Logger

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		stdout: stdout,
		stderr: stderr,
	}

	rootCmd := &cobra.Command{
		Use:   "portsweep",
		Short: "Concurrent TCP port scanner",
		Long: `portsweep finds the TCP ports of a host that accept connections.

It completes a full TCP handshake with every port of the requested range,
using a fixed pool of workers and a per-attempt timeout, and prints the
open ports in ascending order together with the elapsed time.`,
		Version:           getVersion(),
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.ErrInvalidJob(err.Error(), nil)
	})

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./"+defaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json")

	rootCmd.AddCommand(newScanCommand(a), newWatchCommand(a))
	return rootCmd
}

// Execute runs the root command with the process arguments and returns the
// exit code. SIGINT and SIGTERM cancel the running scan.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ExecuteContext(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteContext runs the command tree with args and maps the outcome to an
// exit code.
func ExecuteContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand(stdout, stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(stderr, err)
	}
	return errors.ExitCode(err)
}

func printError(w io.Writer, err error) {
	var se *errors.ScanError
	if !stderrors.As(err, &se) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	switch se.Code {
	case errors.CodeCanceled:
		fmt.Fprintln(w, "Scan cancelled before completion")
	case errors.CodeResolution:
		fmt.Fprintf(w, "Error: cannot resolve host %q", se.Target)
		if se.Cause != nil {
			fmt.Fprintf(w, ": %v", se.Cause)
		}
		fmt.Fprintln(w)
	default:
		msg := se.Message
		if se.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, se.Cause)
		}
		fmt.Fprintf(w, "Error: %s\n", msg)
	}
}

// initConfig loads .env, the config file, environment variables and flags,
// in increasing order of precedence, and sets up logging.
func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(a.stderr, "Warning: failed to load .env: %v\n", err)
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := bindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}

	path := a.cfgFile
	if path == "" {
		path = defaultConfigFile
	} else if _, err := os.Stat(path); err != nil {
		return errors.WrapScanError(errors.CodeConfiguration, "Cannot read config file", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		if errors.IsCode(err, errors.CodeConfiguration) {
			return err
		}
		return errors.WrapScanError(errors.CodeConfiguration, "Failed to load configuration", err)
	}
	a.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	return a.initLogging()
}

// bindFlags binds every known flag of fs to its configuration key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// applyOverrides copies settings given through flags or the environment
// into cfg. Job settings are resolved per command instead, so that an
// invalid port range is reported as an argument error.
func (a *app) applyOverrides(cfg *config.Config) {
	if a.v.IsSet("scanning.max_concurrency") {
		cfg.Scanning.MaxConcurrency = a.v.GetInt("scanning.max_concurrency")
	}
	if a.v.IsSet("resolver.server") {
		cfg.Resolver.Server = a.v.GetString("resolver.server")
	}
	if a.v.IsSet("resolver.timeout") {
		cfg.Resolver.Timeout = a.v.GetDuration("resolver.timeout")
	}
	if a.v.IsSet("logging.level") {
		cfg.Logging.Level = strings.ToLower(a.v.GetString("logging.level"))
	}
	if a.v.IsSet("logging.format") {
		cfg.Logging.Format = strings.ToLower(a.v.GetString("logging.format"))
	}
	if a.v.IsSet("logging.output") {
		cfg.Logging.Output = a.v.GetString("logging.output")
	}
	if a.v.IsSet("metrics.listen_addr") {
		cfg.Metrics.ListenAddr = a.v.GetString("metrics.listen_addr")
		cfg.Metrics.Enabled = cfg.Metrics.ListenAddr != ""
	}
	if a.v.IsSet("watch.schedule") {
		cfg.Watch.Schedule = a.v.GetString("watch.schedule")
	}
	if a.verbose {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
}

// initLogging initializes structured logging based on configuration.
func (a *app) initLogging() error {
	logConfig := a.cfg.LoggerConfig()
	logConfig.AddSource = a.cfg.Logging.Level == string(logging.LevelDebug)

	var logger *logging.Logger
	switch logConfig.Output {
	case "", "stderr":
		logger = logging.NewWithWriter(logConfig, a.stderr)
	default:
		l, err := logging.New(logConfig)
		if err != nil {
			return errors.WrapScanError(errors.CodeConfiguration, "Failed to initialize logging", err)
		}
		logger = l
	}

	logging.SetDefault(logger)
	a.logger = logger

	if a.verbose {
		logger.Debug("Structured logging initialized",
			"level", a.cfg.Logging.Level,
			"format", a.cfg.Logging.Format)
	}
	return nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}
