package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/orchestra/internal/config"
	"github.com/roach88/orchestra/internal/engine"
	"github.com/roach88/orchestra/internal/ingress"
	"github.com/roach88/orchestra/internal/store"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take to
// finish once the server is signalled.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command. Flags left unset fall back
// to the ORCHESTRA_* environment.
type ServeOptions struct {
	*RootOptions
	Listen       string
	Workers      int
	PollInterval time.Duration
	MaxSteps     int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its HTTP ingress",
		Long: `Run the engine workers, the delay poller and the HTTP ingress until
interrupted.

Every step is handed to an external delegate: the attempt waits on a task
keyed by its node execution id, and the delegate reports the result with
POST /v1/notify/{id}. Plans are started with POST /v1/plan-executions.

On start, work left unfinished by a previous process is recovered.

Configuration is read from ORCHESTRA_DB, ORCHESTRA_LISTEN,
ORCHESTRA_WORKERS, ORCHESTRA_POLL_INTERVAL, ORCHESTRA_WAIT_TOPIC and
ORCHESTRA_MAX_STEPS; flags override them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serveConfig(opts, cmd)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", config.DefaultListenAddr, "HTTP listen address")
	cmd.Flags().IntVar(&opts.Workers, "workers", engine.DefaultWorkers, "engine worker goroutines")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", config.DefaultPollInterval, "delay poll interval")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "advisory cycles allowed per plan execution")

	return cmd
}

// serveConfig loads the environment configuration and applies the flags
// the user set explicitly.
func serveConfig(opts *ServeOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if f := cmd.Flag("db"); f != nil && f.Changed {
		cfg.DatabasePath = opts.Database
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = opts.Listen
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = opts.PollInterval
	}
	if flags.Changed("max-steps") {
		cfg.MaxAdviseCycles = opts.MaxSteps
	}
	if opts.Verbose {
		cfg.Verbose = true
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, cfg config.Config) error {
	if cfg.Verbose {
		setupLogging(cmd.ErrOrStderr(), true)
	}

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	eng := engine.New(st, ingress.TaskFacilitator{}, cfg.EngineOptions()...)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Recover(ctx); err != nil {
		return WrapExitError(ExitFailure, "recovery failed", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ingress.NewServer(eng),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return eng.Poller(cfg.PollInterval).Run(gctx)
	})
	g.Go(func() error {
		slog.Info("ingress listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ingress: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Orchestra serving on %s. Press Ctrl-C to stop.\n", cfg.ListenAddr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "serve failed", err)
	}
	slog.Info("orchestra stopped gracefully")
	return nil
}
