package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/hub"
	"github.com/tetherhq/tether/internal/resume"
	"github.com/tetherhq/tether/internal/store"
	"github.com/tetherhq/tether/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Socket string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization hub",
		Long: `Run the synchronization hub.

Opens the database, listens on the daemon socket, and reconciles liveness
events from machine daemons into presence and the store until interrupted.

Example:
  tether serve --db ./tether.db --socket /run/tether.sock`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Socket, "socket", "", "daemon socket path (overrides config)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Socket != "" {
		cfg.Socket = opts.Socket
	}

	slog.Info("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st.SetPageLimits(store.PageLimits{
		Default: cfg.Messages.DefaultPage,
		Max:     cfg.Messages.MaxPage,
	})
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	slog.Info("listening for daemons", "socket", cfg.Socket)
	tr, err := transport.Listen(cfg.Socket)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen on socket", err)
	}
	defer tr.Close()

	h := hub.New(st, tr, hub.Options{Resume: resumeConfig(cfg)})
	h.OnError = func(err error) {
		slog.Error("event application failed", "error", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("hub running")
	if err := h.Run(ctx); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "hub stopped", err)
	}
	return nil
}

// resumeConfig maps the file config onto the resume protocol's knobs.
func resumeConfig(cfg config.Config) resume.Config {
	return resume.Config{
		OnlineTimeout: cfg.Resume.OnlineTimeout,
		AttachTimeout: cfg.Resume.AttachTimeout,
		MaxTurns:      cfg.Carryover.MaxTurns,
		MaxChars:      cfg.Carryover.MaxChars,
	}
}
