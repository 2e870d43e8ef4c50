package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/hub"
	"github.com/tetherhq/tether/internal/store"
	"github.com/tetherhq/tether/internal/transport"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DB         string // overrides the config file's db path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tether CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tether",
		Short: "tether - remote coding-agent session coordination",
		Long: "Coordinates long-lived remote coding-agent sessions: durable ordered\n" +
			"conversation logs, optimistic-concurrency session/machine state, presence,\n" +
			"resume, and notification fan-out.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewMessagesCommand(opts))
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewTrimCommand(opts))
	cmd.AddCommand(NewSubscribeCommand(opts))
	cmd.AddCommand(NewUnsubscribeCommand(opts))
	cmd.AddCommand(NewRecipientsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig resolves the effective configuration from flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.DB != "" {
		cfg.DB = opts.DB
	}
	return cfg, nil
}

// openHub opens the store and assembles a hub over a loopback transport
// for commands that operate on durable state only. The caller closes the
// returned store.
func openHub(opts *RootOptions) (*hub.Hub, *store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st.SetPageLimits(store.PageLimits{
		Default: cfg.Messages.DefaultPage,
		Max:     cfg.Messages.MaxPage,
	})

	h := hub.New(st, transport.NewLoopback(nil), hub.Options{
		Resume: resumeConfig(cfg),
	})
	return h, st, nil
}
