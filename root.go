package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/config"
	"github.com/emirbensusan/lotastro-sync/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that load (or create) configuration
// themselves.
const skipConfigAnnotation = "skipConfig"

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	StorePath  string
	RemoteURL  string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is what PersistentPreRunE hands to every subcommand through the
// command context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger

	logCloser io.Closer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext panics when the root pre-run did not install a context,
// which only happens if a command is executed outside newRootCmd.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("lotasync: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:     "lotasync",
		Short:   "Offline-first sync engine",
		Long:    "Local store, durable mutation queue and background sync against a REST backend.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc := &CLIContext{Flags: *flags}

			if cmd.Annotations[skipConfigAnnotation] != "true" {
				if err := loadConfig(cc); err != nil {
					return err
				}
			}

			if err := buildLogger(cc); err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.logCloser != nil {
				return cc.logCloser.Close()
			}

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.StorePath, "db", "", "database file path")
	pf.StringVar(&flags.RemoteURL, "remote", "", "remote API base URL")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newNetworkCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain.
func loadConfig(cc *CLIContext) error {
	cli := config.CLIOverrides{
		ConfigPath: cc.Flags.ConfigPath,
		StorePath:  cc.Flags.StorePath,
		RemoteURL:  cc.Flags.RemoteURL,
	}

	cfg, cfgPath, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.CfgPath = cfgPath

	return nil
}

// buildLogger creates the logger from the resolved config. --verbose and
// --quiet override the configured level because CLI flags always win.
func buildLogger(cc *CLIContext) error {
	opts := logging.Options{Format: logging.FormatAuto}
	if cc.Cfg != nil {
		opts = cc.Cfg.Logging.Options()
	}

	if cc.Flags.Verbose {
		opts.Level = "debug"
	}

	if cc.Flags.Quiet {
		opts.Level = "error"
	}

	logger, closer, err := logging.New(opts, os.Stderr)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	cc.Logger = logger
	cc.logCloser = closer

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
