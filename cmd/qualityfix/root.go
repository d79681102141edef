package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agleyzer/qualityfix/internal/config"
)

// app holds parsed flags and the merged configuration
// (defaults < config file < flags).
type app struct {
	configPath   string
	verbose      bool
	verify       bool
	port         int
	upstream     string
	manifestHost string
	noBadge      bool
	disable      bool
	raftID       string
	raftBind     string
	peers        []string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qualityfix",
		Short: "Force the highest quality variant in HLS master manifests",
		Long: `qualityfix sits between a video player and the manifest host. Every master
playlist that passes through is reduced to its highest-bandwidth variant, and
the selected quality is reported at /quality.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable verbose logging")
	root.PersistentFlags().BoolVar(&a.verify, "verify", false, "Re-parse every rewritten manifest before using it")

	root.AddCommand(a.newServeCmd())
	root.AddCommand(a.newRewriteCmd())
	root.AddCommand(a.newInspectCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("verify") {
		cfg.Rewrite.Verify = a.verify
	}
	if flags.Changed("port") {
		cfg.Server.Port = a.port
	}
	if flags.Changed("upstream") {
		cfg.Upstream.URL = a.upstream
		if !flags.Changed("manifest-host") {
			// Re-derive from the new upstream unless set explicitly
			cfg.Upstream.ManifestHost = ""
		}
	}
	if flags.Changed("manifest-host") {
		cfg.Upstream.ManifestHost = a.manifestHost
	}
	if a.noBadge {
		cfg.Badge.Enabled = false
	}
	if a.disable {
		cfg.Rewrite.ForceHighestQuality = false
	}
	if a.raftID != "" {
		cfg.Cluster.Enabled = true
		cfg.Cluster.RaftID = a.raftID
	}
	if a.raftBind != "" {
		cfg.Cluster.BindAddr = a.raftBind
	}
	if len(a.peers) > 0 {
		cfg.Cluster.Peers = a.peers
	}

	// Validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// newLogger builds the application logger. Standard output is reserved for
// command results.
func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qualityfix %s\n", version)
		},
	}
}
