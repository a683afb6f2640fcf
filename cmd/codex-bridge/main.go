package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/floegence/codex-bridge/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "codex-bridge: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "codex-bridge",
		Short:         "Local host between the chat UI and the Codex bridge server",
		Long:          "codex-bridge locates or launches the bridge server, keeps one websocket to it,\nand serves the chat UI on a loopback port.",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultConfigPath(), "Config file path")

	cmd.AddCommand(
		newRunCmd(flags),
		newLocateCmd(flags),
		newProbeCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

func versionString() string {
	return fmt.Sprintf("codex-bridge %s (%s) %s", Version, Commit, BuildTime)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return nil
		},
	}
}

// loadConfig reads the config file without creating it and applies the
// environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
