package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/codex-bridge/internal/launcher"
)

func newLocateCmd(root *rootFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Print the bridge server executable that run would launch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			d := launcher.DefaultSearchDirs()
			if exe := strings.TrimSpace(cfg.Backend.Executable); exe != "" && d.Override == "" {
				d.Override = exe
			}
			if all {
				for _, c := range launcher.Candidates(d) {
					fmt.Fprintln(cmd.OutOrStdout(), c)
				}
				return nil
			}
			p, err := launcher.Locate(d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List every candidate path in resolution order")
	return cmd
}
