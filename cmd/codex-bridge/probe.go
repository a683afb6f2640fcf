package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/codex-bridge/internal/bridge"
	"github.com/floegence/codex-bridge/internal/endpointcache"
)

type probeResult struct {
	BaseURL string `json:"base_url"`
	Healthy bool   `json:"healthy"`
	Source  string `json:"source"`
}

func newProbeCmd(root *rootFlags) *cobra.Command {
	var (
		target  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check which bridge server endpoint answers its health check",
		Long:  "probe checks --url, or else the configured endpoint, the environment and the\ndesktop app preferences, and prints each result as JSON. It never launches a server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var candidates []probeResult
			add := func(raw string, src string) {
				if u, ok := bridge.NormalizeBaseURL(raw); ok {
					candidates = append(candidates, probeResult{BaseURL: u, Source: src})
				}
			}
			if strings.TrimSpace(target) != "" {
				add(target, "flag")
			} else {
				add(cfg.Backend.BaseURL, "config")
				if u, ok := bridge.BaseURLFromEnv(); ok {
					add(u, string(endpointcache.SourceEnv))
				}
				if u, ok := endpointcache.LegacyBaseURL(endpointcache.DefaultLegacyPath()); ok {
					add(u, string(endpointcache.SourceLegacy))
				}
			}
			if len(candidates) == 0 {
				return fmt.Errorf("no endpoint to probe (pass --url or set %s)", bridge.BaseURLEnvVars[0])
			}

			client := &http.Client{}
			enc := json.NewEncoder(cmd.OutOrStdout())
			healthy := false
			for _, c := range candidates {
				c.Healthy = bridge.Probe(ctx, client, c.BaseURL, cfg.Backend.HealthPath)
				healthy = healthy || c.Healthy
				if err := enc.Encode(c); err != nil {
					return err
				}
			}
			if !healthy {
				return fmt.Errorf("no bridge server answered")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "Probe this base URL only")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall probe timeout")
	return cmd
}
