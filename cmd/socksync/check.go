package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-dev/socksync/internal/config"
)

func checkCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file",
		Long: `Load and validate a config file without starting the server.

Prints the declared groups on success.`,
		Example: `  socksync check
  socksync check --config ./deploy/socksync.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, w := range cfg.Warnings() {
				fmt.Fprintf(out, "%s %s: %s\n", paint("\033[33m", "⚠"), configPath, w)
			}
			printGroups(out, cfg)
			fmt.Fprintf(out, "%s %s is valid (%d groups)\n", paint("\033[32m", "✓"), configPath, len(cfg.Groups))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultFileName, "Path to the config file")

	return cmd
}

// printGroups writes one row per declared group.
func printGroups(w io.Writer, cfg *config.Config) {
	if len(cfg.Groups) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSUBSCRIBABLE\tDETAILS")
	for _, g := range cfg.Groups {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", g.Name, g.Kind, g.IsSubscribable(), groupDetails(g))
	}
	tw.Flush()
}

func groupDetails(g config.GroupConfig) string {
	var parts []string
	switch g.Kind {
	case config.KindVar:
		parts = append(parts, fmt.Sprintf("value=%v", g.Value))
	case config.KindList:
		parts = append(parts, fmt.Sprintf("items=%d", len(g.Items)))
		if g.PageSize > 0 {
			parts = append(parts, fmt.Sprintf("page_size=%d", g.PageSize))
		}
		if g.PeerSetAll {
			parts = append(parts, "peer_set_all")
		}
		if g.Snapshot {
			parts = append(parts, "snapshot")
		}
	case config.KindFunction:
		if g.Remote {
			parts = append(parts, "remote")
		} else {
			parts = append(parts, "builtin="+g.Builtin)
		}
		if g.CallTimeout.Duration > 0 {
			parts = append(parts, "call_timeout="+g.CallTimeout.String())
		}
		if g.MaxConcurrent > 0 {
			parts = append(parts, fmt.Sprintf("max_concurrent=%d", g.MaxConcurrent))
		}
	}
	return strings.Join(parts, " ")
}
