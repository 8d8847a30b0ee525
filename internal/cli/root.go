// Package cli implements the geotrack command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	SettingsPath string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "geotrack",
		Short: "Evaluate device position streams against zones and speed limits",
	}

	cmd.PersistentFlags().StringVar(&opts.SettingsPath, "settings", "", "evaluation settings file (YAML)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewZonesCommand(opts))

	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
