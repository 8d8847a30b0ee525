package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/geo"
)

var errInvalidZones = errors.New("invalid zones")

func NewZonesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "Check that every configured zone boundary parses",
		Long: `Parse every geofence in the settings file and report the ones whose
boundary is not a usable polygon. Sessions skip such zones at runtime.

Examples:
  geotrack zones --settings config/settings.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runZones(rootOpts, cmd)
		},
	}
}

func runZones(opts *RootOptions, cmd *cobra.Command) error {
	if opts.SettingsPath == "" {
		return errors.New("--settings is required")
	}
	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !settings.EnableGeofences {
		fmt.Fprintln(out, "geofences are disabled, no zone will be evaluated")
	}

	cache := geo.NewCache()
	failed := 0
	for _, zone := range settings.Geofences {
		if err := cache.Build(zone.Name, zone.Boundary); err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", zone, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s\n", zone)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidZones, failed, len(settings.Geofences))
	}
	fmt.Fprintf(out, "%d zones ok\n", len(settings.Geofences))
	return nil
}
