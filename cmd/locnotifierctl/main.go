package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/markus-lassfolk/locnotifier/pkg/api"
)

const (
	AppName    = "locnotifierctl"
	AppVersion = "1.0.0"
)

var (
	apiURL     string
	apiKey     string
	timeout    time.Duration
	jsonOutput bool
	limit      int
)

var rootCmd = &cobra.Command{
	Use:           AppName,
	Short:         "Control the location notifier daemon",
	Long:          `Inspect and steer a running locnotifierd through its control API, or replay a recorded track offline.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watcher state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client().Status(cmd.Context())
		if err != nil {
			return err
		}
		return printStatus(resp)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching the saved destination",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client().Start(cmd.Context())
		if err != nil {
			return err
		}
		return printStatus(resp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop watching",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client().Stop(cmd.Context())
		if err != nil {
			return err
		}
		return printStatus(resp)
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change persisted settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print all settings, or a single key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := client().Settings(cmd.Context())
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return printJSON(values)
		}
		value, ok := values[args[0]]
		if !ok {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		fmt.Println(value)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().SetSetting(cmd.Context(), args[0], args[1])
	},
}

var fixesCmd = &cobra.Command{
	Use:   "fixes",
	Short: "List recently received fixes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := client().Fixes(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(entries)
		}
		for _, e := range entries {
			verdict := "rejected"
			if e.Accepted {
				verdict = "accepted"
			}
			fmt.Printf("%s  %-8s  %s\n", e.ReceivedAt.Format(time.RFC3339), verdict, e.Fix)
		}
		return nil
	},
}

var arrivalsCmd = &cobra.Command{
	Use:   "arrivals",
	Short: "List past arrivals, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		arrivals, err := client().Arrivals(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(arrivals)
		}
		for _, a := range arrivals {
			fmt.Printf("%s  %.6f,%.6f r=%.0fm  at %.0fm\n", a.Timestamp.Format(time.RFC3339),
				a.Destination.Latitude, a.Destination.Longitude, a.Destination.Radius, a.DistanceMeters)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "url", "u", envOr("LOCNOTIFIER_URL", "http://127.0.0.1:8089"), "Control API base URL")
	rootCmd.PersistentFlags().StringVarP(&apiKey, "key", "k", os.Getenv("LOCNOTIFIER_API_KEY"), "Control API key")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")

	fixesCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	arrivalsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")

	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, settingsCmd, fixesCmd, arrivalsCmd, pickCmd, simulateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func client() *api.Client {
	return api.NewClient(apiURL, apiKey, timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printStatus(resp api.StatusResponse) error {
	if jsonOutput {
		return printJSON(resp)
	}
	snap := resp.Watcher
	fmt.Printf("State:       %s\n", snap.State)
	if snap.Destination.Valid() {
		fmt.Printf("Destination: %.6f,%.6f (radius %.0f m)\n", snap.Destination.Latitude, snap.Destination.Longitude, snap.Destination.Radius)
	}
	if snap.TrustedFix != nil {
		fmt.Printf("Last fix:    %s\n", snap.TrustedFix)
	}
	if snap.Distance != nil {
		fmt.Printf("Distance:    %.0f m\n", *snap.Distance)
	}
	if snap.ETA != nil {
		fmt.Printf("ETA:         %s\n", snap.ETA.Round(time.Second))
	}
	if resp.Uptime != "" {
		fmt.Printf("Uptime:      %s\n", resp.Uptime)
	}
	return nil
}

func parseFloatArg(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}
