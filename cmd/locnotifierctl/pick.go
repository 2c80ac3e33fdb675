package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markus-lassfolk/locnotifier/pkg/picker"
)

var (
	adjustZoom    int
	adjustMaxZoom int
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Stage and save a destination",
	Long: `Stage a destination point and trigger radius, then save it.
Without a subcommand the staged state is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := client().Picker(cmd.Context())
		if err != nil {
			return err
		}
		return printPicker(state)
	},
}

var pickLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Discard staged edits and reload the saved destination",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := client().LoadPicker(cmd.Context())
		if err != nil {
			return err
		}
		return printPicker(state)
	},
}

var pickPinCmd = &cobra.Command{
	Use:   "pin <lat> <lng>",
	Short: "Drop the pin at a coordinate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := parseFloatArg("latitude", args[0])
		if err != nil {
			return err
		}
		lng, err := parseFloatArg("longitude", args[1])
		if err != nil {
			return err
		}
		state, err := client().DropPin(cmd.Context(), lat, lng)
		if err != nil {
			return err
		}
		return printPicker(state)
	},
}

var pickRadiusCmd = &cobra.Command{
	Use:   "radius <meters>",
	Short: "Set the trigger radius",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meters, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid radius %q: %w", args[0], err)
		}
		radius, err := client().SetRadius(cmd.Context(), meters)
		if err != nil {
			return err
		}
		fmt.Printf("Radius: %d m\n", radius)
		return nil
	},
}

var pickAdjustCmd = &cobra.Command{
	Use:   "adjust <progress>",
	Short: "Set the radius from a slider position scaled by map zoom",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		progress, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid progress %q: %w", args[0], err)
		}
		radius, err := client().AdjustRadius(cmd.Context(), progress, adjustZoom, adjustMaxZoom)
		if err != nil {
			return err
		}
		fmt.Printf("Radius: %d m\n", radius)
		return nil
	},
}

var pickGPSCmd = &cobra.Command{
	Use:       "gps <on|off>",
	Short:     "Toggle use of the high-power provider",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch strings.ToLower(args[0]) {
		case "on", "true", "1":
			enabled = true
		case "off", "false", "0":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		state, err := client().SetUseGPS(cmd.Context(), enabled)
		if err != nil {
			return err
		}
		return printPicker(state)
	},
}

var pickSelectCmd = &cobra.Command{
	Use:   "select <index>",
	Short: "Move the pin to a result of the last search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[0], err)
		}
		result, err := client().SelectResult(cmd.Context(), index)
		if err != nil {
			return err
		}
		fmt.Printf("Pin moved to %s (%.6f,%.6f)\n", result.Address, result.Latitude, result.Longitude)
		return nil
	},
}

var pickSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist the staged destination",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := client().Save(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(dest)
		}
		fmt.Printf("Saved %.6f,%.6f radius %.0f m\n", dest.Latitude, dest.Longitude, dest.Radius)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Look up an address or place name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := client().Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(results)
		}
		for i, r := range results {
			fmt.Printf("[%d] %s (%.6f,%.6f)\n", i, r.Address, r.Latitude, r.Longitude)
		}
		return nil
	},
}

func init() {
	pickAdjustCmd.Flags().IntVar(&adjustZoom, "zoom", 15, "Current map zoom")
	pickAdjustCmd.Flags().IntVar(&adjustMaxZoom, "max-zoom", 21, "Maximum map zoom")

	pickCmd.AddCommand(pickLoadCmd, pickPinCmd, pickRadiusCmd, pickAdjustCmd, pickGPSCmd, pickSelectCmd, pickSaveCmd)
	rootCmd.AddCommand(searchCmd)
}

func printPicker(state picker.State) error {
	if jsonOutput {
		return printJSON(state)
	}
	if state.Point != nil {
		fmt.Printf("Pin:     %.6f,%.6f\n", state.Point.Latitude, state.Point.Longitude)
	} else {
		fmt.Println("Pin:     none")
	}
	fmt.Printf("Radius:  %d m\n", state.Radius)
	fmt.Printf("Use GPS: %t\n", state.UseGPS)
	if state.Busy {
		fmt.Println("Search in progress")
	}
	return nil
}
