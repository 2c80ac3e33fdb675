package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/gps"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
	"github.com/markus-lassfolk/locnotifier/pkg/notifications"
	"github.com/markus-lassfolk/locnotifier/pkg/status"
	"github.com/markus-lassfolk/locnotifier/pkg/telem"
	"github.com/markus-lassfolk/locnotifier/pkg/watcher"
)

var (
	simLat      float64
	simLng      float64
	simRadius   float64
	simUseGPS   bool
	simSpeed    float64
	simLogLevel string
	simImperial bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <track.jsonl>",
	Short: "Replay a recorded track against a destination without a daemon",
	Long: `Replay a JSON-lines track of fixes through an in-process watcher.
Each line is a fix object with latitude, longitude, accuracy, timestamp (epoch ms)
and an optional kind of "network" or "gps". Alerts are only logged.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().Float64Var(&simLat, "lat", 0, "Destination latitude")
	simulateCmd.Flags().Float64Var(&simLng, "lng", 0, "Destination longitude")
	simulateCmd.Flags().Float64VarP(&simRadius, "radius", "r", 500, "Trigger radius in metres")
	simulateCmd.Flags().BoolVar(&simUseGPS, "gps", true, "Also deliver fixes recorded from the gps provider")
	simulateCmd.Flags().Float64Var(&simSpeed, "speed", 0, "Playback speed multiplier; 0 replays without delays")
	simulateCmd.Flags().StringVar(&simLogLevel, "log-level", "info", "Log level (debug|info|warn|error|trace)")
	simulateCmd.Flags().BoolVar(&simImperial, "imperial", false, "Show distances in feet")
	_ = simulateCmd.MarkFlagRequired("lat")
	_ = simulateCmd.MarkFlagRequired("lng")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open track: %w", err)
	}
	track, err := gps.LoadReplay(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to load track %s: %w", args[0], err)
	}

	logger := logx.NewLogger(simLogLevel, "simulate")
	formatter := status.Formatter{Imperial: func() bool { return simImperial }}
	fixes := telem.NewStore(track.Len())

	w := watcher.New(logger, track, status.NewLogSink(logger, formatter), notifications.NewManager(logger))
	w.SetFixLog(fixes)

	changes, cancel := w.Subscribe(8)
	defer cancel()

	dest := pkg.Destination{Latitude: simLat, Longitude: simLng, Radius: float32(simRadius)}
	if err := w.Start(dest, simUseGPS, pkg.AlertSettings{}); err != nil {
		return err
	}

	started := time.Now()
	delivered, err := track.Replay(cmd.Context(), simSpeed)
	if err != nil {
		w.Stop()
		return fmt.Errorf("replay interrupted after %d fixes: %w", delivered, err)
	}

	var arrived *watcher.StateChange
drain:
	for {
		select {
		case change := <-changes:
			if change.To == pkg.StateTriggered {
				c := change
				arrived = &c
			}
		default:
			break drain
		}
	}

	snap := w.Snapshot()
	w.Stop()

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"delivered": delivered,
			"accepted":  acceptedCount(fixes),
			"arrived":   arrived != nil,
			"watcher":   snap,
		})
	}

	fmt.Printf("Replayed %d of %d fixes in %s, %d accepted\n", delivered, track.Len(), time.Since(started).Round(time.Millisecond), acceptedCount(fixes))
	if arrived != nil {
		fmt.Printf("Arrived at %s\n", arrived.At.Format(time.RFC3339))
		return nil
	}
	if snap.Distance != nil {
		fmt.Printf("Not arrived, last trusted distance %.0f m\n", *snap.Distance)
	} else {
		fmt.Println("Not arrived, no fix was trusted")
	}
	return nil
}

func acceptedCount(fixes *telem.Store) int {
	n := 0
	for _, s := range fixes.Stats() {
		n += s.Accepted
	}
	return n
}
