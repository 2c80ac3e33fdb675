package status

import (
	"fmt"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/gps"
)

// AwaitingFixText is shown until the first trusted fix arrives
const AwaitingFixText = "Awaiting location fix"

// Message is the rendered status pushed to MQTT and websocket clients
type Message struct {
	State          pkg.WatcherState `json:"state"`
	Active         bool             `json:"active"`
	Text           string           `json:"text"`
	HasFix         bool             `json:"has_fix"`
	DistanceMeters int64            `json:"distance_m"`
	ETASeconds     *int64           `json:"eta_s,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Formatter renders watcher status as text. Imperial is consulted on every call so a
// settings change shows up on the next fix.
type Formatter struct {
	Imperial func() bool
}

func (f Formatter) imperial() bool {
	return f.Imperial != nil && f.Imperial()
}

// Text renders the indicator text for status
func (f Formatter) Text(s pkg.Status) string {
	if !s.HasFix {
		return AwaitingFixText
	}
	text := gps.FormatDistance(s.DistanceMeters, f.imperial()) + " to destination"
	if s.ETA != nil {
		text += fmt.Sprintf(", about %s", formatETA(*s.ETA))
	}
	return text
}

// Message renders status for publishing
func (f Formatter) Message(s pkg.Status) Message {
	m := Message{
		State:          s.State,
		Active:         true,
		Text:           f.Text(s),
		HasFix:         s.HasFix,
		DistanceMeters: s.DistanceMeters,
		Timestamp:      s.Timestamp,
	}
	if s.ETA != nil {
		secs := int64(s.ETA.Round(time.Second) / time.Second)
		m.ETASeconds = &secs
	}
	return m
}

// Cleared is the message published once the indicator is removed
func Cleared(at time.Time) Message {
	return Message{State: pkg.StateStopped, Timestamp: at}
}

func formatETA(d time.Duration) string {
	if d < time.Minute {
		return "1 min"
	}
	mins := int64((d + 30*time.Second) / time.Minute)
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	return fmt.Sprintf("%dh %02dm", mins/60, mins%60)
}
