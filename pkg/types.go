package pkg

import (
	"fmt"
	"time"
)

// ProviderKind identifies a class of location provider
type ProviderKind string

const (
	// ProviderNetwork is the low-power provider and is always subscribed while watching
	ProviderNetwork ProviderKind = "network"
	// ProviderGPS is the high-power provider, subscribed only when enabled in settings
	ProviderGPS ProviderKind = "gps"
)

// LocationFix is a single reported location sample
type LocationFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float32 `json:"accuracy"`  // metres, radius of 68% confidence
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
	Provider  string  `json:"provider,omitempty"`
}

// Time returns the fix timestamp as a time.Time
func (f LocationFix) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}

func (f LocationFix) String() string {
	return fmt.Sprintf("%.6f,%.6f ±%.0fm @%d (%s)", f.Latitude, f.Longitude, f.Accuracy, f.Timestamp, f.Provider)
}

// Destination is the point and trigger radius the watcher is armed with
type Destination struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float32 `json:"radius"` // metres
}

// Valid reports whether the destination carries a trigger condition
func (d Destination) Valid() bool {
	return d.Radius > 0
}

// WatcherState is the lifecycle state of the proximity watcher
type WatcherState int

const (
	StateStopped WatcherState = iota
	StateWatching
	StateTriggered
)

func (s WatcherState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWatching:
		return "watching"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s WatcherState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *WatcherState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stopped":
		*s = StateStopped
	case "watching":
		*s = StateWatching
	case "triggered":
		*s = StateTriggered
	default:
		return fmt.Errorf("unknown watcher state %q", text)
	}
	return nil
}

// AlertSettings holds the user's arrival alert preferences, read once per watch session
type AlertSettings struct {
	SoundURI   string `json:"sound_uri"`
	Vibrate    bool   `json:"vibrate"`
	Insistent  bool   `json:"insistent"`
	SMSEnabled bool   `json:"sms_enabled"`
	SMSContact string `json:"sms_contact"`
	SMSMessage string `json:"sms_message"`
}

// SMSReady reports whether an arrival text should be sent
func (a AlertSettings) SMSReady() bool {
	return a.SMSEnabled && a.SMSContact != "" && a.SMSMessage != ""
}

// Alert is a one-shot user facing arrival alert
type Alert struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	SoundURI  string `json:"sound_uri,omitempty"`
	Vibrate   bool   `json:"vibrate"`
	Insistent bool   `json:"insistent"`
}

// Status is the ongoing indicator shown for the whole watching lifetime
type Status struct {
	State          WatcherState   `json:"state"`
	HasFix         bool           `json:"has_fix"`
	DistanceMeters int64          `json:"distance_m"`
	ETA            *time.Duration `json:"eta,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Arrival describes a triggered proximity condition
type Arrival struct {
	Destination    Destination `json:"destination"`
	Fix            LocationFix `json:"fix"`
	DistanceMeters float64     `json:"distance_m"`
	Timestamp      time.Time   `json:"timestamp"`
}
