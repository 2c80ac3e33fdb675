package uci

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg/mqtt"
	"github.com/markus-lassfolk/locnotifier/pkg/notifications"
)

// DefaultPath is where the daemon looks for its configuration
const DefaultPath = "/etc/config/locnotifier"

// Default configuration values
const (
	DefaultSettingsDB      = "/etc/locnotifier/settings.db"
	DefaultHistoryDB       = "/var/lib/locnotifier/history.db"
	DefaultPIDFile         = "/var/run/locnotifierd.pid"
	DefaultListen          = "127.0.0.1:8089"
	DefaultFixBuffer       = 500
	DefaultAlertTimeoutS   = 30
	DefaultStarlinkHost    = "192.168.100.1"
	DefaultStarlinkPort    = 9200
	DefaultStarlinkPollS   = 5
	DefaultStarlinkTimeout = 10
)

// Config represents the locnotifier configuration
type Config struct {
	// Main configuration
	Enable        bool   `json:"enable"`
	LogLevel      string `json:"log_level"`
	SettingsDB    string `json:"settings_db"`
	HistoryDB     string `json:"history_db"`
	PIDFile       string `json:"pid_file"`
	FixBuffer     int    `json:"fix_buffer"`
	AlertTimeoutS int    `json:"alert_timeout_s"`

	// Control API
	APIEnabled     bool   `json:"api_enabled"`
	APIListen      string `json:"api_listen"`
	APIKeyHash     string `json:"api_key_hash"`
	MetricsEnabled bool   `json:"metrics_enabled"`

	// MQTT location feed and status publishing
	MQTT mqtt.Config `json:"mqtt"`

	// Starlink dish as a location provider
	StarlinkEnabled  bool   `json:"starlink_enabled"`
	StarlinkHost     string `json:"starlink_host"`
	StarlinkPort     int    `json:"starlink_port"`
	StarlinkTimeoutS int    `json:"starlink_timeout_s"`
	StarlinkPollS    int    `json:"starlink_poll_s"`
	StarlinkKind     string `json:"starlink_kind"`

	// Geocoding
	GeocoderAPIKey string `json:"geocoder_api_key"`
	GeocoderRegion string `json:"geocoder_region"`

	Notifications notifications.Config `json:"notifications"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// LoadConfig loads and validates the configuration. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.parseUCI(string(data)); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Enable = true
	c.LogLevel = "info"
	c.SettingsDB = DefaultSettingsDB
	c.HistoryDB = DefaultHistoryDB
	c.PIDFile = DefaultPIDFile
	c.FixBuffer = DefaultFixBuffer
	c.AlertTimeoutS = DefaultAlertTimeoutS

	c.APIEnabled = true
	c.APIListen = DefaultListen
	c.MetricsEnabled = true

	c.MQTT = *mqtt.DefaultConfig()

	c.StarlinkHost = DefaultStarlinkHost
	c.StarlinkPort = DefaultStarlinkPort
	c.StarlinkTimeoutS = DefaultStarlinkTimeout
	c.StarlinkPollS = DefaultStarlinkPollS
	c.StarlinkKind = "gps"

	c.Notifications = *notifications.DefaultConfig()
}

// AlertTimeout returns the per-alert delivery deadline
func (c *Config) AlertTimeout() time.Duration {
	return time.Duration(c.AlertTimeoutS) * time.Second
}

// parseUCI parses UCI text: "config <type> '<name>'" headers followed by "option <name> '<value>'" lines
func (c *Config) parseUCI(text string) error {
	var sectionType string

	for n, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, rest, _ := strings.Cut(line, " ")
		switch keyword {
		case "config":
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				return fmt.Errorf("line %d: config without a type", n+1)
			}
			sectionType = fields[0]
		case "option":
			name, value, ok := strings.Cut(strings.TrimSpace(rest), " ")
			if !ok {
				return fmt.Errorf("line %d: option %q without a value", n+1, name)
			}
			if sectionType == "" {
				return fmt.Errorf("line %d: option %q outside a section", n+1, name)
			}
			c.parseOption(sectionType, name, unquote(strings.TrimSpace(value)))
		case "list":
			// no list options are used
		default:
			return fmt.Errorf("line %d: unexpected %q", n+1, keyword)
		}
	}
	return nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// parseOption routes options to appropriate parsers based on section type
func (c *Config) parseOption(sectionType, option, value string) {
	switch sectionType {
	case "locnotifier":
		c.parseMainOption(option, value)
	case "api":
		c.parseAPIOption(option, value)
	case "mqtt":
		c.parseMQTTOption(option, value)
	case "starlink":
		c.parseStarlinkOption(option, value)
	case "geocoder":
		c.parseGeocoderOption(option, value)
	case "notifications":
		c.parseNotificationsOption(option, value)
	}
}

func (c *Config) parseMainOption(option, value string) {
	switch option {
	case "enable":
		c.Enable = value == "1"
	case "log_level":
		c.LogLevel = value
	case "settings_db":
		c.SettingsDB = value
	case "history_db":
		c.HistoryDB = value
	case "pid_file":
		c.PIDFile = value
	case "fix_buffer":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.FixBuffer = v
		}
	case "alert_timeout_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 && v <= 300 {
			c.AlertTimeoutS = v
		}
	}
}

func (c *Config) parseAPIOption(option, value string) {
	switch option {
	case "enabled":
		c.APIEnabled = value == "1"
	case "listen":
		c.APIListen = value
	case "key_hash":
		c.APIKeyHash = value
	case "metrics":
		c.MetricsEnabled = value == "1"
	}
}

func (c *Config) parseMQTTOption(option, value string) {
	switch option {
	case "enabled":
		c.MQTT.Enabled = value == "1"
	case "broker":
		c.MQTT.Broker = value
	case "port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 && v <= 65535 {
			c.MQTT.Port = v
		}
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = strings.TrimSuffix(value, "/")
	case "qos":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 && v <= 2 {
			c.MQTT.QoS = v
		}
	}
}

// parseStarlinkOption parses Starlink API configuration options
func (c *Config) parseStarlinkOption(option, value string) {
	switch option {
	case "enabled":
		c.StarlinkEnabled = value == "1"
	case "host":
		if value != "" {
			c.StarlinkHost = value
		}
	case "port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 && v <= 65535 {
			c.StarlinkPort = v
		}
	case "timeout_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 && v <= 300 {
			c.StarlinkTimeoutS = v
		}
	case "poll_interval_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 && v <= 3600 {
			c.StarlinkPollS = v
		}
	case "kind":
		c.StarlinkKind = value
	}
}

func (c *Config) parseGeocoderOption(option, value string) {
	switch option {
	case "api_key":
		c.GeocoderAPIKey = value
	case "region":
		c.GeocoderRegion = value
	}
}

func (c *Config) parseNotificationsOption(option, value string) {
	n := &c.Notifications
	switch option {
	case "pushover_enabled":
		n.Pushover.Enabled = value == "1"
	case "pushover_token":
		n.Pushover.Token = value
	case "pushover_user":
		n.Pushover.User = value
	case "pushover_device":
		n.Pushover.Device = value
	case "pushover_retry":
		if v, err := strconv.Atoi(value); err == nil {
			n.Pushover.RetrySeconds = v
		}
	case "pushover_expire":
		if v, err := strconv.Atoi(value); err == nil && v > 0 && v <= 10800 {
			n.Pushover.ExpireSeconds = v
		}
	case "sms_enabled":
		n.SMS.Enabled = value == "1"
	case "sms_provider":
		n.SMS.Provider = value
	case "twilio_account_sid":
		n.SMS.TwilioAccountSID = value
	case "twilio_auth_token":
		n.SMS.TwilioAuthToken = value
	case "twilio_from_number":
		n.SMS.TwilioFromNumber = value
	case "sms_webhook_url":
		n.SMS.CustomWebhookURL = value
	case "rabbitmq_enabled":
		n.RabbitMQ.Enabled = value == "1"
	case "rabbitmq_url":
		n.RabbitMQ.URL = value
	case "rabbitmq_exchange":
		n.RabbitMQ.Exchange = value
	case "timeout_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			n.Timeout = time.Duration(v) * time.Second
		}
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("log_level must be one of debug, info, warn, error, trace")
	}
	if c.SettingsDB == "" {
		return fmt.Errorf("settings_db must not be empty")
	}
	if c.APIEnabled && c.APIListen == "" {
		return fmt.Errorf("api listen address must not be empty")
	}
	if c.StarlinkKind != "gps" && c.StarlinkKind != "network" {
		return fmt.Errorf("starlink kind must be gps or network, got %q", c.StarlinkKind)
	}
	if err := c.Notifications.Validate(); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}
