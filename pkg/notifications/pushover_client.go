package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// PushoverClient delivers arrival alerts as Pushover messages
type PushoverClient struct {
	config *PushoverConfig
	logger *logx.Logger
	client *http.Client
	now    func() time.Time
}

// PushoverMessage represents a Pushover API message
type PushoverMessage struct {
	Token     string
	User      string
	Message   string
	Title     string
	Priority  int
	Sound     string
	Device    string
	Timestamp int64
	Retry     int
	Expire    int
}

// PushoverResponse represents the Pushover API response
type PushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors,omitempty"`
}

// NewPushoverClient creates a new Pushover client
func NewPushoverClient(config *PushoverConfig, logger *logx.Logger, client *http.Client) *PushoverClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushoverClient{
		config: config,
		logger: logger,
		client: client,
		now:    time.Now,
	}
}

func (pc *PushoverClient) Name() string { return "pushover" }

// Send delivers the alert. Insistent alerts use emergency priority so they repeat until acknowledged.
func (pc *PushoverClient) Send(ctx context.Context, alert pkg.Alert) error {
	if !pc.config.Enabled {
		return fmt.Errorf("Pushover is disabled")
	}
	return pc.sendMessage(ctx, pc.buildMessage(alert))
}

func (pc *PushoverClient) buildMessage(alert pkg.Alert) *PushoverMessage {
	msg := &PushoverMessage{
		Token:     pc.config.Token,
		User:      pc.config.User,
		Message:   alert.Body,
		Title:     alert.Title,
		Priority:  alertPriority(alert),
		Sound:     alertSound(alert.SoundURI),
		Device:    pc.config.Device,
		Timestamp: pc.now().Unix(),
	}
	if msg.Priority == PriorityEmergency {
		msg.Retry = pc.config.RetrySeconds
		msg.Expire = pc.config.ExpireSeconds
	}
	return msg
}

func alertPriority(alert pkg.Alert) int {
	switch {
	case alert.Insistent:
		return PriorityEmergency
	case alert.Vibrate:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// alertSound maps a tone setting onto a Pushover sound name. Empty keeps the user's default sound.
func alertSound(tone string) string {
	tone = strings.TrimSpace(tone)
	if i := strings.LastIndexAny(tone, "/:"); i >= 0 {
		tone = tone[i+1:]
	}
	return strings.ToLower(tone)
}

// sendMessage sends a message to the Pushover API
func (pc *PushoverClient) sendMessage(ctx context.Context, message *PushoverMessage) error {
	data := url.Values{}
	data.Set("token", message.Token)
	data.Set("user", message.User)
	data.Set("message", message.Message)

	if message.Title != "" {
		data.Set("title", message.Title)
	}
	if message.Priority != 0 {
		data.Set("priority", strconv.Itoa(message.Priority))
	}
	if message.Sound != "" {
		data.Set("sound", message.Sound)
	}
	if message.Device != "" {
		data.Set("device", message.Device)
	}
	if message.Timestamp > 0 {
		data.Set("timestamp", strconv.FormatInt(message.Timestamp, 10))
	}
	if message.Priority == PriorityEmergency {
		data.Set("retry", strconv.Itoa(message.Retry))
		data.Set("expire", strconv.Itoa(message.Expire))
	}

	apiURL := pc.config.APIURL
	if apiURL == "" {
		apiURL = defaultPushoverURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := pc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pushoverResp PushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if pushoverResp.Status != 1 {
		if len(pushoverResp.Errors) > 0 {
			return fmt.Errorf("Pushover API error: %v", pushoverResp.Errors)
		}
		return fmt.Errorf("Pushover API returned status %d", pushoverResp.Status)
	}

	pc.logger.Debug("Pushover notification sent successfully", "request_id", pushoverResp.Request)
	return nil
}
