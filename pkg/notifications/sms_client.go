package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// SMSClient hands arrival texts to an SMS gateway
type SMSClient struct {
	config *SMSConfig
	logger *logx.Logger
	client *http.Client
	now    func() time.Time
}

// NewSMSClient creates a new SMS client
func NewSMSClient(config *SMSConfig, logger *logx.Logger, client *http.Client) *SMSClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SMSClient{
		config: config,
		logger: logger,
		client: client,
		now:    time.Now,
	}
}

// Send texts message to number, cut to a single SMS segment
func (s *SMSClient) Send(ctx context.Context, number, message string) error {
	if !s.config.Enabled {
		return fmt.Errorf("SMS notifications are disabled")
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return fmt.Errorf("SMS recipient is empty")
	}
	message = truncateSMS(message)

	var (
		req *http.Request
		err error
	)
	switch s.config.Provider {
	case "twilio":
		req, err = s.twilioRequest(ctx, number, message)
	case "custom":
		req, err = s.webhookRequest(ctx, number, message)
	default:
		return fmt.Errorf("unsupported SMS provider: %s", s.config.Provider)
	}
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway: %w", s.config.Provider, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if !s.accepted(resp.StatusCode) {
		return fmt.Errorf("%s gateway rejected message: %s", s.config.Provider, resp.Status)
	}

	s.logger.Info("Arrival SMS sent", "provider", s.config.Provider, "to", number)
	return nil
}

func truncateSMS(message string) string {
	runes := []rune(message)
	if len(runes) <= smsMaxLength {
		return message
	}
	return string(runes[:smsMaxLength-3]) + "..."
}

// Twilio answers 201 on a queued message; custom gateways any 2xx
func (s *SMSClient) accepted(code int) bool {
	if s.config.Provider == "twilio" {
		return code == http.StatusCreated
	}
	return code >= 200 && code < 300
}

func (s *SMSClient) twilioRequest(ctx context.Context, number, message string) (*http.Request, error) {
	c := s.config
	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
		return nil, fmt.Errorf("twilio configuration incomplete")
	}

	base := c.TwilioAPIBase
	if base == "" {
		base = defaultTwilioBase
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimSuffix(base, "/"), url.PathEscape(c.TwilioAccountSID))

	form := url.Values{"To": {number}, "From": {c.TwilioFromNumber}, "Body": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.TwilioAccountSID, c.TwilioAuthToken)
	return req, nil
}

// webhookRequest posts {to, message, timestamp} to a user supplied gateway
func (s *SMSClient) webhookRequest(ctx context.Context, number, message string) (*http.Request, error) {
	if s.config.CustomWebhookURL == "" {
		return nil, fmt.Errorf("custom webhook URL not configured")
	}

	body, err := json.Marshal(struct {
		To        string `json:"to"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
	}{number, message, s.now().Unix()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.CustomWebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.config.CustomHeaders {
		req.Header.Set(key, value)
	}
	return req, nil
}
