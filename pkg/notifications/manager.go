package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// Channel delivers an arrival alert to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, alert pkg.Alert) error
}

// TextSender delivers a text message to a phone number
type TextSender interface {
	Send(ctx context.Context, number, message string) error
}

// Manager fans arrival alerts out to every configured channel
type Manager struct {
	logger   *logx.Logger
	channels []Channel
	sms      TextSender
}

// NewManager creates a manager with no channels; alerts are only logged until some are added
func NewManager(logger *logx.Logger) *Manager {
	return &Manager{logger: logger}
}

// NewManagerFromConfig builds the channels enabled in config.
// A broker that cannot be reached disables the event channel without failing startup.
func NewManagerFromConfig(config *Config, logger *logx.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notification config: %w", err)
	}

	m := NewManager(logger)
	client := &http.Client{Timeout: config.Timeout}

	if config.Pushover.Enabled {
		m.AddChannel(NewPushoverClient(&config.Pushover, logger, client))
	}
	if config.SMS.Enabled {
		m.SetTextSender(NewSMSClient(&config.SMS, logger, client))
	}
	if config.RabbitMQ.Enabled {
		publisher, err := DialEventPublisher(config.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Arrival events disabled", "error", err)
		} else {
			m.AddChannel(publisher)
		}
	}
	return m, nil
}

// AddChannel registers an alert channel
func (m *Manager) AddChannel(ch Channel) {
	m.channels = append(m.channels, ch)
}

// SetTextSender sets the SMS gateway
func (m *Manager) SetTextSender(sms TextSender) {
	m.sms = sms
}

// Channels returns the names of the registered channels
func (m *Manager) Channels() []string {
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Notify sends the alert on every channel. A failing channel does not stop the others.
func (m *Manager) Notify(ctx context.Context, alert pkg.Alert) error {
	m.logger.Info("Sending arrival alert", map[string]interface{}{
		"title":     alert.Title,
		"body":      alert.Body,
		"insistent": alert.Insistent,
		"channels":  len(m.channels),
	})

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			m.logger.Error("Alert channel failed", "channel", ch.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SendSMS sends an arrival text
func (m *Manager) SendSMS(ctx context.Context, number, message string) error {
	if m.sms == nil {
		return fmt.Errorf("no SMS gateway configured")
	}
	if err := m.sms.Send(ctx, number, message); err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	return nil
}

// Close releases channels that hold connections
func (m *Manager) Close() error {
	var errs []error
	for _, ch := range m.channels {
		if c, ok := ch.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
