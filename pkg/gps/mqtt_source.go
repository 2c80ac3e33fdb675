package gps

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// TopicSubscriber is the part of the MQTT client the source needs
type TopicSubscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// fixMessage is the JSON payload published on <prefix>/fix/<provider>
type fixMessage struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float32 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
	Provider  string  `json:"provider,omitempty"`
}

// providerMessage is published on <prefix>/provider/<provider> when a provider changes state
type providerMessage struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// MQTTSource receives fixes pushed by an on-device positioning agent over MQTT.
// Each provider kind has its own topic; the topic is only subscribed while someone listens.
type MQTTSource struct {
	client TopicSubscriber
	prefix string
	logger *logx.Logger

	mu       sync.Mutex
	handlers *handlerSet
	active   map[pkg.ProviderKind]bool
}

// NewMQTTSource creates a source reading from <prefix>/fix/<kind>
func NewMQTTSource(client TopicSubscriber, prefix string, logger *logx.Logger) *MQTTSource {
	return &MQTTSource{
		client:   client,
		prefix:   strings.TrimSuffix(prefix, "/"),
		logger:   logger,
		handlers: newHandlerSet(),
		active:   make(map[pkg.ProviderKind]bool),
	}
}

func (s *MQTTSource) fixTopic(kind pkg.ProviderKind) string {
	return fmt.Sprintf("%s/fix/%s", s.prefix, kind)
}

func (s *MQTTSource) providerTopic(kind pkg.ProviderKind) string {
	return fmt.Sprintf("%s/provider/%s", s.prefix, kind)
}

func (s *MQTTSource) Subscribe(kind pkg.ProviderKind, handler FixHandler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active[kind] {
		if err := s.client.Subscribe(s.fixTopic(kind), s.fixHandler(kind)); err != nil {
			return Subscription{}, fmt.Errorf("subscribe %s fixes: %w", kind, err)
		}
		if err := s.client.Subscribe(s.providerTopic(kind), s.providerHandler(kind)); err != nil {
			// provider notices are informational only
			s.logger.Warn("provider_topic_subscribe_failed", "provider", kind, "error", err)
		}
		s.active[kind] = true
	}

	return s.handlers.add(kind, handler), nil
}

func (s *MQTTSource) Unsubscribe(sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	left, err := s.handlers.remove(sub)
	if err != nil {
		return err
	}
	if left > 0 || !s.active[sub.Kind] {
		return nil
	}

	s.active[sub.Kind] = false
	var firstErr error
	for _, topic := range []string{s.fixTopic(sub.Kind), s.providerTopic(sub.Kind)} {
		if err := s.client.Unsubscribe(topic); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unsubscribe %s: %w", topic, err)
		}
	}
	return firstErr
}

func (s *MQTTSource) fixHandler(kind pkg.ProviderKind) func(string, []byte) {
	return func(topic string, payload []byte) {
		fix, err := decodeFix(payload, kind)
		if err != nil {
			s.logger.Warn("invalid_fix_message", "topic", topic, "error", err)
			return
		}
		s.handlers.dispatch(kind, fix)
	}
}

func (s *MQTTSource) providerHandler(kind pkg.ProviderKind) func(string, []byte) {
	return func(topic string, payload []byte) {
		var msg providerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("invalid_provider_message", "topic", topic, "error", err)
			return
		}
		if msg.Enabled {
			s.logger.Info("provider_enabled", "provider", kind)
		} else {
			s.logger.Warn("provider_disabled", "provider", kind, "reason", msg.Reason)
		}
	}
}

func decodeFix(payload []byte, kind pkg.ProviderKind) (pkg.LocationFix, error) {
	var msg fixMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return pkg.LocationFix{}, fmt.Errorf("decode fix: %w", err)
	}

	fix := pkg.LocationFix{
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Accuracy:  msg.Accuracy,
		Timestamp: msg.Timestamp,
		Provider:  msg.Provider,
	}
	if fix.Provider == "" {
		fix.Provider = string(kind)
	}
	if err := ValidateFix(fix); err != nil {
		return pkg.LocationFix{}, err
	}
	return fix, nil
}
