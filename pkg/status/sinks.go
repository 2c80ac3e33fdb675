package status

import (
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// Sink receives watcher status. Sinks are called with the watcher lock held and must not block.
type Sink interface {
	Update(s pkg.Status)
	Clear()
}

// Multi forwards to several sinks in order
type Multi []Sink

func (m Multi) Update(s pkg.Status) {
	for _, sink := range m {
		sink.Update(s)
	}
}

func (m Multi) Clear() {
	for _, sink := range m {
		sink.Clear()
	}
}

// LogSink logs the indicator text whenever it changes
type LogSink struct {
	logger    *logx.Logger
	formatter Formatter
	last      string
}

func NewLogSink(logger *logx.Logger, formatter Formatter) *LogSink {
	return &LogSink{logger: logger, formatter: formatter}
}

func (l *LogSink) Update(s pkg.Status) {
	text := l.formatter.Text(s)
	if text == l.last {
		return
	}
	l.last = text
	l.logger.Info("Status updated", "text", text, "state", s.State.String())
}

func (l *LogSink) Clear() {
	if l.last == "" {
		return
	}
	l.last = ""
	l.logger.Info("Status cleared")
}

// Publisher is the part of the MQTT client the sink needs
type Publisher interface {
	PublishJSON(topic string, payload interface{}, retained bool) error
}

// MQTTSink publishes the latest status as a retained message. Publishing happens on
// the Run goroutine; only the newest pending message is kept.
type MQTTSink struct {
	client    Publisher
	topic     string
	formatter Formatter
	logger    *logx.Logger
	pending   chan Message
	now       func() time.Time
}

func NewMQTTSink(client Publisher, topic string, formatter Formatter, logger *logx.Logger) *MQTTSink {
	return &MQTTSink{
		client:    client,
		topic:     topic,
		formatter: formatter,
		logger:    logger,
		pending:   make(chan Message, 1),
		now:       time.Now,
	}
}

func (s *MQTTSink) Update(st pkg.Status) {
	s.enqueue(s.formatter.Message(st))
}

func (s *MQTTSink) Clear() {
	s.enqueue(Cleared(s.now()))
}

func (s *MQTTSink) enqueue(m Message) {
	for {
		select {
		case s.pending <- m:
			return
		default:
		}
		// drop the stale one
		select {
		case <-s.pending:
		default:
		}
	}
}

// Run publishes queued messages until done is closed
func (s *MQTTSink) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case m := <-s.pending:
			if err := s.client.PublishJSON(s.topic, m, true); err != nil {
				s.logger.Warn("Status publish failed", "topic", s.topic, "error", err)
			}
		}
	}
}
