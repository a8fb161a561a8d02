package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds the NATS connection settings.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Token         string
}

// NATSSink publishes events to "<prefix>.<type>" subjects.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials the server and returns a sink.
func ConnectNATS(cfg NATSConfig, log *slog.Logger) (*NATSSink, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "nats"))
	opts := []nats.Option{
		nats.Name("modmail"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("nats error", slog.Any("error", err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: conn, prefix: subjectPrefix(cfg.SubjectPrefix), logger: log}, nil
}

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "modmail"

// subjectPrefix trims surrounding space and dots so subjects never carry empty tokens.
func subjectPrefix(raw string) string {
	prefix := strings.Trim(strings.TrimSpace(raw), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t Type) string {
	return s.prefix + "." + string(t)
}

func (s *NATSSink) Send(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Publish(s.Subject(evt.Type), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Connected reports whether the connection is up.
func (s *NATSSink) Connected() bool {
	return s != nil && s.conn != nil && s.conn.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
