package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// ConnMetrics tracks transport connectivity. A nil ConnMetrics is allowed.
type ConnMetrics interface {
	SinkConnected(sink string, connected bool)
}

// NATSSink publishes events on <prefix>.<sessionId>.<kind>.
type NATSSink struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	log         *slog.Logger
}

func NewNATSSink(url, prefix string, logSubjects bool, logger *slog.Logger, m ConnMetrics) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")
	setConnected := func(up bool) {
		if m != nil {
			m.SinkConnected("nats", up)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("walkingbus"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	setConnected(true)
	if strings.TrimSpace(prefix) == "" {
		prefix = "walkingbus.sessions"
	}
	return &NATSSink{nc: nc, prefix: prefix, logSubjects: logSubjects, log: logger}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := Subject(s.prefix, ev)
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if s.logSubjects {
		s.log.Debug("nats publish", "subject", subject)
	}
	return s.nc.Publish(subject, b)
}

func (s *NATSSink) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
		s.nc.Close()
	}
}

// Subject builds the NATS subject for ev under prefix.
func Subject(prefix string, ev Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(ev.SessionID), subjectToken(string(ev.Kind)))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
