package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// When reconnecting to the server after connection failure
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception
	reInitDelay = 2 * time.Second
)

var (
	errNotConnected  = errors.New("amqp: not connected to a server")
	errAlreadyClosed = errors.New("amqp: already closed")
)

// AMQPSink publishes events to a durable topic exchange with routing key
// session.<kind>. It reconnects in the background; events emitted while
// disconnected fail fast and are counted as publish failures.
type AMQPSink struct {
	exchange string
	log      *slog.Logger
	metrics  ConnMetrics

	m               sync.Mutex
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	isReady         bool
}

// NewAMQPSink starts connecting to addr in the background.
func NewAMQPSink(addr, exchange string, logger *slog.Logger, m ConnMetrics) *AMQPSink {
	if logger == nil {
		logger = slog.Default()
	}
	if exchange == "" {
		exchange = "walkingbus"
	}
	s := &AMQPSink{
		exchange: exchange,
		log:      logger.With("component", "amqp"),
		metrics:  m,
		done:     make(chan struct{}),
	}
	go s.handleReconnect(addr)
	return s
}

func (s *AMQPSink) Name() string { return "amqp" }

// RoutingKey is the key ev is published with.
func RoutingKey(ev Event) string {
	return "session." + string(ev.Kind)
}

func (s *AMQPSink) Publish(ctx context.Context, ev Event) error {
	s.m.Lock()
	if !s.isReady {
		s.m.Unlock()
		return errNotConnected
	}
	ch := s.channel
	s.m.Unlock()

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, s.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Kind),
		Body:         body,
	})
}

// handleReconnect waits for a connection error on notifyConnClose and then
// keeps attempting to reconnect until Close.
func (s *AMQPSink) handleReconnect(addr string) {
	for {
		s.setReady(false)
		conn, err := amqp.Dial(addr)
		if err != nil {
			s.log.Warn("amqp connect failed, retrying", "error", err)
			select {
			case <-s.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}
		s.changeConnection(conn)
		s.log.Info("amqp connected")

		if done := s.handleReInit(conn); done {
			return
		}
	}
}

// handleReInit re-creates the channel after channel errors until the
// connection itself goes away.
func (s *AMQPSink) handleReInit(conn *amqp.Connection) bool {
	for {
		s.setReady(false)
		if err := s.init(conn); err != nil {
			s.log.Warn("amqp channel init failed, retrying", "error", err)
			select {
			case <-s.done:
				return true
			case <-s.notifyConnClose:
				s.log.Warn("amqp connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-s.done:
			return true
		case <-s.notifyConnClose:
			s.log.Warn("amqp connection closed, reconnecting")
			return false
		case <-s.notifyChanClose:
			s.log.Warn("amqp channel closed, re-running init")
		}
	}
}

func (s *AMQPSink) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(
		s.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return err
	}
	s.changeChannel(ch)
	s.setReady(true)
	s.log.Info("amqp channel ready", "exchange", s.exchange)
	return nil
}

func (s *AMQPSink) changeConnection(conn *amqp.Connection) {
	s.m.Lock()
	defer s.m.Unlock()
	s.connection = conn
	s.notifyConnClose = make(chan *amqp.Error, 1)
	s.connection.NotifyClose(s.notifyConnClose)
}

func (s *AMQPSink) changeChannel(ch *amqp.Channel) {
	s.m.Lock()
	defer s.m.Unlock()
	s.channel = ch
	s.notifyChanClose = make(chan *amqp.Error, 1)
	s.channel.NotifyClose(s.notifyChanClose)
}

func (s *AMQPSink) setReady(ready bool) {
	s.m.Lock()
	s.isReady = ready
	s.m.Unlock()
	if s.metrics != nil {
		s.metrics.SinkConnected("amqp", ready)
	}
}

// Close shuts down the channel and connection.
func (s *AMQPSink) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	select {
	case <-s.done:
		return errAlreadyClosed
	default:
	}
	close(s.done)
	if !s.isReady {
		return nil
	}
	s.isReady = false
	if err := s.channel.Close(); err != nil {
		return err
	}
	return s.connection.Close()
}
