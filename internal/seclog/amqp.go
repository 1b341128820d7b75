package seclog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// dialTimeout bounds the TCP connect and the AMQP handshake.
const dialTimeout = 2 * time.Second

// AMQPSink publishes every entry to a durable queue on the default exchange.
type AMQPSink struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSink dials url and declares queue.
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	if queue == "" {
		return nil, errors.New("seclog: amqp queue required")
	}
	s := &AMQPSink{url: url, queue: queue}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.DialConfig(s.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("seclog: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("seclog: amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("seclog: amqp declare %s: %w", s.queue, err)
	}
	s.conn, s.ch = conn, ch
	return nil
}

// Publish sends e, redialing once if the connection was lost.
func (s *AMQPSink) Publish(ctx context.Context, stream Stream, e Entry) error {
	msg, err := publishing(stream, e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsClosed() {
		if err := s.connect(); err != nil {
			return err
		}
	}
	return s.ch.PublishWithContext(ctx, "", s.queue, false, false, msg)
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	_ = s.ch.Close()
	err := s.conn.Close()
	s.conn, s.ch = nil, nil
	return err
}

func publishing(stream Stream, e Entry) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("seclog: encode entry: %w", err)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    ts,
		Type:         e.Type,
		Headers:      amqp.Table{"stream": string(stream)},
		Body:         body,
	}, nil
}
