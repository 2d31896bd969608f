// Package rabbitmq publishes engine events to a RabbitMQ exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/mcoot/coinfall/internal/api/response"
	"github.com/mcoot/coinfall/internal/events"
	"github.com/mcoot/coinfall/internal/model"
)

// Channel is the part of *amqp.Channel the publisher needs
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// defaultQueueSize bounds the events waiting for the broker
const defaultQueueSize = 1024

// Publisher sends events to an exchange, routed by event type.
// Publish only enqueues; a single worker talks to the broker, so a slow or
// blocked broker never stalls the caller. Events beyond the queue are dropped.
type Publisher struct {
	ch       Channel
	exchange string
	logger   *slog.Logger

	queue chan model.Event
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	closer func() error
}

// Ensure Publisher implements events.Sink
var _ events.Sink = (*Publisher)(nil)

// NewPublisher creates a Publisher on an existing channel
func NewPublisher(ch Channel, exchange string, logger *slog.Logger) *Publisher {
	return newPublisher(ch, exchange, defaultQueueSize, logger)
}

func newPublisher(ch Channel, exchange string, queueSize int, logger *slog.Logger) *Publisher {
	p := &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "rabbitmq")),
		queue:    make(chan model.Event, queueSize),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.queue {
		if err := PublishMessage(p.ch, p.exchange, string(event.Type), response.EventFromModel(event)); err != nil {
			p.logger.Error("failed to publish event",
				slog.String("type", string(event.Type)),
				slog.Int64("user_id", int64(event.UserID)),
				slog.String("error", err.Error()))
		}
	}
}

// Dial connects to RabbitMQ, retrying the connection, declares a durable
// topic exchange and returns a Publisher on it
func Dial(url, exchange string, retries int, delay time.Duration, logger *slog.Logger) (*Publisher, error) {
	const op = "rabbitmq.Dial"

	conn, err := connect(url, retries, delay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p := NewPublisher(ch, exchange, logger)
	p.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return p, nil
}

func connect(url string, retries int, delay time.Duration) (*amqp.Connection, error) {
	if retries < 1 {
		retries = 1
	}
	var (
		conn *amqp.Connection
		err  error
	)
	for i := range retries {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return nil, err
}

// Publish implements events.Sink. It never blocks; failures are logged,
// never returned.
func (p *Publisher) Publish(_ context.Context, event model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- event:
	default:
		p.logger.Warn("event dropped - publish queue full",
			slog.String("type", string(event.Type)),
			slog.Int64("user_id", int64(event.UserID)))
	}
}

// Close stops accepting events, waits for queued ones to be sent and closes
// the channel and connection opened by Dial
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done

	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// PublishMessage publishes message as persistent JSON
func PublishMessage(ch Channel, exchange string, routingKey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
