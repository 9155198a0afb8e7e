package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topic exchange the event queues bind to, routing key = queue name.
const exchangeName = "workflows"

// MessageHandler processes incoming raw message payloads. A non-nil error
// dead-letters the delivery (nack without requeue).
type MessageHandler func(context.Context, []byte) error

// Consumer represents a message queue consumer capable of dispatching
// payloads to a handler.
type Consumer interface {
	Consume(context.Context, MessageHandler) error
	Close() error
}

// Logger interface for logging
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options capture the settings required to establish a RabbitMQ consumer.
type Options struct {
	URL         string
	QueueName   string
	ConsumerTag string
	Durable     bool

	// BindExchange binds the queue to the workflows topic exchange. Event
	// queues set this; the token queue stays a plain queue.
	BindExchange bool

	// WithDLQ declares a side queue "{queue}.dlq" and dead-letters rejected
	// deliveries to it.
	WithDLQ bool

	// Prefetch caps unacknowledged deliveries on the channel; zero leaves
	// the broker default.
	Prefetch int

	// Concurrency is the number of handler workers; deliveries are
	// processed strictly in order when it is 1.
	Concurrency int
}

// RabbitMQConsumer is an AMQP 0.9.1 consumer on a single queue.
type RabbitMQConsumer struct {
	opts Options
	log  Logger
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitMQConsumer connects, declares the queue topology from opts and
// returns a consumer ready to run.
func NewRabbitMQConsumer(opts Options, log Logger) (*RabbitMQConsumer, error) {
	if opts.URL == "" {
		return nil, errors.New("queue: rabbitmq url is required")
	}
	if opts.QueueName == "" {
		return nil, errors.New("queue: queue name is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}

	if err := declareTopology(ch, opts); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQConsumer{opts: opts, log: log, conn: conn, ch: ch}, nil
}

func declareTopology(ch *amqp.Channel, opts Options) error {
	if opts.BindExchange {
		if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue: declare exchange: %w", err)
		}
	}

	var args amqp.Table
	if opts.WithDLQ {
		dlq := opts.QueueName + ".dlq"
		if _, err := ch.QueueDeclare(dlq, opts.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("queue: declare dlq %s: %w", dlq, err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}
	}

	if _, err := ch.QueueDeclare(opts.QueueName, opts.Durable, false, false, false, args); err != nil {
		return fmt.Errorf("queue: declare queue %s: %w", opts.QueueName, err)
	}

	if opts.BindExchange {
		if err := ch.QueueBind(opts.QueueName, opts.QueueName, exchangeName, false, nil); err != nil {
			return fmt.Errorf("queue: bind queue %s: %w", opts.QueueName, err)
		}
	}

	if opts.Prefetch > 0 {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("queue: set prefetch: %w", err)
		}
	}
	return nil
}

// Consume dispatches deliveries to the handler until the context is
// cancelled or the broker connection drops. Successful handling acks the
// delivery; any handler error nacks without requeue.
func (r *RabbitMQConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return errors.New("queue: message handler is nil")
	}

	deliveries, err := r.ch.Consume(r.opts.QueueName, r.opts.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: start consuming %s: %w", r.opts.QueueName, err)
	}

	go func() {
		<-ctx.Done()
		_ = r.ch.Cancel(r.opts.ConsumerTag, false)
	}()

	r.log.Info("rabbitmq consumer started", "queue", r.opts.QueueName, "concurrency", r.opts.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				if err := handler(ctx, d.Body); err != nil {
					r.log.Error("failed to process message", "queue", r.opts.QueueName, "error", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("queue: delivery stream for %s closed", r.opts.QueueName)
}

// Close releases the underlying resources.
func (r *RabbitMQConsumer) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
