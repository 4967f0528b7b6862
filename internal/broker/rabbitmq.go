package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const ExchangeTopic = "pairchat.topic"

// RabbitMQClient publishes to and consumes from a durable topic exchange.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *slog.Logger

	// amqp channels must not be used for concurrent publishes.
	mu sync.Mutex
}

func NewRabbitMQClient(url string, log *slog.Logger) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeTopic, // name
		"topic",       // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitMQClient{conn: conn, channel: ch, log: log}, nil
}

// Publish returns once the broker has confirmed the message.
func (c *RabbitMQClient) Publish(ctx context.Context, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(ctx,
		ExchangeTopic, // exchange
		routingKey,    // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirmation of %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", routingKey)
	}
	return nil
}

// Subscribe declares a durable queue bound to bindingKey and consumes it on
// a dedicated channel. Each delivery is acked once it has been handed over.
func (c *RabbitMQClient) Subscribe(ctx context.Context, queue, bindingKey string) (<-chan Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	if err := ch.QueueBind(q.Name, bindingKey, ExchangeTopic, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	consumerTag := "consumer-" + queue
	msgs, err := ch.Consume(
		q.Name,      // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				if err := ch.Cancel(consumerTag, false); err != nil {
					c.log.Debug("failed to cancel consumer", "queue", queue, "err", err)
				}
				return
			case d, ok := <-msgs:
				if !ok {
					c.log.Warn("consumer channel closed", "queue", queue)
					return
				}
				select {
				case out <- Delivery{RoutingKey: d.RoutingKey, Body: d.Body}:
					if err := d.Ack(false); err != nil {
						c.log.Warn("failed to ack delivery", "queue", queue, "err", err)
					}
				case <-ctx.Done():
					_ = d.Nack(false, true)
					_ = ch.Cancel(consumerTag, false)
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *RabbitMQClient) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
