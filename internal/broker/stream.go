package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/message"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
)

// routingKeyProperty carries the routing key on stream messages, which have
// no exchange routing of their own.
const routingKeyProperty = "routing_key"

var errStreamClosed = errors.New("stream producer closed before confirming")

// StreamClient publishes every event to one RabbitMQ stream. Subscribers
// read new entries and keep those matching their binding key.
type StreamClient struct {
	env      *stream.Environment
	producer *stream.Producer
	name     string
	log      *slog.Logger
	confirms *confirmTracker
}

// confirmTracker hands broker confirmations back to the Publish call that
// is waiting on them.
type confirmTracker struct {
	mu      sync.Mutex
	pending map[message.StreamMessage]chan error
	err     error
}

func newConfirmTracker() *confirmTracker {
	return &confirmTracker{pending: make(map[message.StreamMessage]chan error)}
}

func (t *confirmTracker) track(m message.StreamMessage) (<-chan error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	done := make(chan error, 1)
	t.pending[m] = done
	return done, nil
}

func (t *confirmTracker) forget(m message.StreamMessage) {
	t.mu.Lock()
	delete(t.pending, m)
	t.mu.Unlock()
}

// settle resolves m; a nil err means the broker stored it.
func (t *confirmTracker) settle(m message.StreamMessage, err error) {
	t.mu.Lock()
	done, ok := t.pending[m]
	delete(t.pending, m)
	t.mu.Unlock()
	if ok {
		done <- err
	}
}

// fail resolves everything still pending with err and refuses new messages.
func (t *confirmTracker) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	for m, done := range t.pending {
		done <- err
		delete(t.pending, m)
	}
}

func NewStreamClient(url, streamName string, log *slog.Logger) (*StreamClient, error) {
	env, err := stream.NewEnvironment(stream.NewEnvironmentOptions().SetUri(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq stream: %w", err)
	}

	err = env.DeclareStream(streamName,
		stream.NewStreamOptions().SetMaxLengthBytes(stream.ByteCapacity{}.GB(2)))
	if err != nil && !errors.Is(err, stream.StreamAlreadyExists) {
		env.Close()
		return nil, fmt.Errorf("failed to declare stream %s: %w", streamName, err)
	}

	producer, err := env.NewProducer(streamName, stream.NewProducerOptions())
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to create stream producer: %w", err)
	}

	c := &StreamClient{env: env, producer: producer, name: streamName, log: log, confirms: newConfirmTracker()}
	go c.watchConfirmations(producer.NotifyPublishConfirmation())
	return c, nil
}

func (c *StreamClient) watchConfirmations(confirmed stream.ChannelPublishConfirm) {
	for batch := range confirmed {
		for _, status := range batch {
			if status.IsConfirmed() {
				c.confirms.settle(status.GetMessage(), nil)
				continue
			}
			err := status.GetError()
			if err == nil {
				err = fmt.Errorf("stream rejected message with code %d", status.GetErrorCode())
			}
			c.confirms.settle(status.GetMessage(), err)
		}
	}
	c.confirms.fail(errStreamClosed)
}

// Publish returns once the broker has confirmed the message, so a caller
// that marks its source processed afterwards never loses an event.
func (c *StreamClient) Publish(ctx context.Context, routingKey string, body []byte) error {
	msg := amqp.NewMessage(body)
	msg.ApplicationProperties = map[string]interface{}{routingKeyProperty: routingKey}

	done, err := c.confirms.track(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	if err := c.producer.Send(msg); err != nil {
		c.confirms.forget(msg)
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stream did not confirm %s: %w", routingKey, err)
		}
		return nil
	case <-ctx.Done():
		c.confirms.forget(msg)
		return fmt.Errorf("waiting for stream confirmation: %w", ctx.Err())
	}
}

// Subscribe starts a named consumer at the stream's next offset. queue is
// used as the consumer name.
func (c *StreamClient) Subscribe(ctx context.Context, queue, bindingKey string) (<-chan Delivery, error) {
	out := make(chan Delivery)
	var (
		mu     sync.Mutex
		closed bool
	)

	handler := func(_ stream.ConsumerContext, message *amqp.Message) {
		key, _ := message.ApplicationProperties[routingKeyProperty].(string)
		if !MatchTopic(bindingKey, key) {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- Delivery{RoutingKey: key, Body: message.GetData()}:
		case <-ctx.Done():
		}
	}

	consumer, err := c.env.NewConsumer(c.name, handler,
		stream.NewConsumerOptions().
			SetConsumerName(queue).
			SetOffset(stream.OffsetSpecification{}.Next()))
	if err != nil {
		return nil, fmt.Errorf("failed to start stream consumer: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := consumer.Close(); err != nil {
			c.log.Debug("failed to close stream consumer", "queue", queue, "err", err)
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}

func (c *StreamClient) Close() error {
	if err := c.producer.Close(); err != nil {
		c.log.Debug("failed to close stream producer", "err", err)
	}
	return c.env.Close()
}
