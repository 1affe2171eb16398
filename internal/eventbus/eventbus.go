// Package eventbus publishes domain events onto a durable RabbitMQ topic
// exchange and lets consumer groups subscribe to them via their own durable
// queue, mirroring the topic-exchange/per-consumer-queue topology the
// reference event bus uses (lapin), reimplemented on amqp091-go.
package eventbus

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Routing keys bind the command side's publishers to the projection
// worker's queues. Both sides import these rather than spelling out the
// literal strings so the binding can never drift out of sync.
const (
	RoutingKeyUserEvents   = "user_events"
	RoutingKeyTenantEvents = "tenant_events"
)

// Message is a single domain event ready to cross the wire. EventID is the
// event store row id it was appended as; it travels as a message header so
// a consumer can dedup against at-least-once redelivery without decoding
// the payload first.
type Message struct {
	RoutingKey string
	EventType  string
	EventID    int64
	Payload    []byte
}

// Delivery is a received message along with the ack/nack it owns.
type Delivery struct {
	EventType string
	EventID   int64
	Payload   []byte

	ack func() error
	nak func(requeue bool) error
}

func (d Delivery) Ack() error              { return d.ack() }
func (d Delivery) Nack(requeue bool) error { return d.nak(requeue) }

// queueNameFor names a consumer group's durable queue after the exchange it
// binds to, so two services pointed at different exchanges never collide.
func queueNameFor(exchangeName, consumerGroup string) string {
	return fmt.Sprintf("%s.%s", exchangeName, consumerGroup)
}

// eventIDFromHeaders extracts the event_id header Publish stamped onto the
// message, tolerating the zero value if it is missing or of an unexpected
// type rather than failing the delivery.
func eventIDFromHeaders(headers amqp091.Table) int64 {
	switch v := headers["event_id"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

// Bus publishes and subscribes to the shared topic exchange.
type Bus struct {
	conn         *amqp091.Connection
	publishCh    *amqp091.Channel
	exchangeName string
	log          *zap.Logger
}

// New dials RabbitMQ, declares the durable topic exchange, and opens a
// dedicated publish channel.
func New(lc fx.Lifecycle, amqpURL, exchangeName string, log *zap.Logger) (*Bus, error) {
	conn, err := amqp091.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: dial: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: open publish channel: %w", err)
	}

	if err := publishCh.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		publishCh.Close()
		conn.Close()
		return nil, fmt.Errorf("eventbus: declare exchange: %w", err)
	}

	bus := &Bus{conn: conn, publishCh: publishCh, exchangeName: exchangeName, log: log}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing rabbitmq connection")
			_ = publishCh.Close()
			return conn.Close()
		},
	})

	return bus, nil
}

// Publish sends msg to the topic exchange with persistent delivery mode. It
// does not wait for a broker confirmation: publisher confirms are not
// enabled on the channel.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	return b.publishCh.PublishWithContext(ctx,
		b.exchangeName,
		msg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Type:         msg.EventType,
			DeliveryMode: amqp091.Persistent,
			Headers:      amqp091.Table{"event_id": msg.EventID},
			Body:         msg.Payload,
		},
	)
}

// Subscribe declares a durable queue for consumerGroup, binds it to
// routingKey, and returns a channel of Deliveries. Each consumer group gets
// its own queue so every group sees every matching event independently;
// redelivery on Nack(true) is the caller's retry mechanism.
func (b *Bus) Subscribe(ctx context.Context, consumerGroup, routingKey string) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("eventbus: open consume channel: %w", err)
	}

	queueName := queueNameFor(b.exchangeName, consumerGroup)
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("eventbus: declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, routingKey, b.exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("eventbus: bind queue: %w", err)
	}

	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("eventbus: set qos: %w", err)
	}

	deliveries, err := ch.Consume(queueName, consumerGroup, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("eventbus: consume: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := d
				out <- Delivery{
					EventType: delivery.Type,
					EventID:   eventIDFromHeaders(delivery.Headers),
					Payload:   delivery.Body,
					ack:       func() error { return delivery.Ack(false) },
					nak:       func(requeue bool) error { return delivery.Nack(false, requeue) },
				}
			}
		}
	}()

	return out, nil
}
