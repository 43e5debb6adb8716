// Package bus is the C11 message-bus abstraction. Spec.md frames the
// transport (RabbitMQ/Kafka STOMP) as out-of-scope glue behind an opaque
// "message bus" provider; this package defines that seam as a Publisher
// interface with one concrete RabbitMQ binding, and publishes
// fire-and-forget with logging per spec.md §4.11 (publish errors never
// block a tick's other modules).
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Kind discriminates the JSON payload shape on the wire.
type Kind string

const (
	KindDeposit Kind = "deposit"
	KindPause   Kind = "pause"
	KindUnvet   Kind = "unvet"
	KindPing    Kind = "ping"
)

// Message is the envelope published to BROKER_TOPIC.
type Message struct {
	Kind Kind        `json:"type"`
	Body interface{} `json:"body"`
}

// Publisher publishes messages fire-and-forget; implementations must never
// block the caller on a slow or down broker longer than their own internal
// timeout.
type Publisher interface {
	Publish(msg Message)
}

// DefaultTopic is BROKER_TOPIC's default value from spec.md §6.
const DefaultTopic = "defender"

// LoggingPublisher is a no-op Publisher that only logs, used for local runs
// and tests where no broker is configured.
type LoggingPublisher struct {
	logger logrus.FieldLogger
}

// NewLoggingPublisher builds a log-only Publisher.
func NewLoggingPublisher(logger logrus.FieldLogger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

// Publish logs the message and discards it.
func (p *LoggingPublisher) Publish(msg Message) {
	p.logger.WithField("kind", msg.Kind).Debugf("bus publish (no broker configured): %+v", msg.Body)
}

// AMQPPublisher publishes messages to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	channel  *amqp.Channel
	exchange string
	topic    string
	logger   logrus.FieldLogger
}

// NewAMQPPublisher dials amqpURL and declares a topic exchange named
// exchange; every message is routed with routingKey=topic.
func NewAMQPPublisher(amqpURL, exchange, topic string, logger logrus.FieldLogger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to broker: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("could not open broker channel: %v", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("could not declare broker exchange: %v", err)
	}

	return &AMQPPublisher{channel: ch, exchange: exchange, topic: topic, logger: logger}, nil
}

// Publish implements Publisher. Per spec.md §4.11, broker failures are
// logged but never propagated — the tick's other modules must proceed.
func (p *AMQPPublisher) Publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.WithError(err).Error("could not encode bus message")
		return
	}

	err = p.channel.Publish(p.exchange, p.topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		p.logger.WithError(err).WithField("kind", msg.Kind).Error("could not publish bus message")
	}
}
