package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	AMQPExchange     = "appointments"
	AMQPExchangeType = "topic"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes to a durable topic exchange; the routing key is the
// event topic and the partition key travels in the message id header.
type AMQPSink struct {
	conn *amqp.Connection
	ch   amqpPublisher
}

// DialAMQP connects with a short retry loop for container startup and
// declares the exchange.
func DialAMQP(url string, log *logrus.Entry) (*AMQPSink, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.WithError(err).Warnf("failed to connect to RabbitMQ (attempt %d)", i+1)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		AMQPExchange,     // name
		AMQPExchangeType, // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return &AMQPSink{conn: conn, ch: ch}, nil
}

func (s *AMQPSink) Write(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		err := s.ch.PublishWithContext(ctx,
			AMQPExchange, // exchange
			m.Topic,      // routing key
			false,        // mandatory
			false,        // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    m.Key,
				Timestamp:    time.Now(),
				Body:         m.Value,
			},
		)
		if err != nil {
			return fmt.Errorf("amqp publish %s: %w", m.Topic, err)
		}
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if err := s.ch.Close(); err != nil {
		return err
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
