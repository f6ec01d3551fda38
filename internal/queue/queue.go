package queue

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	MatchQueue = "match_queue"

	EventsExchange = "reqtrace_events"

	// MaxRetries is the number of redeliveries before a message is moved to
	// the dead-letter queue.
	MaxRetries = 10

	retryTTL = int32(10000)
)

// Publisher is the part of *amqp091.Channel used for publishing.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func URLFromEnv() string {
	if url := util.GetEnv("RABBITMQ_URL"); url != "" {
		return url
	}
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnvString("RABBITMQ_USER", "guest"),
		util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

func Init() *amqp091.Connection {
	conn, err := amqp091.Dial(URLFromEnv())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares every queue together with its _retry queue, which
// dead-letters back into the queue after a delay, and its _dlq.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("exchange declare %s: %w", EventsExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}

		dlqName := DeadLetterQueue(name)
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", dlqName, err)
		}

		retryName := RetryQueue(name)
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("queue declare %s: %w", retryName, err)
		}
	}

	return nil
}

func RetryQueue(name string) string      { return name + "_retry" }
func DeadLetterQueue(name string) string { return name + "_dlq" }

func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishTopic publishes an event on the events exchange. Nobody has to be
// listening.
func PublishTopic(ch Publisher, topic string, data []byte) error {
	return ch.Publish(
		EventsExchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// HandleFailure routes a failed delivery to the retry queue, or to the
// dead-letter queue once MaxRetries is reached or the failure is permanent.
// The delivery is acked after a successful republish and requeued otherwise.
func HandleFailure(ch Publisher, msg amqp091.Delivery, queueName string, permanent bool) {
	retries := Retries(msg.Headers)

	if permanent || retries >= MaxRetries {
		dlqName := DeadLetterQueue(queueName)
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries, "permanent", permanent)
		pubErr := ch.Publish("", dlqName, false, false, amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     msg.Headers,
		})
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := RetryQueue(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.Publish("", retryName, false, false, amqp091.Publishing{
		ContentType: msg.ContentType,
		Body:        msg.Body,
		Headers:     headers,
	})
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// Retries reads the x-retries header, whatever integer type the broker
// decoded it as.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}
