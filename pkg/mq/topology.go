package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName    = "taskpulse.events"
	DLQExchangeName = "taskpulse.events.dlq"
)

// Dial opens a connection plus one channel on which both topic exchanges
// (events and their dead letters) are declared. Callers own both handles.
func Dial(url string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	for _, name := range []string{ExchangeName, DLQExchangeName} {
		// durable, 非 auto-delete, 非 internal
		if err := ch.ExchangeDeclare(name, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return conn, ch, nil
}

// bindQueue declares a durable queue and binds it to exchange by routingKey.
func bindQueue(ch *amqp091.Channel, queue, routingKey, exchange string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	return q, nil
}

// DeadLetterQueueName 死信队列命名：<routing key>.dlq
func DeadLetterQueueName(routingKey string) string {
	return routingKey + ".dlq"
}

// EnsureDeadLetterQueue declares the parking queue for routingKey so jobs
// given up on are kept for replay instead of dropped by the exchange.
func EnsureDeadLetterQueue(url, routingKey string) error {
	conn, ch, err := Dial(url)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	_, err = bindQueue(ch, DeadLetterQueueName(routingKey), routingKey, DLQExchangeName)
	return err
}
