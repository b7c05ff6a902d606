package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes notifications to a durable RabbitMQ queue.
type AMQPNotifier struct {
	ch    *amqp091.Channel
	queue string
}

type AMQPParams struct {
	Channel *amqp091.Channel
	// Queue defaults to "notify_queue".
	Queue string
}

func NewAMQPNotifier(params AMQPParams) (*AMQPNotifier, error) {
	queue := params.Queue
	if queue == "" {
		queue = "notify_queue"
	}

	_, err := params.Channel.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return nil, err
	}

	return &AMQPNotifier{ch: params.Channel, queue: queue}, nil
}

func (n *AMQPNotifier) Publish(ctx context.Context, notification Notification) error {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    notification.Timestamp,
	}

	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, publishing)
}
