package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/parkline/capacity-engine/internal/model"
)

// Publisher sends booking events to RabbitMQ.  It dials per publish:
// confirmations are infrequent compared to seat traffic and a
// short-lived connection needs no reconnect handling.
type Publisher struct {
	url    string
	logger *log.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, logger: log.New("queue")}
}

// BookingConfirmed publishes a BookingConfirmedEvent.  Errors are logged and
// returned; callers treat delivery as best effort.
func (p *Publisher) BookingConfirmed(ctx context.Context, b model.Booking, t model.Trip) error {
	return p.Publish(ctx, BookingConfirmedQueue, NewBookingConfirmedEvent(b, t))
}

// Publish sends v as a persistent JSON message to queue through the
// default exchange, declaring the queue first.
func (p *Publisher) Publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		p.logger.Errorf("marshal event failed: %v", err)
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Warnf("dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warnf("channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.logger.Warnf("queue declare failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.logger.Warnf("publish failed: %v", err)
		return err
	}
	return nil
}
