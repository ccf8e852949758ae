package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	exchangeName = "archive.events"
	exchangeType = "topic"

	// Retry configuration
	maxAttempts    = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second
)

// Publisher sends archive events to a RabbitMQ topic exchange
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
	mu      sync.Mutex
}

// NewPublisher connects to RabbitMQ and declares the archive exchange
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Confirms tell publishOnce the broker has stored the event
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))

	return &Publisher{
		conn:    conn,
		channel: channel,
		log:     log,
	}, nil
}

func (p *Publisher) PublicationCreated(ctx context.Context, c PublicationChange) error {
	return p.publishWithRetry(ctx, newEvent(ctx, EventPublicationCreated, c))
}

func (p *Publisher) PublicationUpdated(ctx context.Context, c PublicationChange) error {
	return p.publishWithRetry(ctx, newEvent(ctx, EventPublicationUpdated, c))
}

func (p *Publisher) PublicationDeleted(ctx context.Context, id int) error {
	return p.publishWithRetry(ctx, newEvent(ctx, EventPublicationDeleted, PublicationChange{ID: id}))
}

func (p *Publisher) RequestSubmitted(ctx context.Context, n RequestNotice) error {
	return p.publishWithRetry(ctx, newEvent(ctx, EventRequestSubmitted, n))
}

// RequestProcessed carries the requester's address so the mail service can
// tell them about the decision.
func (p *Publisher) RequestProcessed(ctx context.Context, n RequestNotice) error {
	return p.publishWithRetry(ctx, newEvent(ctx, EventRequestProcessed, n))
}

// publishWithRetry publishes an event with exponential backoff between
// attempts. An attempt succeeds once the broker confirms the message.
func (p *Publisher) publishWithRetry(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to marshal event", zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			}
		}

		if lastErr = p.publishOnce(ctx, event, body); lastErr == nil {
			p.log.Info("Event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.String("correlation_id", event.CorrelationID),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.log.Warn("Event not published, retrying",
			zap.String("event_type", event.EventType),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	p.log.Error("Failed to publish event after retries",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed to publish event after %d attempts: %w", maxAttempts, lastErr)
}

// publishOnce sends one message and waits for its confirmation. Publishing is
// serialised because handlers notify from their own goroutines.
func (p *Publisher) publishOnce(ctx context.Context, event Event, body []byte) error {
	p.mu.Lock()
	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchangeName,
		event.EventType, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			MessageId:     event.EventID,
			CorrelationId: event.CorrelationID,
			Body:          body,
			Headers: amqp.Table{
				"event_type":    event.EventType,
				"event_version": event.EventVersion,
			},
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("await confirmation: %w", err)
	}
	if !acked {
		return errors.New("broker rejected the event")
	}
	return nil
}

// IsHealthy checks if the publisher connection is healthy
func (p *Publisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the publisher connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("Failed to close connection", zap.Error(err))
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}
