// Package events announces catalog changes and request decisions to other
// services. Delivery is best effort: callers log failures and carry on.
package events

import (
	"context"
	"time"

	"github.com/bookstore/services/archive/internal/reconcile"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types, also used as routing keys
const (
	EventPublicationCreated = "publication.created"
	EventPublicationUpdated = "publication.updated"
	EventPublicationDeleted = "publication.deleted"
	EventRequestSubmitted   = "request.submitted"
	EventRequestProcessed   = "request.processed"

	eventVersion = "1.0.0"
)

// Notifier is implemented by Publisher and by LogNotifier
type Notifier interface {
	PublicationCreated(ctx context.Context, c PublicationChange) error
	PublicationUpdated(ctx context.Context, c PublicationChange) error
	PublicationDeleted(ctx context.Context, id int) error
	RequestSubmitted(ctx context.Context, n RequestNotice) error
	RequestProcessed(ctx context.Context, n RequestNotice) error
	IsHealthy() bool
	Close() error
}

// Event is the envelope written to the exchange
type Event struct {
	EventID       string      `json:"event_id"`
	EventType     string      `json:"event_type"`
	EventVersion  string      `json:"event_version"`
	Timestamp     string      `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Payload       interface{} `json:"payload"`
}

// PublicationChange describes a saved or deleted publication
type PublicationChange struct {
	ID      int               `json:"id"`
	Title   string            `json:"title,omitempty"`
	Version int               `json:"version,omitempty"`
	Changes *reconcile.Report `json:"associations,omitempty"`
}

// RequestNotice describes a request for the requester's notification
type RequestNotice struct {
	RequestID        int    `json:"request_id"`
	PublicationID    int    `json:"publication_id"`
	PublicationTitle string `json:"publication_title"`
	RequesterName    string `json:"requester_name"`
	Email            string `json:"email"`
	RequestType      string `json:"request_type"`
	Status           string `json:"status"`
	ProcessedBy      string `json:"processed_by,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying id
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or ""
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func newEvent(ctx context.Context, eventType string, payload interface{}) Event {
	return Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: CorrelationID(ctx),
		Payload:       payload,
	}
}

// LogNotifier writes events to the log. Used when RabbitMQ is not configured
// or unreachable.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) PublicationCreated(ctx context.Context, c PublicationChange) error {
	return n.write(newEvent(ctx, EventPublicationCreated, c))
}

func (n *LogNotifier) PublicationUpdated(ctx context.Context, c PublicationChange) error {
	return n.write(newEvent(ctx, EventPublicationUpdated, c))
}

func (n *LogNotifier) PublicationDeleted(ctx context.Context, id int) error {
	return n.write(newEvent(ctx, EventPublicationDeleted, PublicationChange{ID: id}))
}

func (n *LogNotifier) RequestSubmitted(ctx context.Context, r RequestNotice) error {
	return n.write(newEvent(ctx, EventRequestSubmitted, r))
}

func (n *LogNotifier) RequestProcessed(ctx context.Context, r RequestNotice) error {
	return n.write(newEvent(ctx, EventRequestProcessed, r))
}

func (n *LogNotifier) write(e Event) error {
	n.log.Info("Event",
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.EventType),
		zap.String("correlation_id", e.CorrelationID),
		zap.Any("payload", e.Payload),
	)
	return nil
}

func (n *LogNotifier) IsHealthy() bool { return true }

func (n *LogNotifier) Close() error { return nil }

var (
	_ Notifier = (*Publisher)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
