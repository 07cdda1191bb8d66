package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation. Only
// Subscribe accepts AllTenants.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. With AllTenants the handler
	// sees every tenant's messages; msg.TenantID names the sender's tenant.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request.
	Reply(ctx context.Context, msg *Message, payload []byte) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`

	// ReplyTo is set on request messages; handlers publish their answer there.
	ReplyTo string `json:"replyTo,omitempty"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup load-balances work topics across larder processes.
	// Empty means every process receives every message.
	NATSQueueGroup string `json:"natsQueueGroup" yaml:"natsQueueGroup"`
}

// AllTenants subscribes to a topic across tenants.
const AllTenants = "*"

// Message metadata keys.
const (
	MetaTraceID   = "trace_id"
	MetaInReplyTo = "in_reply_to"
)

// Standard topic names.
const (
	TopicSnapshotIngested = "larder.snapshot.ingested"
	TopicEventIngested    = "larder.event.ingested"
	TopicEvaluation       = "larder.evaluation"
	TopicActionExecuted   = "larder.action.executed"
	TopicActionPending    = "larder.action.pending"
	TopicFulfillmentOrder = "larder.fulfillment.order"
	TopicFulfillmentOffer = "larder.fulfillment.offer"
)

// IsWorkTopic reports whether each message on topic should be handled by
// one consumer only. Notifications go to every subscriber.
func IsWorkTopic(topic string) bool {
	switch topic {
	case TopicSnapshotIngested, TopicFulfillmentOrder, TopicFulfillmentOffer:
		return true
	}
	return false
}
