// Package bus carries larder events between components: history
// ingestion, evaluation results, action notifications and the
// request/reply traffic of the fulfillment collaborator.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/larder/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRequestTimeout applies to Request when the context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("bus is closed")

	// ErrInvalidTenant is returned for an empty tenant, or for AllTenants
	// anywhere but Subscribe.
	ErrInvalidTenant = errors.New("invalid tenantID")

	// ErrNoReplyAddress is returned when replying to a message that was
	// not sent with Request.
	ErrNoReplyAddress = errors.New("message has no reply address")
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type %q", cfg.Type)
	}
}

func checkSendTenant(tenantID string) error {
	if tenantID == "" || tenantID == domain.AllTenants {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return nil
}

func checkSubscribeTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidTenant)
	}
	return nil
}

// newMessage builds the envelope both buses deliver. The caller's trace
// ID travels in Metadata so consumers can correlate their logs.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[domain.MetaTraceID] = sc.TraceID().String()
	}
	return msg
}

// replyTo builds the answer to a request message.
func replyTo(ctx context.Context, req *domain.Message, payload []byte) *domain.Message {
	msg := newMessage(ctx, req.TenantID, req.Topic, payload)
	msg.Metadata[domain.MetaInReplyTo] = req.ID
	return msg
}

// withRequestTimeout bounds ctx by DefaultRequestTimeout unless it already
// carries a deadline.
func withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}
