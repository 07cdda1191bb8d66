// Package fulfillment connects the automation engine to the systems that
// place supplier orders and send customer offers.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/opensource-finance/larder/internal/domain"
)

// ErrRejected is returned when the fulfillment side answers with an error.
var ErrRejected = errors.New("fulfillment rejected")

// reply is the wire format of a fulfillment answer.
type reply struct {
	Confirmation *domain.Confirmation `json:"confirmation,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// BusClient implements domain.Fulfillment over the event bus
// request-reply pattern. Purchasing and messaging services answer on
// the fulfillment topics.
type BusClient struct {
	bus domain.EventBus
}

// NewBusClient creates a fulfillment client on the given bus.
func NewBusClient(bus domain.EventBus) *BusClient {
	return &BusClient{bus: bus}
}

// PlaceOrder asks purchasing to order stock from a supplier.
func (c *BusClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Confirmation, error) {
	return c.request(ctx, req.TenantID, domain.TopicFulfillmentOrder, req)
}

// SendOffer asks messaging to deliver an offer to a customer.
func (c *BusClient) SendOffer(ctx context.Context, req domain.OfferRequest) (*domain.Confirmation, error) {
	return c.request(ctx, req.TenantID, domain.TopicFulfillmentOffer, req)
}

func (c *BusClient) request(ctx context.Context, tenantID, topic string, req any) (*domain.Confirmation, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fulfillment request: %w", err)
	}

	data, err := c.bus.Request(ctx, tenantID, topic, payload)
	if err != nil {
		return nil, err
	}

	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse fulfillment reply: %w", err)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, r.Error)
	}
	if r.Confirmation == nil {
		return nil, fmt.Errorf("%w: empty confirmation", ErrRejected)
	}
	return r.Confirmation, nil
}

// Serve answers fulfillment requests for a tenant with the given
// handler. It is the responder side of BusClient.
func Serve(ctx context.Context, bus domain.EventBus, tenantID string, handler domain.Fulfillment) ([]domain.Subscription, error) {
	orderSub, err := bus.Subscribe(ctx, tenantID, domain.TopicFulfillmentOrder, func(ctx context.Context, msg *domain.Message) error {
		var req domain.OrderRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return respond(ctx, bus, msg, nil, fmt.Errorf("invalid order request: %w", err))
		}
		req.TenantID = msg.TenantID
		conf, err := handler.PlaceOrder(ctx, req)
		return respond(ctx, bus, msg, conf, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to orders: %w", err)
	}

	offerSub, err := bus.Subscribe(ctx, tenantID, domain.TopicFulfillmentOffer, func(ctx context.Context, msg *domain.Message) error {
		var req domain.OfferRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return respond(ctx, bus, msg, nil, fmt.Errorf("invalid offer request: %w", err))
		}
		req.TenantID = msg.TenantID
		conf, err := handler.SendOffer(ctx, req)
		return respond(ctx, bus, msg, conf, err)
	})
	if err != nil {
		_ = orderSub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to offers: %w", err)
	}

	return []domain.Subscription{orderSub, offerSub}, nil
}

func respond(ctx context.Context, bus domain.EventBus, msg *domain.Message, conf *domain.Confirmation, err error) error {
	r := reply{Confirmation: conf}
	if err != nil {
		r = reply{Error: err.Error()}
	}
	data, mErr := json.Marshal(r)
	if mErr != nil {
		return mErr
	}
	return bus.Reply(ctx, msg, data)
}

// LogOnly records fulfillment requests in the log and confirms them.
// Used when no purchasing or messaging integration is configured.
type LogOnly struct{}

// PlaceOrder logs the order.
func (LogOnly) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Confirmation, error) {
	ref := "PO-" + shortID()
	slog.Info("supplier order logged",
		"tenant_id", req.TenantID,
		"item", req.Item,
		"quantity", req.Quantity,
		"urgency", req.Urgency,
		"reference", ref,
	)
	return &domain.Confirmation{Reference: ref, Status: "logged"}, nil
}

// SendOffer logs the offer.
func (LogOnly) SendOffer(ctx context.Context, req domain.OfferRequest) (*domain.Confirmation, error) {
	ref := "OF-" + shortID()
	slog.Info("customer offer logged",
		"tenant_id", req.TenantID,
		"customer_id", req.CustomerID,
		"code", req.Offer.Code,
		"channel", req.Offer.Channel,
		"reference", ref,
	)
	return &domain.Confirmation{Reference: ref, Status: "logged"}, nil
}

func shortID() string {
	return strings.ToUpper(uuid.New().String()[:8])
}
