package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateAction is returned when a record for the same
// (entity, trigger) pair was already appended.
var ErrDuplicateAction = errors.New("action already recorded for trigger")

// ActionRecord is an immutable audit-log entry for an executed action.
type ActionRecord struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	EntityID  string          `json:"entityId"`
	TriggerID string          `json:"triggerId"`
	ActionID  string          `json:"actionId"`
	Category  string          `json:"category"`
	Params    ExecutionParams `json:"params"`
	Result    ActionResult    `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// ActionResult is the outcome of a fulfillment call.
type ActionResult struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ExecutionParams are the caller-supplied parameters of an automated action.
type ExecutionParams struct {
	EntityID string     `json:"entityId"`
	Item     string     `json:"item,omitempty"`
	Quantity float64    `json:"quantity,omitempty"`
	Urgency  string     `json:"urgency,omitempty"`
	Offer    *OfferSpec `json:"offer,omitempty"`
}

// OfferSpec describes a customer offer.
type OfferSpec struct {
	Code          string  `json:"code"`
	DiscountPct   float64 `json:"discountPct,omitempty"`
	Channel       string  `json:"channel,omitempty"` // email, sms, push
	ExpiresInDays int     `json:"expiresInDays,omitempty"`
}

// ActionLog is the append-only store of executed actions.
// Implementations must never modify or remove an appended record.
type ActionLog interface {
	// AppendAction writes a new record.
	AppendAction(ctx context.Context, rec *ActionRecord) error

	// FindAction returns the record for an (entity, trigger) pair.
	// Returns nil, nil if none exists.
	FindAction(ctx context.Context, tenantID, entityID, triggerID string) (*ActionRecord, error)

	// ListActions returns records in append order. An empty entityID lists all.
	ListActions(ctx context.Context, tenantID, entityID string) ([]ActionRecord, error)
}

// Fulfillment is the external collaborator that carries out actions.
type Fulfillment interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Confirmation, error)
	SendOffer(ctx context.Context, req OfferRequest) (*Confirmation, error)
}

// OrderRequest asks the purchasing system to place a supplier order.
type OrderRequest struct {
	TenantID string  `json:"tenantId"`
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
	Urgency  string  `json:"urgency"`
}

// OfferRequest asks the messaging system to send an offer to a customer.
type OfferRequest struct {
	TenantID   string    `json:"tenantId"`
	CustomerID string    `json:"customerId"`
	Offer      OfferSpec `json:"offer"`
}

// Confirmation is returned by the fulfillment collaborator.
type Confirmation struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// AutomationRule decides whether an action category executes automatically.
type AutomationRule struct {
	Category string `json:"category" yaml:"category"`

	// RequiresApproval forces every action of the category through approval.
	RequiresApproval bool `json:"requiresApproval" yaml:"requiresApproval"`

	// Condition is an optional CEL expression; approval is required
	// whenever it evaluates to true.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Automation outcome statuses.
const (
	StatusExecuted        = "executed"
	StatusPendingApproval = "pending_approval"
)
