package domain

import (
	"context"
	"time"
)

// Event kinds recorded in an entity's history.
const (
	EventOrder    = "order"    // customer order
	EventSale     = "sale"     // inventory item sold / consumed
	EventVisit    = "visit"    // app or site interaction
	EventResponse = "response" // campaign response
)

// Event is a single dated, amount-bearing record in an entity's history.
type Event struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	EntityID string `json:"entityId"`
	Kind     string `json:"kind"`

	// Amount is the monetary value of the event (order total, revenue).
	Amount float64 `json:"amount"`

	// Quantity is the unit count (units sold for inventory items).
	Quantity float64 `json:"quantity,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Profile holds the entity attributes that are not derived from history.
type Profile struct {
	EntityID string `json:"entityId"`
	Name     string `json:"name,omitempty"`

	// Satisfaction on a 0..5 scale. Nil means unknown.
	Satisfaction *float64 `json:"satisfaction,omitempty"`

	// PlatformInteraction is set when the entity uses the app/loyalty platform.
	PlatformInteraction bool `json:"platformInteraction,omitempty"`

	// Inventory parameters, only meaningful for stocked items.
	Inventory *InventoryParams `json:"inventory,omitempty"`
}

// InventoryParams describes the stock position of an item.
type InventoryParams struct {
	CurrentStock     float64 `json:"currentStock"`
	LeadTimeDays     float64 `json:"leadTimeDays"`
	SafetyMultiplier float64 `json:"safetyMultiplier"`
	OrderingCost     float64 `json:"orderingCost"` // per order placed
	HoldingCost      float64 `json:"holdingCost"`  // per unit per year
	UnitCost         float64 `json:"unitCost"`
}

// HistorySource supplies raw historical event sequences for an entity.
type HistorySource interface {
	LoadHistory(ctx context.Context, tenantID, entityID string, since time.Time) ([]Event, error)
}
