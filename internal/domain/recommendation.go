package domain

// Priority is the ordered urgency of a recommendation.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
)

// Rank orders priorities; unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	case PriorityUrgent:
		return 5
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Action kinds decide which fulfillment call executes a recommendation.
const (
	KindOrder = "order" // PlaceOrder
	KindOffer = "offer" // SendOffer
	KindTask  = "task"  // recorded only, no external call
)

// CostRange is an estimated cost band in the tenant's currency.
type CostRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Recommendation is an actionable suggestion produced by a scoring pass.
// It is never mutated after creation.
type Recommendation struct {
	EntityID       string    `json:"entityId"`
	Domain         string    `json:"domain"`
	Priority       Priority  `json:"priority"`
	ActionID       string    `json:"actionId"`
	Category       string    `json:"category"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	ExpectedImpact string    `json:"expectedImpact"`
	Cost           CostRange `json:"cost"`
	SuccessRate    string    `json:"successRate"`

	// Factor names the score factor that produced this recommendation;
	// empty for the intervention entry.
	Factor string `json:"factor,omitempty"`
}
