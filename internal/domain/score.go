package domain

import (
	"time"
)

// ScoreResult is the composite score of an entity with its explanation.
type ScoreResult struct {
	// Composite is the weighted sum of sub-scores, always in [0,1].
	Composite float64 `json:"composite"`

	// SubScores holds the normalized [0,1] value per weighted dimension.
	SubScores map[Dimension]float64 `json:"subScores"`

	// Factors lists material contributors, highest impact first.
	Factors []Factor `json:"factors"`
}

// Factor shows how a single dimension contributed to the composite score.
type Factor struct {
	Name        string    `json:"name"`
	Dimension   Dimension `json:"dimension"`
	Value       float64   `json:"value"`    // raw feature value
	Severity    float64   `json:"severity"` // normalized sub-score
	Weight      float64   `json:"weight"`
	Impact      float64   `json:"impact"` // severity * weight
	Description string    `json:"description"`
}

// Classification is the tier assigned to a composite score.
type Classification struct {
	Tier string `json:"tier"`

	// Severity is the tier's rank; 0 is the least severe tier.
	Severity int `json:"severity"`

	// Highest is set when the tier is the most severe of its table.
	Highest bool `json:"highest"`

	MinScore float64 `json:"minScore"`
}

// Evaluation is the complete, read-only output of one scoring pass.
type Evaluation struct {
	ID        string    `json:"id,omitempty"`
	TenantID  string    `json:"tenantId,omitempty"`
	Domain    string    `json:"domain"`
	EntityID  string    `json:"entityId"`
	Timestamp time.Time `json:"timestamp"` // the reference "now" of the pass

	Features        FeatureVector    `json:"features"`
	Score           ScoreResult      `json:"score"`
	Classification  Classification   `json:"classification"`
	Recommendations []Recommendation `json:"recommendations"`

	// Plan is set for forecasting domains.
	Plan *ReorderPlan `json:"plan,omitempty"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID          string `json:"traceId,omitempty"`
	EventsConsidered int    `json:"eventsConsidered"`
	TotalMs          int64  `json:"totalMs"`
	EngineVersion    string `json:"engineVersion"`
	Cached           bool   `json:"cached,omitempty"`
}

// TopRecommendation returns the first recommendation, or nil.
func (e *Evaluation) TopRecommendation() *Recommendation {
	if len(e.Recommendations) == 0 {
		return nil
	}
	r := e.Recommendations[0]
	return &r
}
