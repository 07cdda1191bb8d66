package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/larder/internal/automation"
	"github.com/opensource-finance/larder/internal/campaign"
	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/forecast"
	"github.com/opensource-finance/larder/internal/history"
	"github.com/opensource-finance/larder/internal/metrics"
	"github.com/opensource-finance/larder/internal/pipeline"
	"github.com/opensource-finance/larder/internal/repository"
)

// DefaultEvaluationTTL is used when the cache config sets no TTL.
const DefaultEvaluationTTL = 5 * time.Minute

// Dependencies wires the handler. Only Pipeline is required; endpoints
// whose dependency is missing answer 503.
type Dependencies struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Pipeline   *pipeline.Pipeline
	Automation *automation.Engine
	History    *history.Service
	Campaigns  *campaign.Predictor
	Metrics    *metrics.Metrics

	Version       string
	EvaluationTTL time.Duration
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	pipeline   *pipeline.Pipeline
	automation *automation.Engine
	history    *history.Service
	campaigns  *campaign.Predictor
	metrics    *metrics.Metrics
	version    string
	evalTTL    time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	ttl := deps.EvaluationTTL
	if ttl <= 0 {
		ttl = DefaultEvaluationTTL
	}
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		pipeline:   deps.Pipeline,
		automation: deps.Automation,
		history:    deps.History,
		campaigns:  deps.Campaigns,
		metrics:    deps.Metrics,
		version:    deps.Version,
		evalTTL:    ttl,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	Domain   string         `json:"domain"`
	EntityID string         `json:"entityId"`
	Profile  domain.Profile `json:"profile"`

	// History is loaded from the repository when omitted.
	History []domain.Event `json:"history,omitempty"`

	// Now pins the reference time. Only pinned requests are memoized.
	Now time.Time `json:"now,omitempty"`
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := TenantID(ctx)
	traceID := TraceID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}
	if !h.pipeline.HasDomain(req.Domain) {
		writeError(w, http.StatusBadRequest, "unknown domain: "+req.Domain)
		return
	}

	// 1. Load history when the caller does not send it
	events := req.History
	if events == nil && h.history != nil {
		now := req.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		loaded, err := h.history.LoadHistory(ctx, tenantID, req.EntityID, now.Add(-h.pipeline.Lookback(req.Domain)))
		if err != nil {
			slog.Error("failed to load history",
				"tenant_id", tenantID,
				"entity_id", req.EntityID,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		events = loaded
	}

	in := &pipeline.EvaluateInput{
		TenantID: tenantID,
		Domain:   req.Domain,
		EntityID: req.EntityID,
		History:  events,
		Profile:  req.Profile,
		Now:      req.Now,
	}

	// 2. Serve a memoized result for an identical pinned input
	var key string
	if h.cache != nil && !req.Now.IsZero() {
		key = evaluationKey(in)
		cached, err := h.cache.GetEvaluation(ctx, tenantID, key)
		if err != nil {
			slog.Warn("evaluation cache lookup failed", "error", err)
		}
		h.metrics.CacheLookup(cached != nil)
		if cached != nil {
			cached.Metadata.Cached = true
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	// 3. Evaluate
	evaluation, err := h.pipeline.Evaluate(ctx, in)
	if err != nil {
		slog.Error("evaluation failed",
			"tenant_id", tenantID,
			"entity_id", req.EntityID,
			"error", err,
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	evaluation.ID = uuid.New().String()
	evaluation.Metadata.TraceID = traceID
	evaluation.Metadata.TotalMs = time.Since(start).Milliseconds()
	h.metrics.ObserveEvaluation(evaluation.Domain, evaluation.Classification.Tier, time.Since(start))

	// 4. Persist and announce
	if h.repo != nil {
		if err := h.repo.SaveEvaluation(ctx, tenantID, evaluation); err != nil {
			slog.Error("failed to save evaluation", "evaluation_id", evaluation.ID, "error", err)
		}
	}
	if key != "" {
		if err := h.cache.SetEvaluation(ctx, tenantID, key, evaluation, h.evalTTL); err != nil {
			slog.Warn("failed to memoize evaluation", "evaluation_id", evaluation.ID, "error", err)
		}
	}
	if h.bus != nil {
		payload, _ := json.Marshal(evaluation)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicEvaluation, payload); err != nil {
			slog.Warn("failed to publish evaluation", "evaluation_id", evaluation.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, evaluation)
}

// evaluationKey hashes everything an evaluation depends on.
func evaluationKey(in *pipeline.EvaluateInput) string {
	b, _ := json.Marshal(in)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// AutomateRequest is the request body for POST /automate.
//
// Either a full recommendation with its trigger is sent, or an
// evaluationId whose recommendation (actionId, or the top one) is run
// with the evaluation as trigger.
type AutomateRequest struct {
	TriggerID      string                 `json:"triggerId"`
	Recommendation domain.Recommendation  `json:"recommendation"`
	Params         domain.ExecutionParams `json:"params"`
	Approved       bool                   `json:"approved"`

	EvaluationID string `json:"evaluationId,omitempty"`
	ActionID     string `json:"actionId,omitempty"`
}

// Automate handles POST /automate requests.
func (h *Handler) Automate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantID(ctx)

	if h.automation == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}

	var req AutomateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	areq := &automation.Request{
		TenantID:       tenantID,
		TriggerID:      req.TriggerID,
		Recommendation: req.Recommendation,
		Params:         req.Params,
		Approved:       req.Approved,
	}

	if req.EvaluationID != "" {
		if h.repo == nil {
			writeError(w, http.StatusServiceUnavailable, "repository not available")
			return
		}
		eval, err := h.repo.GetEvaluation(ctx, tenantID, req.EvaluationID)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "evaluation not found")
			return
		}
		if err != nil {
			slog.Error("failed to get evaluation", "id", req.EvaluationID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get evaluation")
			return
		}
		rec := pickRecommendation(eval, req.ActionID)
		if rec == nil {
			writeError(w, http.StatusBadRequest, "evaluation has no matching recommendation")
			return
		}
		areq = automation.RequestFor(eval, *rec, eval.ID)
		areq.Approved = req.Approved
		if req.Params.Offer != nil {
			areq.Params.Offer = req.Params.Offer
		}
		if req.Params.Quantity > 0 {
			areq.Params.Quantity = req.Params.Quantity
		}
	}

	res, err := h.automation.Automate(ctx, areq)
	if errors.Is(err, automation.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("automation failed",
			"tenant_id", tenantID,
			"trigger_id", areq.TriggerID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "automation failed")
		return
	}

	status := http.StatusOK
	if res.Status == domain.StatusPendingApproval {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func pickRecommendation(eval *domain.Evaluation, actionID string) *domain.Recommendation {
	if actionID == "" {
		return eval.TopRecommendation()
	}
	for i := range eval.Recommendations {
		if eval.Recommendations[i].ActionID == actionID {
			rec := eval.Recommendations[i]
			return &rec
		}
	}
	return nil
}

// ListActions handles GET /actions?entityId=.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantID(ctx)
	entityID := r.URL.Query().Get("entityId")

	if h.automation == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}

	records, err := h.automation.History(ctx, tenantID, entityID)
	if err != nil {
		slog.Error("failed to list actions", "entity_id", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}
	if records == nil {
		records = []domain.ActionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"actions": records,
		"count":   len(records),
	})
}

// ForecastRequest is the request body for POST /forecast.
type ForecastRequest struct {
	// Series is daily demand, oldest first.
	Series []float64 `json:"series"`

	// Plan, when set, also derives a reorder plan.
	Plan *domain.InventoryParams `json:"plan,omitempty"`
}

// ForecastResponse is the response for POST /forecast.
type ForecastResponse struct {
	Forecast domain.Forecast     `json:"forecast"`
	Plan     *domain.ReorderPlan `json:"plan,omitempty"`
}

// Forecast handles POST /forecast requests.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	resp := ForecastResponse{Forecast: forecast.Compute(req.Series)}
	if req.Plan != nil {
		plan := forecast.Plan(req.Series, *req.Plan)
		resp.Plan = &plan
	}
	writeJSON(w, http.StatusOK, resp)
}

// PredictCampaign handles POST /campaigns/predict requests.
func (h *Handler) PredictCampaign(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		writeError(w, http.StatusServiceUnavailable, "campaign predictor not available")
		return
	}

	var c domain.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	prediction, err := h.campaigns.Predict(c)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

// IngestRequest is the request body for POST /events.
type IngestRequest struct {
	Events []domain.Event `json:"events"`
}

// IngestEvents handles POST /events requests. Events are recorded in
// order; the first invalid event stops the batch.
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantID(ctx)

	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events are required")
		return
	}

	ids := make([]string, 0, len(req.Events))
	for i := range req.Events {
		ev := &req.Events[i]
		if err := h.history.Record(ctx, tenantID, ev); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, history.ErrInvalidEvent) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, map[string]any{
				"error":    err.Error(),
				"recorded": ids,
			})
			return
		}
		ids = append(ids, ev.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"recorded": ids,
		"count":    len(ids),
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeError(w, http.StatusBadRequest, "evaluation id is required")
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeError(w, http.StatusNotFound, "evaluation not found")
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// DomainSummary describes a configured domain.
type DomainSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tiers       []string `json:"tiers"`
	Forecasting bool     `json:"forecasting"`
}

// ListDomains returns the configured domains.
func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	configs := h.pipeline.Domains()
	out := make([]DomainSummary, 0, len(configs))
	for _, d := range configs {
		tiers := make([]string, len(d.Tiers))
		for i, t := range d.Tiers {
			tiers[i] = t.Tier
		}
		out = append(out, DomainSummary{
			Name:        d.Name,
			Description: d.Description,
			Tiers:       tiers,
			Forecasting: d.Forecast != nil,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domains": out,
		"count":   len(out),
	})
}

// ListAutomationRules returns the rules loaded in the approval gate.
func (h *Handler) ListAutomationRules(w http.ResponseWriter, r *http.Request) {
	if h.automation == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}

	loaded := h.automation.Gate().Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// ReloadAutomationRules replaces the gate's rules without a restart.
// An invalid set leaves the current rules in place.
func (h *Handler) ReloadAutomationRules(w http.ResponseWriter, r *http.Request) {
	if h.automation == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}

	var req struct {
		Rules []domain.AutomationRule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := h.automation.Gate().ReloadRules(req.Rules); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("automation rules reloaded", "rule_count", len(req.Rules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Automation rules reloaded",
		"count":   len(req.Rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready":  "false",
				"reason": "repository unreachable",
			})
			return
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready":  "false",
				"reason": "event bus unreachable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
