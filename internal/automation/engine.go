// Package automation executes approved recommendations through the
// fulfillment collaborator and records every execution in an
// append-only action log.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/metrics"
)

var tracer = otel.Tracer("larder-automation")

// ErrInvalidRequest is returned for malformed automation requests.
var ErrInvalidRequest = errors.New("invalid automation request")

// DefaultFulfillmentTimeout bounds a fulfillment call when none is configured.
const DefaultFulfillmentTimeout = 10 * time.Second

// Options wires an Engine.
type Options struct {
	Rules       []domain.AutomationRule
	Log         domain.ActionLog
	Fulfillment domain.Fulfillment

	// Locker defaults to an in-process KeyedMutex.
	Locker Locker

	// Bus, when set, receives executed and pending notifications.
	Bus domain.EventBus

	Metrics *metrics.Metrics
	Timeout time.Duration
}

// Engine gates, executes and records actions.
type Engine struct {
	gate        *Gate
	log         domain.ActionLog
	fulfillment domain.Fulfillment
	locker      Locker
	bus         domain.EventBus
	metrics     *metrics.Metrics
	timeout     time.Duration

	now   func() time.Time
	newID func() string
}

// New creates an automation engine. Invalid rule conditions are rejected.
func New(opts Options) (*Engine, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("action log is required")
	}
	gate, err := NewGate(opts.Rules)
	if err != nil {
		return nil, err
	}
	if opts.Locker == nil {
		opts.Locker = NewKeyedMutex()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFulfillmentTimeout
	}

	return &Engine{
		gate:        gate,
		log:         opts.Log,
		fulfillment: opts.Fulfillment,
		locker:      opts.Locker,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		timeout:     opts.Timeout,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}, nil
}

// Gate exposes the approval gate for inspection and hot reload.
func (e *Engine) Gate() *Gate {
	return e.gate
}

// Request asks the engine to carry out one recommendation.
type Request struct {
	TenantID       string                 `json:"tenantId"`
	TriggerID      string                 `json:"triggerId"`
	Recommendation domain.Recommendation  `json:"recommendation"`
	Params         domain.ExecutionParams `json:"params"`

	// Approved records a human approval and bypasses the gate.
	Approved bool `json:"approved,omitempty"`
}

// Result is the outcome of Automate.
type Result struct {
	Status  string               `json:"status"`
	Message string               `json:"message"`
	Result  *domain.ActionResult `json:"result,omitempty"`
	Record  *domain.ActionRecord `json:"record,omitempty"`

	// Replayed is set when the trigger had already executed and the
	// existing record is returned unchanged.
	Replayed bool `json:"replayed,omitempty"`

	// ApprovalReason explains a pending_approval status.
	ApprovalReason string `json:"approvalReason,omitempty"`
}

// Automate executes a recommendation unless its category requires approval.
//
// Every execution appends exactly one record, including failed ones.
// Executions for the same entity are serialized, and a trigger that
// already has a record is never executed again. Fulfillment failures are
// reported in the result, not as an error; only invalid requests and
// infrastructure failures return an error.
func (e *Engine) Automate(ctx context.Context, req *Request) (*Result, error) {
	if err := e.normalize(req); err != nil {
		return nil, err
	}
	rec := req.Recommendation

	ctx, span := tracer.Start(ctx, "automation.Automate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("entity.id", req.Params.EntityID),
		attribute.String("action.id", rec.ActionID),
		attribute.String("action.category", rec.Category),
	)

	if !req.Approved {
		decision := e.gate.Check(rec, req.Params)
		if decision.RequiresApproval {
			e.metrics.Automation(rec.Category, domain.StatusPendingApproval)
			e.publish(ctx, req.TenantID, domain.TopicActionPending, req)
			slog.Info("action awaiting approval",
				"tenant_id", req.TenantID,
				"entity_id", req.Params.EntityID,
				"action_id", rec.ActionID,
				"reason", decision.Reason,
			)
			return &Result{
				Status:         domain.StatusPendingApproval,
				Message:        fmt.Sprintf("%s for %s requires approval", rec.Title, req.Params.EntityID),
				ApprovalReason: decision.Reason,
			}, nil
		}
	}

	unlock, err := e.locker.Lock(ctx, req.TenantID, req.Params.EntityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		return nil, fmt.Errorf("failed to lock entity %s: %w", req.Params.EntityID, err)
	}
	defer unlock()

	existing, err := e.log.FindAction(ctx, req.TenantID, req.Params.EntityID, req.TriggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read action log: %w", err)
	}
	if existing != nil {
		slog.Info("trigger already executed",
			"tenant_id", req.TenantID,
			"entity_id", req.Params.EntityID,
			"trigger_id", req.TriggerID,
			"record_id", existing.ID,
		)
		return &Result{
			Status:   domain.StatusExecuted,
			Message:  fmt.Sprintf("trigger %s already executed for %s", req.TriggerID, req.Params.EntityID),
			Result:   &existing.Result,
			Record:   existing,
			Replayed: true,
		}, nil
	}

	result := e.execute(ctx, req)

	record := &domain.ActionRecord{
		ID:        e.newID(),
		TenantID:  req.TenantID,
		EntityID:  req.Params.EntityID,
		TriggerID: req.TriggerID,
		ActionID:  rec.ActionID,
		Category:  rec.Category,
		Params:    req.Params,
		Result:    result,
		Timestamp: e.now(),
	}
	if err := e.log.AppendAction(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, fmt.Errorf("failed to append action record: %w", err)
	}

	e.metrics.Automation(rec.Category, domain.StatusExecuted)
	if !result.Success {
		e.metrics.FulfillmentFailure(rec.Kind)
		span.SetStatus(codes.Error, result.Error)
	}
	e.publish(ctx, req.TenantID, domain.TopicActionExecuted, record)

	slog.Info("action executed",
		"tenant_id", req.TenantID,
		"entity_id", req.Params.EntityID,
		"action_id", rec.ActionID,
		"trigger_id", req.TriggerID,
		"success", result.Success,
		"reference", result.Reference,
	)

	return &Result{
		Status:  domain.StatusExecuted,
		Message: result.Message,
		Result:  &record.Result,
		Record:  record,
	}, nil
}

// History returns the action records of an entity in append order.
// An empty entityID lists the whole tenant.
func (e *Engine) History(ctx context.Context, tenantID, entityID string) ([]domain.ActionRecord, error) {
	return e.log.ListActions(ctx, tenantID, entityID)
}

func (e *Engine) normalize(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if req.TenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	if req.TriggerID == "" {
		return fmt.Errorf("%w: trigger ID is required", ErrInvalidRequest)
	}
	if req.Recommendation.ActionID == "" || req.Recommendation.Category == "" {
		return fmt.Errorf("%w: recommendation needs an action ID and category", ErrInvalidRequest)
	}
	if req.Params.EntityID == "" {
		req.Params.EntityID = req.Recommendation.EntityID
	}
	if req.Params.EntityID == "" {
		return fmt.Errorf("%w: entity ID is required", ErrInvalidRequest)
	}
	if req.Params.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity", ErrInvalidRequest)
	}
	return nil
}

// execute calls the fulfillment collaborator for the action kind.
func (e *Engine) execute(ctx context.Context, req *Request) domain.ActionResult {
	rec := req.Recommendation
	if rec.Kind == domain.KindTask || rec.Kind == "" {
		return domain.ActionResult{
			Success: true,
			Message: fmt.Sprintf("%s recorded for %s", rec.Title, req.Params.EntityID),
		}
	}
	if e.fulfillment == nil {
		return failure(rec, req.Params.EntityID, errors.New("no fulfillment collaborator configured"))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conf, err := e.call(callCtx, req)
	if err != nil {
		slog.Warn("fulfillment failed",
			"tenant_id", req.TenantID,
			"entity_id", req.Params.EntityID,
			"action_id", rec.ActionID,
			"error", err,
		)
		return failure(rec, req.Params.EntityID, err)
	}
	if conf == nil {
		conf = &domain.Confirmation{}
	}

	msg := fmt.Sprintf("%s executed for %s", rec.Title, req.Params.EntityID)
	if conf.Reference != "" {
		msg += " (ref " + conf.Reference + ")"
	}
	return domain.ActionResult{
		Success:   true,
		Reference: conf.Reference,
		Message:   msg,
	}
}

type callResult struct {
	conf *domain.Confirmation
	err  error
}

// call runs the collaborator on its own goroutine and gives up when ctx
// ends, so a collaborator that ignores its context cannot hold the entity
// lock past the timeout. A late answer is dropped.
func (e *Engine) call(ctx context.Context, req *Request) (*domain.Confirmation, error) {
	rec := req.Recommendation
	done := make(chan callResult, 1)
	go func() {
		var r callResult
		switch rec.Kind {
		case domain.KindOrder:
			item := req.Params.Item
			if item == "" {
				item = req.Params.EntityID
			}
			urgency := req.Params.Urgency
			if urgency == "" {
				urgency = string(rec.Priority)
			}
			r.conf, r.err = e.fulfillment.PlaceOrder(ctx, domain.OrderRequest{
				TenantID: req.TenantID,
				Item:     item,
				Quantity: req.Params.Quantity,
				Urgency:  urgency,
			})
		case domain.KindOffer:
			offer := domain.OfferSpec{Code: strings.ToUpper(rec.ActionID), Channel: "email"}
			if req.Params.Offer != nil {
				offer = *req.Params.Offer
			}
			r.conf, r.err = e.fulfillment.SendOffer(ctx, domain.OfferRequest{
				TenantID:   req.TenantID,
				CustomerID: req.Params.EntityID,
				Offer:      offer,
			})
		default:
			r.err = fmt.Errorf("unsupported action kind %q", rec.Kind)
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r.conf, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fulfillment did not answer: %w", ctx.Err())
	}
}

func failure(rec domain.Recommendation, entityID string, err error) domain.ActionResult {
	return domain.ActionResult{
		Success: false,
		Message: fmt.Sprintf("%s failed for %s", rec.Title, entityID),
		Error:   err.Error(),
	}
}

// publish notifies the bus; failures are logged and never fail the action.
func (e *Engine) publish(ctx context.Context, tenantID, topic string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to encode automation event",
			"topic", topic,
			"tenant_id", tenantID,
			"error", err,
		)
		return
	}
	if err := e.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish automation event",
			"topic", topic,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// RequestFor builds the request that automates one recommendation of an
// evaluation. triggerID names the event that caused it; replaying that
// event never acts twice. An empty triggerID falls back to the evaluation
// ID. Reorders use the plan's suggested quantity.
func RequestFor(eval *domain.Evaluation, rec domain.Recommendation, triggerID string) *Request {
	if triggerID == "" {
		triggerID = eval.ID
	}
	params := domain.ExecutionParams{
		EntityID: eval.EntityID,
		Urgency:  string(rec.Priority),
	}
	if rec.Kind == domain.KindOrder && eval.Plan != nil {
		params.Quantity = eval.Plan.SuggestedOrderQty
		if params.Quantity == 0 {
			params.Quantity = eval.Plan.EconomicOrderQty
		}
	}
	return &Request{
		TenantID:       eval.TenantID,
		TriggerID:      triggerID,
		Recommendation: rec,
		Params:         params,
	}
}
