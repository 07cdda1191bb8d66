// Package worker evaluates entity snapshots published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/larder/internal/automation"
	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/metrics"
	"github.com/opensource-finance/larder/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("larder-worker")

const defaultWorkerCount = 5

// errForeignTenant marks a snapshot whose payload names another tenant
// than the one it was published for.
var errForeignTenant = errors.New("snapshot published for another tenant")

// SnapshotMessage is the payload of TopicSnapshotIngested.
type SnapshotMessage struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId"`

	// TriggerID identifies the triggering event for automation. Publishers
	// that retry should resend the same value. Defaults to the message ID.
	TriggerID string `json:"triggerId,omitempty"`

	Domain   string         `json:"domain"`
	EntityID string         `json:"entityId"`
	Profile  domain.Profile `json:"profile"`

	// History is loaded through the history source when omitted.
	History []domain.Event `json:"history,omitempty"`

	Now time.Time `json:"now,omitempty"`
}

// Config selects what the worker consumes.
type Config struct {
	// TenantIDs to consume. Empty consumes every tenant.
	TenantIDs []string

	// WorkerCount bounds concurrent evaluations.
	WorkerCount int

	// AutoExecute automates the top recommendation of highest-tier
	// evaluations.
	AutoExecute bool
}

// Stats describes the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// Worker turns snapshot messages into published evaluations, optionally
// automating the most urgent ones. Evaluations run on a bounded pool so a
// slow entity never stalls the subscription.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	history    domain.HistorySource
	pipeline   *pipeline.Pipeline
	automation *automation.Engine
	metrics    *metrics.Metrics

	autoExecute bool
	slots       chan struct{}
	inflight    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs []domain.Subscription
}

// NewWorker creates a worker. repo, history, engine and m may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, history domain.HistorySource, p *pipeline.Pipeline, engine *automation.Engine, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		history:    history,
		pipeline:   p,
		automation: engine,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to snapshots of the configured tenants. If any
// subscription fails, those already made are undone.
func (w *Worker) Start(cfg Config) error {
	n := cfg.WorkerCount
	if n <= 0 {
		n = defaultWorkerCount
	}
	w.slots = make(chan struct{}, n)
	w.autoExecute = cfg.AutoExecute

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSnapshotIngested, w.dispatch)
		if err != nil {
			w.unsubscribeLocked()
			return fmt.Errorf("subscribe snapshots for tenant %s: %w", tenantID, err)
		}
		w.subs = append(w.subs, sub)
	}

	slog.Info("snapshot worker started",
		"tenants", tenants,
		"worker_count", n,
		"auto_execute", cfg.AutoExecute,
	)
	return nil
}

// dispatch waits for a free slot, then evaluates on its own goroutine.
func (w *Worker) dispatch(_ context.Context, msg *domain.Message) error {
	select {
	case w.slots <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer func() { <-w.slots }()
		if err := w.handle(w.ctx, msg); err != nil {
			slog.Error("snapshot failed",
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}()
	return nil
}

// handle runs one snapshot: decode, load history, evaluate, persist,
// publish and, for the highest tier, automate.
func (w *Worker) handle(ctx context.Context, msg *domain.Message) (err error) {
	start := time.Now()
	tenantID := msg.TenantID

	ctx, span := tracer.Start(ctx, "worker.snapshot")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	snap, err := decodeSnapshot(msg)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("larder.domain", snap.Domain),
		attribute.String("larder.entity_id", snap.EntityID),
	)

	events, err := w.loadHistory(ctx, tenantID, snap)
	if err != nil {
		return err
	}

	eval, err := w.pipeline.Evaluate(ctx, &pipeline.EvaluateInput{
		TenantID: tenantID,
		Domain:   snap.Domain,
		EntityID: snap.EntityID,
		History:  events,
		Profile:  snap.Profile,
		Now:      snap.Now,
	})
	if err != nil {
		return fmt.Errorf("evaluate %s/%s: %w", snap.Domain, snap.EntityID, err)
	}
	eval.ID = uuid.NewString()
	eval.Metadata.TraceID = traceIDOf(snap, msg)
	eval.Metadata.TotalMs = time.Since(start).Milliseconds()
	w.metrics.ObserveEvaluation(eval.Domain, eval.Classification.Tier, time.Since(start))

	if w.repo != nil {
		if err := w.repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			slog.Error("failed to save evaluation", "evaluation_id", eval.ID, "error", err)
		}
	}
	payload, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("encode evaluation: %w", err)
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicEvaluation, payload); err != nil {
		slog.Error("failed to publish evaluation", "evaluation_id", eval.ID, "error", err)
	}

	w.maybeAutomate(ctx, eval, triggerIDOf(snap, msg))

	slog.Info("snapshot processed",
		"tenant_id", tenantID,
		"entity_id", eval.EntityID,
		"domain", eval.Domain,
		"tier", eval.Classification.Tier,
		"score", eval.Score.Composite,
		"trace_id", eval.Metadata.TraceID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// decodeSnapshot parses the payload. The bus tenant is authoritative, so a
// payload naming a different tenant is refused rather than written across
// tenants.
func decodeSnapshot(msg *domain.Message) (*SnapshotMessage, error) {
	var snap SnapshotMessage
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", msg.ID, err)
	}
	if snap.TenantID != "" && snap.TenantID != msg.TenantID {
		slog.Warn("snapshot tenant mismatch",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"payload_tenant_id", snap.TenantID,
		)
		return nil, fmt.Errorf("%w: payload %q, bus %q", errForeignTenant, snap.TenantID, msg.TenantID)
	}
	return &snap, nil
}

// traceIDOf prefers the snapshot's own trace ID, then the publisher's span,
// then the message ID.
func traceIDOf(snap *SnapshotMessage, msg *domain.Message) string {
	switch {
	case snap.TraceID != "":
		return snap.TraceID
	case msg.Metadata[domain.MetaTraceID] != "":
		return msg.Metadata[domain.MetaTraceID]
	default:
		return msg.ID
	}
}

// triggerIDOf names the event behind a snapshot. A redelivered message
// keeps its ID, so it maps to the same trigger.
func triggerIDOf(snap *SnapshotMessage, msg *domain.Message) string {
	if snap.TriggerID != "" {
		return snap.TriggerID
	}
	return msg.ID
}

func (w *Worker) loadHistory(ctx context.Context, tenantID string, snap *SnapshotMessage) ([]domain.Event, error) {
	if snap.History != nil || w.history == nil {
		return snap.History, nil
	}
	now := snap.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	events, err := w.history.LoadHistory(ctx, tenantID, snap.EntityID, now.Add(-w.pipeline.Lookback(snap.Domain)))
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", snap.EntityID, err)
	}
	return events, nil
}

// maybeAutomate acts on the top recommendation of a highest-tier
// evaluation. Failures are logged; the evaluation already stands.
func (w *Worker) maybeAutomate(ctx context.Context, eval *domain.Evaluation, triggerID string) {
	if !w.autoExecute || w.automation == nil || !eval.Classification.Highest {
		return
	}
	top := eval.TopRecommendation()
	if top == nil {
		return
	}
	res, err := w.automation.Automate(ctx, automation.RequestFor(eval, *top, triggerID))
	if err != nil {
		slog.Error("automation failed",
			"evaluation_id", eval.ID,
			"trigger_id", triggerID,
			"action_id", top.ActionID,
			"error", err,
		)
		return
	}
	slog.Info("automation triggered",
		"evaluation_id", eval.ID,
		"trigger_id", triggerID,
		"action_id", top.ActionID,
		"status", res.Status,
	)
}

// Stop unsubscribes and waits for in-flight snapshots.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.unsubscribeLocked()
	w.mu.Unlock()

	w.inflight.Wait()
	slog.Info("snapshot worker stopped")
	return nil
}

func (w *Worker) unsubscribeLocked() {
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subs = nil
}

// Stats reports the active subscriptions.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subs))
	for i, sub := range w.subs {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subs), Topics: topics}
}
