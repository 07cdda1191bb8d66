package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/larder/internal/automation"
	"github.com/opensource-finance/larder/internal/bus"
	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/pipeline"
)

var now = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

// lapsedHistory is six orders, the last one 105 days ago.
func lapsedHistory(entityID string) []domain.Event {
	amounts := []float64{280, 320, 150, 120, 90, 75}
	events := make([]domain.Event, len(amounts))
	for i, a := range amounts {
		events[i] = domain.Event{
			EntityID:  entityID,
			Kind:      domain.EventOrder,
			Amount:    a,
			Timestamp: now.AddDate(0, 0, -(105 + (len(amounts)-1-i)*21)),
		}
	}
	return events
}

type staticHistory struct {
	events []domain.Event
	calls  chan string
}

func (s *staticHistory) LoadHistory(ctx context.Context, tenantID, entityID string, since time.Time) ([]domain.Event, error) {
	s.calls <- entityID
	return s.events, nil
}

func mustPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.BuiltinDomains())
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	return p
}

func publishSnapshot(t *testing.T, b domain.EventBus, tenantID string, snap SnapshotMessage) {
	t.Helper()
	payload, _ := json.Marshal(snap)
	if err := b.Publish(context.Background(), tenantID, domain.TopicSnapshotIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func awaitEvaluation(t *testing.T, ch <-chan *domain.Evaluation) *domain.Evaluation {
	t.Helper()
	select {
	case eval := <-ch:
		return eval
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for evaluation")
		return nil
	}
}

func subscribeEvaluations(t *testing.T, b domain.EventBus, tenantID string) <-chan *domain.Evaluation {
	t.Helper()
	ch := make(chan *domain.Evaluation, 10)
	_, err := b.Subscribe(context.Background(), tenantID, domain.TopicEvaluation, func(ctx context.Context, msg *domain.Message) error {
		var eval domain.Evaluation
		if err := json.Unmarshal(msg.Payload, &eval); err != nil {
			return err
		}
		ch <- &eval
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return ch
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	p := mustPipeline(t)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, p, nil, nil)

		err := w.Start(Config{TenantIDs: []string{"tenant-001"}, WorkerCount: 1})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.Stats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.Stats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessSnapshot", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, p, nil, nil)
		w.Start(Config{TenantIDs: []string{"tenant-test"}})
		defer w.Stop()

		evals := subscribeEvaluations(t, eventBus, "tenant-test")
		time.Sleep(20 * time.Millisecond)

		publishSnapshot(t, eventBus, "tenant-test", SnapshotMessage{
			TraceID:  "trace-001",
			Domain:   pipeline.DomainChurn,
			EntityID: "cust-001",
			History:  lapsedHistory("cust-001"),
			Now:      now,
		})

		eval := awaitEvaluation(t, evals)
		if eval.ID == "" {
			t.Error("expected an evaluation ID")
		}
		if eval.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got '%s'", eval.TenantID)
		}
		if eval.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", eval.Metadata.TraceID)
		}
		if eval.Classification.Tier != "high" {
			t.Errorf("expected tier high, got %s", eval.Classification.Tier)
		}
	})

	t.Run("LoadsHistory", func(t *testing.T) {
		src := &staticHistory{events: lapsedHistory("cust-002"), calls: make(chan string, 1)}
		w := NewWorker(eventBus, nil, src, p, nil, nil)
		w.Start(Config{TenantIDs: []string{"tenant-history"}})
		defer w.Stop()

		evals := subscribeEvaluations(t, eventBus, "tenant-history")
		time.Sleep(20 * time.Millisecond)

		publishSnapshot(t, eventBus, "tenant-history", SnapshotMessage{
			Domain:   pipeline.DomainChurn,
			EntityID: "cust-002",
			Now:      now,
		})

		eval := awaitEvaluation(t, evals)
		if got := <-src.calls; got != "cust-002" {
			t.Errorf("expected history lookup for cust-002, got %s", got)
		}
		if eval.Metadata.EventsConsidered != 6 {
			t.Errorf("expected 6 events from the history source, got %d", eval.Metadata.EventsConsidered)
		}
	})

	t.Run("AutoExecute", func(t *testing.T) {
		log := automation.NewMemoryLog()
		engine, err := automation.New(automation.Options{
			Rules: domain.DefaultAutomationRules(),
			Log:   log,
		})
		if err != nil {
			t.Fatalf("automation.New failed: %v", err)
		}

		w := NewWorker(eventBus, nil, nil, p, engine, nil)
		w.Start(Config{TenantIDs: []string{"tenant-auto"}, AutoExecute: true})
		defer w.Stop()

		evals := subscribeEvaluations(t, eventBus, "tenant-auto")
		time.Sleep(20 * time.Millisecond)

		publishSnapshot(t, eventBus, "tenant-auto", SnapshotMessage{
			TriggerID: "pos-sync-003",
			Domain:    pipeline.DomainChurn,
			EntityID:  "cust-003",
			History:   lapsedHistory("cust-003"),
			Now:       now,
		})
		awaitEvaluation(t, evals)

		// The action runs after the evaluation is published.
		deadline := time.Now().Add(2 * time.Second)
		var records []domain.ActionRecord
		for time.Now().Before(deadline) {
			records, _ = log.ListActions(context.Background(), "tenant-auto", "cust-003")
			if len(records) > 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 action record, got %d", len(records))
		}
		if records[0].ActionID != "personal_outreach" || records[0].TriggerID != "pos-sync-003" {
			t.Errorf("unexpected record %+v", records[0])
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, p, nil, nil)
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		stats := w.Stats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("AllTenants", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, p, nil, nil)
		w.Start(Config{})
		defer w.Stop()

		evals := subscribeEvaluations(t, eventBus, "tenant-any")
		time.Sleep(20 * time.Millisecond)

		publishSnapshot(t, eventBus, "tenant-any", SnapshotMessage{
			Domain:   pipeline.DomainChurn,
			EntityID: "cust-any",
			History:  lapsedHistory("cust-any"),
			Now:      now,
		})

		eval := awaitEvaluation(t, evals)
		if eval.TenantID != "tenant-any" || eval.EntityID != "cust-any" {
			t.Errorf("unexpected evaluation %s/%s", eval.TenantID, eval.EntityID)
		}
	})

	t.Run("RejectsForeignTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, p, nil, nil)
		w.Start(Config{TenantIDs: []string{"tenant-x"}})
		defer w.Stop()

		evals := subscribeEvaluations(t, eventBus, "tenant-y")
		time.Sleep(20 * time.Millisecond)

		publishSnapshot(t, eventBus, "tenant-x", SnapshotMessage{
			TenantID: "tenant-y",
			Domain:   pipeline.DomainChurn,
			EntityID: "cust-x",
			Now:      now,
		})

		select {
		case eval := <-evals:
			t.Errorf("expected no evaluation for a foreign tenant, got %s", eval.ID)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestWorkerRedeliveryActsOnce(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	log := automation.NewMemoryLog()
	engine, err := automation.New(automation.Options{
		Rules: domain.DefaultAutomationRules(),
		Log:   log,
	})
	if err != nil {
		t.Fatalf("automation.New failed: %v", err)
	}
	w := NewWorker(eventBus, nil, nil, mustPipeline(t), engine, nil)
	w.autoExecute = true

	payload, _ := json.Marshal(SnapshotMessage{
		Domain:   pipeline.DomainChurn,
		EntityID: "cust-redo",
		History:  lapsedHistory("cust-redo"),
		Now:      now,
	})
	msg := &domain.Message{ID: "msg-1", TenantID: "tenant-redo", Payload: payload}

	for i := 0; i < 2; i++ {
		if err := w.handle(context.Background(), msg); err != nil {
			t.Fatalf("handle #%d failed: %v", i+1, err)
		}
	}

	records, _ := log.ListActions(context.Background(), "tenant-redo", "cust-redo")
	if len(records) != 1 {
		t.Fatalf("expected 1 action record for a redelivered message, got %d", len(records))
	}
	if records[0].TriggerID != "msg-1" {
		t.Errorf("expected the message ID as trigger, got %s", records[0].TriggerID)
	}
}

func TestWorkerStartRollsBack(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := NewWorker(eventBus, nil, nil, mustPipeline(t), nil, nil)
	if err := w.Start(Config{TenantIDs: []string{"tenant-ok", ""}}); err == nil {
		t.Fatal("expected Start to fail for an empty tenant")
	}
	if n := w.Stats().SubscriptionCount; n != 0 {
		t.Errorf("expected earlier subscriptions to be undone, got %d", n)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	t.Run("ForeignTenant", func(t *testing.T) {
		msg := &domain.Message{ID: "m1", TenantID: "tenant-a", Payload: []byte(`{"tenantId":"tenant-b","domain":"churn","entityId":"c"}`)}
		if _, err := decodeSnapshot(msg); !errors.Is(err, errForeignTenant) {
			t.Errorf("expected errForeignTenant, got %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		msg := &domain.Message{ID: "m2", TenantID: "tenant-a", Payload: []byte(`{`)}
		if _, err := decodeSnapshot(msg); err == nil {
			t.Error("expected an error for malformed JSON")
		}
	})

	t.Run("TraceIDFallbacks", func(t *testing.T) {
		msg := &domain.Message{ID: "msg-9", Metadata: map[string]string{domain.MetaTraceID: "span-trace"}}
		if got := traceIDOf(&SnapshotMessage{TraceID: "own"}, msg); got != "own" {
			t.Errorf("expected snapshot trace ID, got %s", got)
		}
		if got := traceIDOf(&SnapshotMessage{}, msg); got != "span-trace" {
			t.Errorf("expected metadata trace ID, got %s", got)
		}
		if got := traceIDOf(&SnapshotMessage{}, &domain.Message{ID: "msg-9"}); got != "msg-9" {
			t.Errorf("expected message ID fallback, got %s", got)
		}
	})

	t.Run("TriggerIDFallback", func(t *testing.T) {
		msg := &domain.Message{ID: "msg-9"}
		if got := triggerIDOf(&SnapshotMessage{TriggerID: "pos-1"}, msg); got != "pos-1" {
			t.Errorf("expected snapshot trigger ID, got %s", got)
		}
		if got := triggerIDOf(&SnapshotMessage{}, msg); got != "msg-9" {
			t.Errorf("expected message ID fallback, got %s", got)
		}
	})
}

func TestSnapshotMessageParsing(t *testing.T) {
	raw := `{"tenantId":"tenant-001","domain":"inventory","entityId":"tomatoes",
		"profile":{"entityId":"tomatoes","inventory":{"currentStock":15,"leadTimeDays":3}},
		"history":[{"entityId":"tomatoes","kind":"sale","amount":25,"quantity":10,"timestamp":"2026-05-31T12:00:00Z"}]}`

	var parsed SnapshotMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.Domain != "inventory" || parsed.EntityID != "tomatoes" {
		t.Errorf("unexpected snapshot %+v", parsed)
	}
	if parsed.Profile.Inventory == nil || parsed.Profile.Inventory.CurrentStock != 15 {
		t.Errorf("expected inventory params, got %+v", parsed.Profile.Inventory)
	}
	if len(parsed.History) != 1 || parsed.History[0].Quantity != 10 {
		t.Errorf("unexpected history %+v", parsed.History)
	}
}
