package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

// collect subscribes and forwards every message to the returned channel.
func collect(t *testing.T, b domain.EventBus, tenantID, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 16)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func await(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan *domain.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("unexpected message %s for tenant %s", msg.ID, msg.TenantID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		ch := collect(t, b, "tenant-001", domain.TopicEventIngested)

		if err := b.Publish(ctx, "tenant-001", domain.TopicEventIngested, []byte(`{"entityId":"cust-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := await(t, ch)
		if string(msg.Payload) != `{"entityId":"cust-1"}` {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
		if msg.TenantID != "tenant-001" || msg.Topic != domain.TopicEventIngested || msg.ID == "" {
			t.Errorf("unexpected envelope %+v", msg)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		a := collect(t, b, "tenant-a", "isolation.topic")
		other := collect(t, b, "tenant-b", "isolation.topic")

		b.Publish(ctx, "tenant-a", "isolation.topic", []byte("for a"))

		await(t, a)
		expectNone(t, other)
	})

	t.Run("AllTenants", func(t *testing.T) {
		all := collect(t, b, domain.AllTenants, "wildcard.topic")

		b.Publish(ctx, "tenant-1", "wildcard.topic", []byte("one"))
		b.Publish(ctx, "tenant-2", "wildcard.topic", []byte("two"))

		first, second := await(t, all), await(t, all)
		if first.TenantID != "tenant-1" || second.TenantID != "tenant-2" {
			t.Errorf("expected both tenants in order, got %s then %s", first.TenantID, second.TenantID)
		}
	})

	t.Run("InvalidTenant", func(t *testing.T) {
		if err := b.Publish(ctx, "", "topic", nil); !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("expected ErrInvalidTenant for empty tenant, got %v", err)
		}
		if err := b.Publish(ctx, domain.AllTenants, "topic", nil); !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("expected ErrInvalidTenant when publishing to all tenants, got %v", err)
		}
		if _, err := b.Request(ctx, domain.AllTenants, "topic", nil); !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("expected ErrInvalidTenant for request to all tenants, got %v", err)
		}
		_, err := b.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error { return nil })
		if !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("expected ErrInvalidTenant for subscribe, got %v", err)
		}
	})

	t.Run("TraceIDMetadata", func(t *testing.T) {
		ch := collect(t, b, "tenant-001", "traced.topic")

		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
			SpanID:  trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		})
		b.Publish(trace.ContextWithSpanContext(ctx, sc), "tenant-001", "traced.topic", []byte("x"))

		msg := await(t, ch)
		if got := msg.Metadata[domain.MetaTraceID]; got != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("expected trace id in metadata, got %q", got)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := b.Subscribe(ctx, "tenant-001", "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		b.Publish(ctx, "tenant-001", "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		sub.Unsubscribe()
		sub.Unsubscribe()

		b.Publish(ctx, "tenant-001", "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message, got %d", count.Load())
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic unsub.topic, got %s", sub.Topic())
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		_, err := b.Subscribe(ctx, domain.AllTenants, domain.TopicFulfillmentOrder, func(ctx context.Context, msg *domain.Message) error {
			return b.Reply(ctx, msg, append([]byte(msg.TenantID+": "), msg.Payload...))
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		reply, err := b.Request(reqCtx, "tenant-001", domain.TopicFulfillmentOrder, []byte("10 kg tomatoes"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "tenant-001: 10 kg tomatoes" {
			t.Errorf("unexpected reply %q", reply)
		}
	})

	t.Run("RequestWithoutResponder", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := b.Request(reqCtx, "tenant-001", "nobody.home", []byte("x"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("ReplyRequiresAddress", func(t *testing.T) {
		if err := b.Reply(ctx, &domain.Message{TenantID: "tenant-001"}, []byte("x")); !errors.Is(err, ErrNoReplyAddress) {
			t.Errorf("expected ErrNoReplyAddress, got %v", err)
		}
	})

	t.Run("LateReplyIsDiscarded", func(t *testing.T) {
		if err := b.Reply(ctx, &domain.Message{TenantID: "tenant-001", ReplyTo: "_inbox.gone"}, []byte("x")); err != nil {
			t.Errorf("expected late reply to be ignored, got %v", err)
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	b.Subscribe(ctx, "tenant-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	// First message occupies the handler, second fills the buffer.
	b.Publish(ctx, "tenant-001", "slow.topic", []byte("1"))
	<-started
	b.Publish(ctx, "tenant-001", "slow.topic", []byte("2"))
	b.Publish(ctx, "tenant-001", "slow.topic", []byte("3"))
	close(release)

	if got := b.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped message, got %d", got)
	}
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	pending := make(chan error, 1)
	go func() {
		_, err := b.Request(ctx, "tenant-001", "never.answered", []byte("x"))
		pending <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	select {
	case err := <-pending:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected pending request to fail with ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not released by Close")
	}

	if err := b.Publish(ctx, "tenant-001", "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if err := b.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ping to fail after close, got %v", err)
	}
}

func TestNATSSubject(t *testing.T) {
	if got := subject("tenant-001", domain.TopicSnapshotIngested); got != "larder.snapshot.ingested.tenant-001" {
		t.Errorf("unexpected subject %s", got)
	}
	if got := subject(domain.AllTenants, domain.TopicSnapshotIngested); got != "larder.snapshot.ingested.*" {
		t.Errorf("unexpected wildcard subject %s", got)
	}
}

func TestIsWorkTopic(t *testing.T) {
	for _, topic := range []string{domain.TopicSnapshotIngested, domain.TopicFulfillmentOrder, domain.TopicFulfillmentOffer} {
		if !domain.IsWorkTopic(topic) {
			t.Errorf("expected %s to be a work topic", topic)
		}
	}
	for _, topic := range []string{domain.TopicEvaluation, domain.TopicActionExecuted, domain.TopicEventIngested} {
		if domain.IsWorkTopic(topic) {
			t.Errorf("expected %s to fan out", topic)
		}
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
