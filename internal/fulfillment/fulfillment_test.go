package fulfillment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/larder/internal/bus"
	"github.com/opensource-finance/larder/internal/domain"
)

type supplier struct {
	fail bool
}

func (s supplier) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Confirmation, error) {
	if s.fail {
		return nil, errors.New("supplier closed")
	}
	return &domain.Confirmation{Reference: "PO-" + req.Item, Status: "accepted", Message: req.TenantID}, nil
}

func (s supplier) SendOffer(ctx context.Context, req domain.OfferRequest) (*domain.Confirmation, error) {
	return &domain.Confirmation{Reference: "OF-" + req.Offer.Code, Status: "sent"}, nil
}

func TestBusClient(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()
	tenantID := "tenant-001"

	subs, err := Serve(ctx, b, tenantID, supplier{})
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
	time.Sleep(10 * time.Millisecond)

	client := NewBusClient(b)

	t.Run("PlaceOrder", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		conf, err := client.PlaceOrder(reqCtx, domain.OrderRequest{TenantID: tenantID, Item: "tomatoes", Quantity: 140, Urgency: "critical"})
		if err != nil {
			t.Fatalf("PlaceOrder failed: %v", err)
		}
		if conf.Reference != "PO-tomatoes" || conf.Status != "accepted" {
			t.Errorf("unexpected confirmation %+v", conf)
		}
		if conf.Message != tenantID {
			t.Errorf("expected tenant %s to reach the supplier, got %s", tenantID, conf.Message)
		}
	})

	t.Run("SendOffer", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		conf, err := client.SendOffer(reqCtx, domain.OfferRequest{TenantID: tenantID, CustomerID: "cust-001", Offer: domain.OfferSpec{Code: "WINBACK"}})
		if err != nil {
			t.Fatalf("SendOffer failed: %v", err)
		}
		if conf.Reference != "OF-WINBACK" {
			t.Errorf("unexpected confirmation %+v", conf)
		}
	})

	t.Run("NoResponder", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		if _, err := client.PlaceOrder(reqCtx, domain.OrderRequest{TenantID: "tenant-002", Item: "x"}); err == nil {
			t.Error("expected an error without a responder for the tenant")
		}
	})
}

func TestBusClientRejected(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	if _, err := Serve(ctx, b, "tenant-001", supplier{fail: true}); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	_, err := NewBusClient(b).PlaceOrder(reqCtx, domain.OrderRequest{TenantID: "tenant-001", Item: "tomatoes"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "supplier closed") {
		t.Errorf("expected supplier error in message, got %v", err)
	}
}

func TestLogOnly(t *testing.T) {
	ctx := context.Background()

	conf, err := LogOnly{}.PlaceOrder(ctx, domain.OrderRequest{TenantID: "tenant-001", Item: "basil", Quantity: 4})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if !strings.HasPrefix(conf.Reference, "PO-") || conf.Status != "logged" {
		t.Errorf("unexpected confirmation %+v", conf)
	}

	conf, err = LogOnly{}.SendOffer(ctx, domain.OfferRequest{TenantID: "tenant-001", CustomerID: "cust-001"})
	if err != nil {
		t.Fatalf("SendOffer failed: %v", err)
	}
	if !strings.HasPrefix(conf.Reference, "OF-") {
		t.Errorf("unexpected reference %s", conf.Reference)
	}
}
