// Package history loads and records the dated events evaluations are computed from.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/metrics"
)

// ErrInvalidEvent is returned for events that cannot be recorded.
var ErrInvalidEvent = errors.New("invalid event")

// Service reads and writes entity histories through the repository.
// It implements domain.HistorySource.
type Service struct {
	repo    domain.Repository
	bus     domain.EventBus
	metrics *metrics.Metrics
}

// NewService creates a history service. bus and m may be nil.
func NewService(repo domain.Repository, bus domain.EventBus, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		bus:     bus,
		metrics: m,
	}
}

// LoadHistory returns an entity's events since a point in time, oldest first.
func (s *Service) LoadHistory(ctx context.Context, tenantID, entityID string, since time.Time) ([]domain.Event, error) {
	if tenantID == "" || entityID == "" {
		return nil, fmt.Errorf("tenantID and entityID are required")
	}

	events, err := s.repo.ListEvents(ctx, tenantID, entityID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return events, nil
}

// Record validates and stores an event, then announces it on the bus.
func (s *Service) Record(ctx context.Context, tenantID string, ev *domain.Event) error {
	if err := validate(ev); err != nil {
		return err
	}

	if err := s.repo.SaveEvent(ctx, tenantID, ev); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	s.metrics.EventIngested()

	if s.bus != nil {
		payload, _ := json.Marshal(ev)
		if err := s.bus.Publish(ctx, tenantID, domain.TopicEventIngested, payload); err != nil {
			slog.Warn("failed to publish ingested event",
				"tenant_id", tenantID,
				"entity_id", ev.EntityID,
				"error", err,
			)
		}
	}
	return nil
}

// CountSince returns how many events an entity has had within a window.
func (s *Service) CountSince(ctx context.Context, tenantID, entityID string, window time.Duration) (int, error) {
	events, err := s.LoadHistory(ctx, tenantID, entityID, time.Now().Add(-window))
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func validate(ev *domain.Event) error {
	switch {
	case ev == nil:
		return fmt.Errorf("%w: event is required", ErrInvalidEvent)
	case ev.EntityID == "":
		return fmt.Errorf("%w: entityId is required", ErrInvalidEvent)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	case math.IsNaN(ev.Amount) || math.IsInf(ev.Amount, 0):
		return fmt.Errorf("%w: amount must be finite", ErrInvalidEvent)
	case math.IsNaN(ev.Quantity) || math.IsInf(ev.Quantity, 0) || ev.Quantity < 0:
		return fmt.Errorf("%w: quantity must be a non-negative number", ErrInvalidEvent)
	}

	switch ev.Kind {
	case domain.EventOrder, domain.EventSale, domain.EventVisit, domain.EventResponse:
	case "":
		ev.Kind = domain.EventOrder
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	return nil
}
