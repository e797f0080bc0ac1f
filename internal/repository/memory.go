package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/community-registration/internal/model"
	"github.com/google/uuid"
)

// Memory is an in-memory Store used by tests and local development. A
// single mutex plays the role of the database's row locks: every
// reserve and transition runs under it, so the same atomicity
// guarantees hold as for the postgres implementation, just without
// durability.
type Memory struct {
	mu            sync.Mutex
	offerings     map[string]*model.Offering
	subscriptions map[string]*model.Subscription
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		offerings:     make(map[string]*model.Offering),
		subscriptions: make(map[string]*model.Subscription),
	}
}

func (m *Memory) CreateOffering(ctx context.Context, req model.CreateOfferingRequest) (*model.Offering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offering := &model.Offering{
		ID:               uuid.New().String(),
		Kind:             req.Kind,
		Name:             req.Name,
		Description:      req.Description,
		Capacity:         req.Capacity,
		RequiresApproval: req.RequiresApproval,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	m.offerings[offering.ID] = offering
	out := *offering
	return &out, nil
}

func (m *Memory) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offering, ok := m.offerings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *offering
	return &out, nil
}

func (m *Memory) ListOfferings(ctx context.Context) ([]model.Offering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offerings := make([]model.Offering, 0, len(m.offerings))
	for _, o := range m.offerings {
		offerings = append(offerings, *o)
	}
	sort.Slice(offerings, func(i, j int) bool {
		return offerings[i].CreatedAt.After(offerings[j].CreatedAt)
	})
	return offerings, nil
}

func (m *Memory) DeactivateOffering(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	offering, ok := m.offerings[id]
	if !ok {
		return ErrNotFound
	}
	offering.Active = false
	return nil
}

func (m *Memory) Reserve(ctx context.Context, params ReserveParams) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offering, ok := m.offerings[params.OfferingID]
	if !ok || !offering.Active {
		return nil, ErrNotFound
	}

	if params.SubscriberID != model.AnonymousSubscriber {
		for _, sub := range m.subscriptions {
			if sub.OfferingID == params.OfferingID &&
				sub.SubscriberID == params.SubscriberID &&
				sub.Status.Counted() {
				return nil, ErrAlreadySubscribed
			}
		}
	}

	if !offering.Fits(params.Amount) {
		return nil, ErrCapacityExceeded
	}
	offering.Committed += params.Amount

	status := model.StatusApproved
	if offering.RequiresApproval {
		status = model.StatusPending
	}
	sub := &model.Subscription{
		ID:           uuid.New().String(),
		OfferingID:   params.OfferingID,
		SubscriberID: params.SubscriberID,
		Amount:       params.Amount,
		Status:       status,
		Notes:        params.Notes,
		CreatedAt:    time.Now().UTC(),
	}
	m.subscriptions[sub.ID] = sub
	out := *sub
	return &out, nil
}

func (m *Memory) Transition(ctx context.Context, subscriptionID string, event model.StatusEvent) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrNotFound
	}

	next, valid := model.NextStatus(sub.Status, event)
	if !valid {
		return nil, ErrInvalidTransition
	}

	if model.ReleasesCapacity(sub.Status, event) {
		if offering, ok := m.offerings[sub.OfferingID]; ok {
			offering.Committed -= sub.Amount
		}
	}

	decidedAt := time.Now().UTC()
	sub.Status = next
	sub.DecidedAt = &decidedAt
	out := *sub
	return &out, nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *sub
	return &out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, offeringID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []model.Subscription
	for _, sub := range m.subscriptions {
		if sub.OfferingID == offeringID {
			subs = append(subs, *sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	return subs, nil
}

func (m *Memory) ReconcileCounters(ctx context.Context) ([]CounterDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make(map[string]int64, len(m.offerings))
	for _, sub := range m.subscriptions {
		if sub.Status.Counted() {
			totals[sub.OfferingID] += sub.Amount
		}
	}

	var drifts []CounterDrift
	for id, offering := range m.offerings {
		if total := totals[id]; offering.Committed != total {
			drifts = append(drifts, CounterDrift{
				OfferingID: id,
				Previous:   offering.Committed,
				Corrected:  total,
			})
			offering.Committed = total
		}
	}
	return drifts, nil
}
