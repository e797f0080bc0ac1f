// Package repository implements persistence for offerings and
// subscriptions. The Store interface decouples the engine from the
// backing store; the primary implementation uses pgx directly (no ORM)
// for transparency and performance, and an in-memory implementation
// backs tests and local development.
package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/community-registration/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist, or
// when a new subscription targets an inactive offering.
var ErrNotFound = errors.New("not found")

// ErrAlreadySubscribed is returned when the subscriber already holds a
// pending or approved subscription for the offering.
var ErrAlreadySubscribed = errors.New("already subscribed to this offering")

// ErrCapacityExceeded is returned when committing the requested amount
// would push the offering past its capacity.
var ErrCapacityExceeded = errors.New("offering capacity exceeded")

// ErrInvalidTransition is returned when the requested status event has
// no edge from the subscription's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrContention is an optimistic-concurrency conflict. It is the only
// error a caller may retry without re-validating business state.
var ErrContention = errors.New("storage contention, safe to retry")

// ErrStorage tags unexpected failures from the durable store. Always
// surfaced, never swallowed; the cause stays on the error chain.
var ErrStorage = errors.New("storage failure")

// ReserveParams are the inputs to Store.Reserve.
type ReserveParams struct {
	OfferingID   string
	SubscriberID string
	// Amount is a positive quantity: 1 for head-count kinds, minor
	// currency units for funding targets.
	Amount int64
	Notes  string
}

// CounterDrift records one offering whose committed counter disagreed
// with the sum of its counted subscriptions and was repaired.
type CounterDrift struct {
	OfferingID string
	Previous   int64
	Corrected  int64
}

// Store is the persistence contract the registration engine runs on.
// Implementations own all cross-request mutual exclusion: Reserve and
// Transition must be atomic with respect to every concurrent caller, so
// the engine itself never takes process-level locks.
type Store interface {
	CreateOffering(ctx context.Context, req model.CreateOfferingRequest) (*model.Offering, error)
	GetOffering(ctx context.Context, id string) (*model.Offering, error)
	ListOfferings(ctx context.Context) ([]model.Offering, error)
	// DeactivateOffering soft-deletes: existing subscriptions stay
	// valid, new ones are refused.
	DeactivateOffering(ctx context.Context, id string) error

	// Reserve atomically checks the offering is active, the subscriber
	// is not already pending/approved, and the amount fits under the
	// capacity ceiling, then inserts the subscription and increments the
	// committed counter. Either both writes commit or neither does.
	Reserve(ctx context.Context, params ReserveParams) (*model.Subscription, error)
	// Transition applies a lifecycle event, releasing the reserved
	// amount back to the offering when the edge requires it, atomically.
	Transition(ctx context.Context, subscriptionID string, event model.StatusEvent) (*model.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, offeringID string) ([]model.Subscription, error)

	// ReconcileCounters recomputes committed from counted subscriptions
	// for every offering and repairs any drift found.
	ReconcileCounters(ctx context.Context) ([]CounterDrift, error)
}
