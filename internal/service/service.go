// Package service implements the registration engine: validation,
// orchestration between HTTP handlers and the repository layer, bounded
// retry on storage contention, and lifecycle event publishing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Shivanand-hulikatti/community-registration/internal/model"
	"github.com/Shivanand-hulikatti/community-registration/internal/repository"
	"github.com/Shivanand-hulikatti/community-registration/pkg/rabbitmq"
)

// contentionRetries is the number of extra attempts made when the store
// reports a retryable conflict, before ErrContention is surfaced.
const contentionRetries = 2

// maxHeadCountCapacity bounds course and activity capacities to keep
// fat-finger input out of the database. Funding targets are unbounded.
const maxHeadCountCapacity = 100_000

// RegistrationService orchestrates offering and subscription operations.
type RegistrationService struct {
	store     repository.Store
	publisher rabbitmq.Publisher
	logger    *slog.Logger
}

// NewRegistrationService constructs a RegistrationService with its
// dependencies.
func NewRegistrationService(store repository.Store, publisher rabbitmq.Publisher, logger *slog.Logger) *RegistrationService {
	return &RegistrationService{store: store, publisher: publisher, logger: logger}
}

// CreateOffering validates the request and delegates to the store.
func (s *RegistrationService) CreateOffering(ctx context.Context, req model.CreateOfferingRequest) (*model.Offering, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("offering name is required")
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("kind must be one of course, activity, funding_target")
	}
	if req.Capacity != nil {
		if *req.Capacity <= 0 {
			return nil, fmt.Errorf("capacity must be a positive integer")
		}
		if req.Kind.IsHeadCount() && *req.Capacity > maxHeadCountCapacity {
			return nil, fmt.Errorf("capacity cannot exceed %d", maxHeadCountCapacity)
		}
	}
	return s.store.CreateOffering(ctx, req)
}

// ListOfferings returns all offerings.
func (s *RegistrationService) ListOfferings(ctx context.Context) ([]model.Offering, error) {
	return s.store.ListOfferings(ctx)
}

// GetOffering returns a single offering by ID.
func (s *RegistrationService) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	if id == "" {
		return nil, fmt.Errorf("offering id is required")
	}
	return s.store.GetOffering(ctx, id)
}

// DeactivateOffering soft-deletes an offering. Existing subscriptions
// stay valid; new ones are refused.
func (s *RegistrationService) DeactivateOffering(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("offering id is required")
	}
	return s.store.DeactivateOffering(ctx, id)
}

// Subscribe attaches a subscriber to a head-count offering, consuming
// one capacity unit. The capacity and uniqueness checks happen
// atomically in the store.
func (s *RegistrationService) Subscribe(ctx context.Context, offeringID, subscriberID, notes string) (*model.Subscription, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if offeringID == "" {
		return nil, fmt.Errorf("offering id is required")
	}
	if subscriberID == "" {
		return nil, fmt.Errorf("subscriber id is required")
	}
	if subscriberID == model.AnonymousSubscriber {
		return nil, fmt.Errorf("subscriber id %q is reserved", model.AnonymousSubscriber)
	}

	offering, err := s.store.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	if !offering.Kind.IsHeadCount() {
		return nil, fmt.Errorf("offering %s accepts contributions, not subscriptions", offeringID)
	}

	sub, err := s.reserve(ctx, repository.ReserveParams{
		OfferingID:   offeringID,
		SubscriberID: subscriberID,
		Amount:       1,
		Notes:        notes,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "subscription.created", sub)
	return sub, nil
}

// FundOffering records a contribution against a funding target. An
// empty subscriber ID records it anonymously; anonymous contributions
// are exempt from the one-per-subscriber rule. The amount must already
// be captured by the payment collaborator before this is called.
func (s *RegistrationService) FundOffering(ctx context.Context, offeringID, subscriberID string, amount int64, notes string) (*model.Subscription, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if offeringID == "" {
		return nil, fmt.Errorf("offering id is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be a positive integer")
	}
	if subscriberID == "" {
		subscriberID = model.AnonymousSubscriber
	}

	offering, err := s.store.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	if offering.Kind != model.KindFundingTarget {
		return nil, fmt.Errorf("offering %s accepts subscriptions, not contributions", offeringID)
	}

	sub, err := s.reserve(ctx, repository.ReserveParams{
		OfferingID:   offeringID,
		SubscriberID: subscriberID,
		Amount:       amount,
		Notes:        notes,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "subscription.funded", sub)
	return sub, nil
}

// ChangeStatus applies a lifecycle event to a subscription. Whether the
// actor is allowed to request the event is the caller's concern; only
// state-machine legality is enforced here.
func (s *RegistrationService) ChangeStatus(ctx context.Context, subscriptionID string, event model.StatusEvent, actor string) (*model.Subscription, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}
	if !event.Valid() {
		return nil, fmt.Errorf("unknown status event %q", event)
	}

	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	offering, err := s.store.GetOffering(ctx, sub.OfferingID)
	if err != nil {
		return nil, err
	}
	// The terminal success mark depends on the offering kind: head-count
	// subscriptions are attended, funding contributions are completed.
	if event == model.EventMarkAttended && !offering.Kind.IsHeadCount() {
		return nil, repository.ErrInvalidTransition
	}
	if event == model.EventMarkCompleted && offering.Kind != model.KindFundingTarget {
		return nil, repository.ErrInvalidTransition
	}

	updated, err := s.transition(ctx, subscriptionID, event)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription status changed",
		"subscription_id", subscriptionID, "event", event, "status", updated.Status, "actor", actor)
	s.publish(ctx, "subscription."+string(event), updated)
	return updated, nil
}

// GetSubscription returns a single subscription by ID.
func (s *RegistrationService) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	if id == "" {
		return nil, fmt.Errorf("subscription id is required")
	}
	return s.store.GetSubscription(ctx, id)
}

// ListSubscriptions returns all subscriptions for an offering.
func (s *RegistrationService) ListSubscriptions(ctx context.Context, offeringID string) ([]model.Subscription, error) {
	if _, err := s.store.GetOffering(ctx, offeringID); err != nil {
		return nil, err
	}
	return s.store.ListSubscriptions(ctx, offeringID)
}

// reserve calls Store.Reserve, retrying only on ErrContention with
// exponential backoff. Business rejections are never retried.
func (s *RegistrationService) reserve(ctx context.Context, params repository.ReserveParams) (*model.Subscription, error) {
	var sub *model.Subscription
	op := func() error {
		var err error
		sub, err = s.store.Reserve(ctx, params)
		return retryableOnly(err)
	}
	if err := backoff.Retry(op, reservePolicy(ctx)); err != nil {
		return nil, err
	}
	return sub, nil
}

// transition calls Store.Transition under the same retry policy.
func (s *RegistrationService) transition(ctx context.Context, subscriptionID string, event model.StatusEvent) (*model.Subscription, error) {
	var sub *model.Subscription
	op := func() error {
		var err error
		sub, err = s.store.Transition(ctx, subscriptionID, event)
		return retryableOnly(err)
	}
	if err := backoff.Retry(op, reservePolicy(ctx)); err != nil {
		return nil, err
	}
	return sub, nil
}

// retryableOnly marks everything except ErrContention permanent so the
// backoff loop gives up immediately on business errors.
func retryableOnly(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrContention) {
		return err
	}
	return backoff.Permanent(err)
}

func reservePolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(policy, contentionRetries), ctx)
}

// publish sends a lifecycle event. Failures are logged, never surfaced:
// the subscription is already committed and must not appear to fail.
func (s *RegistrationService) publish(ctx context.Context, routingKey string, sub *model.Subscription) {
	event := rabbitmq.SubscriptionEvent{
		SubscriptionID: sub.ID,
		OfferingID:     sub.OfferingID,
		SubscriberID:   sub.SubscriberID,
		Status:         string(sub.Status),
		Amount:         sub.Amount,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.publisher.PublishSubscriptionEvent(ctx, routingKey, event); err != nil {
		s.logger.Warn("event publish failed", "routing_key", routingKey, "subscription_id", sub.ID, "error", err)
	}
}
