// Package model defines the core domain types for the community
// registration engine: capacity-bounded offerings and the subscriptions
// that attach subscribers to them.
package model

import "time"

// OfferingKind distinguishes how an offering's committed counter is
// interpreted: a head count for courses and activities, a cumulative
// currency amount (minor units) for funding targets.
type OfferingKind string

const (
	KindCourse        OfferingKind = "course"
	KindActivity      OfferingKind = "activity"
	KindFundingTarget OfferingKind = "funding_target"
)

// IsHeadCount reports whether subscriptions against this kind consume
// exactly one capacity unit each.
func (k OfferingKind) IsHeadCount() bool {
	return k == KindCourse || k == KindActivity
}

// Valid reports whether k is a known offering kind.
func (k OfferingKind) Valid() bool {
	return k == KindCourse || k == KindActivity || k == KindFundingTarget
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusApproved  SubscriptionStatus = "approved"
	StatusRejected  SubscriptionStatus = "rejected"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusAttended  SubscriptionStatus = "attended"
	StatusCompleted SubscriptionStatus = "completed"
)

// CountedStatuses are the states whose amounts count against an
// offering's capacity. Capacity is reserved at creation time, so a
// pending subscription holds its seat until it is rejected or cancelled.
var CountedStatuses = []SubscriptionStatus{StatusPending, StatusApproved}

// Counted reports whether a subscription in status s consumes capacity.
func (s SubscriptionStatus) Counted() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether s admits no further transitions.
func (s SubscriptionStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusAttended, StatusCompleted:
		return true
	}
	return false
}

// StatusEvent is a requested transition on an existing subscription.
type StatusEvent string

const (
	EventApprove       StatusEvent = "approve"
	EventReject        StatusEvent = "reject"
	EventCancel        StatusEvent = "cancel"
	EventMarkAttended  StatusEvent = "mark_attended"
	EventMarkCompleted StatusEvent = "mark_completed"
)

// Events lists every recognised status event.
var Events = []StatusEvent{EventApprove, EventReject, EventCancel, EventMarkAttended, EventMarkCompleted}

// Valid reports whether e is a known status event.
func (e StatusEvent) Valid() bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

// transitions is the lifecycle state machine: (current status, event) →
// next status. Any pair absent from this table is an invalid transition.
var transitions = map[SubscriptionStatus]map[StatusEvent]SubscriptionStatus{
	StatusPending: {
		EventApprove: StatusApproved,
		EventReject:  StatusRejected,
		EventCancel:  StatusCancelled,
	},
	StatusApproved: {
		EventCancel:        StatusCancelled,
		EventMarkAttended:  StatusAttended,
		EventMarkCompleted: StatusCompleted,
	},
}

// NextStatus returns the status reached by applying event to current,
// or ok=false when the state machine has no such edge.
func NextStatus(current SubscriptionStatus, event StatusEvent) (next SubscriptionStatus, ok bool) {
	next, ok = transitions[current][event]
	return next, ok
}

// ReleasesCapacity reports whether applying event to a subscription in
// status current must hand its reserved amount back to the offering.
// Approval and the attended/completed marks release nothing, since the
// amount was already counted at creation.
func ReleasesCapacity(current SubscriptionStatus, event StatusEvent) bool {
	if !current.Counted() {
		return false
	}
	return event == EventReject || event == EventCancel
}

// AnonymousSubscriber is the sentinel subscriber identity recorded for
// anonymous contributions to funding targets. Repeat anonymous giving is
// expected, so the one-subscription-per-offering rule never applies to it.
const AnonymousSubscriber = "anonymous"

// Offering represents a finite-capacity resource subscribers attach to:
// a course, an activity, or a funding target.
type Offering struct {
	ID          string       `json:"id"`
	Kind        OfferingKind `json:"kind"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	// Capacity is the ceiling on Committed; nil means unlimited.
	Capacity *int64 `json:"capacity"`
	// Committed is the running total of capacity consumed: a head count
	// for courses and activities, minor currency units raised for
	// funding targets.
	Committed        int64     `json:"committed"`
	RequiresApproval bool      `json:"requires_approval"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Remaining returns the unconsumed capacity, or ok=false for an
// unlimited offering.
func (o *Offering) Remaining() (int64, bool) {
	if o.Capacity == nil {
		return 0, false
	}
	return *o.Capacity - o.Committed, true
}

// Fits reports whether amount more units fit under the capacity ceiling.
func (o *Offering) Fits(amount int64) bool {
	if o.Capacity == nil {
		return true
	}
	return o.Committed+amount <= *o.Capacity
}

// Subscription records one subscriber's attachment to one offering.
// Subscriptions are never physically deleted; removal is a transition to
// a terminal status.
type Subscription struct {
	ID           string `json:"id"`
	OfferingID   string `json:"offering_id"`
	SubscriberID string `json:"subscriber_id"`
	// Amount is 1 for head-count kinds and the contributed minor
	// currency units for funding targets.
	Amount    int64              `json:"amount"`
	Status    SubscriptionStatus `json:"status"`
	Notes     string             `json:"notes,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	DecidedAt *time.Time         `json:"decided_at,omitempty"`
}

// CreateOfferingRequest is the payload for creating a new offering.
type CreateOfferingRequest struct {
	Kind             OfferingKind `json:"kind"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Capacity         *int64       `json:"capacity"`
	RequiresApproval bool         `json:"requires_approval"`
}

// SubscribeRequest is the payload for a head-count subscription.
// SubscriberID is ignored when bearer authentication supplies the
// identity.
type SubscribeRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Notes        string `json:"notes"`
}

// FundRequest is the payload for a funding contribution. An empty
// SubscriberID records the contribution anonymously.
type FundRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Amount       int64  `json:"amount"`
	Notes        string `json:"notes"`
}

// ChangeStatusRequest is the payload for a status transition.
type ChangeStatusRequest struct {
	Event StatusEvent `json:"event"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
