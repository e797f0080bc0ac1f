package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/community-registration/internal/model"
)

func int64p(v int64) *int64 { return &v }

func createOffering(t *testing.T, store *Memory, req model.CreateOfferingRequest) *model.Offering {
	t.Helper()
	offering, err := store.CreateOffering(context.Background(), req)
	require.NoError(t, err)
	return offering
}

func TestReserveHappyPath(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Tajweed basics", Capacity: int64p(10),
	})

	sub, err := store.Reserve(ctx, ReserveParams{
		OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1, Notes: "first timer",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, sub.Status)
	assert.Equal(t, "first timer", sub.Notes)
	assert.Nil(t, sub.DecidedAt)

	got, err := store.GetOffering(ctx, offering.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Committed)
}

func TestReserveRequiresApprovalStartsPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindActivity, Name: "Community iftar", Capacity: int64p(50), RequiresApproval: true,
	})

	sub, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, sub.Status)

	// Pending already counts: capacity is reserved at creation.
	got, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(1), got.Committed)
}

func TestReserveUnknownAndInactiveOffering(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.Reserve(ctx, ReserveParams{OfferingID: "missing", SubscriberID: "user-1", Amount: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	offering := createOffering(t, store, model.CreateOfferingRequest{Kind: model.KindCourse, Name: "Fiqh"})
	require.NoError(t, store.DeactivateOffering(ctx, offering.ID))

	_, err = store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReserveDuplicateSubscriber(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Arabic 101", Capacity: int64p(10),
	})

	first, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	require.NoError(t, err)

	_, err = store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	subs, err := store.ListSubscriptions(ctx, offering.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, first.ID, subs[0].ID)

	// A cancelled subscription does not block re-subscription.
	_, err = store.Transition(ctx, first.ID, model.EventCancel)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	assert.NoError(t, err)
}

func TestReserveAnonymousRepeatAllowed(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindFundingTarget, Name: "Roof repair", Capacity: int64p(100_000),
	})

	for i := 0; i < 3; i++ {
		_, err := store.Reserve(ctx, ReserveParams{
			OfferingID: offering.ID, SubscriberID: model.AnonymousSubscriber, Amount: 500,
		})
		require.NoError(t, err)
	}
	got, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(1500), got.Committed)
}

func TestConcurrentReserveNeverOvercommits(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindActivity, Name: "Eid volunteering", Capacity: int64p(25),
	})

	const attempts = 100
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Reserve(ctx, ReserveParams{
				OfferingID: offering.ID, SubscriberID: fmt.Sprintf("user-%d", i), Amount: 1,
			})
		}(i)
	}
	wg.Wait()

	var successes, full int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, ErrCapacityExceeded):
			full++
		}
	}
	assert.Equal(t, 25, successes)
	assert.Equal(t, attempts-25, full)

	got, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(25), got.Committed)
}

func TestConcurrentDuplicateOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Seerah circle", Capacity: int64p(100),
	})

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Reserve(ctx, ReserveParams{
				OfferingID: offering.ID, SubscriberID: "same-user", Amount: 1,
			})
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAlreadySubscribed)
		}
	}
	assert.Equal(t, 1, successes)

	subs, _ := store.ListSubscriptions(ctx, offering.ID)
	assert.Len(t, subs, 1)
}

func TestTransitionReleasesCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Hifz program", Capacity: int64p(2), RequiresApproval: true,
	})
	other := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Untouched", Capacity: int64p(2),
	})

	sub, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	require.NoError(t, err)

	updated, err := store.Transition(ctx, sub.ID, model.EventReject)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, updated.Status)
	require.NotNil(t, updated.DecidedAt)

	got, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(0), got.Committed)

	// Reconciliation on one offering never touches another.
	untouched, _ := store.GetOffering(ctx, other.ID)
	assert.Equal(t, int64(0), untouched.Committed)
}

func TestTransitionApproveKeepsCounter(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Tafsir", Capacity: int64p(5), RequiresApproval: true,
	})

	sub, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	require.NoError(t, err)

	updated, err := store.Transition(ctx, sub.ID, model.EventApprove)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, updated.Status)

	got, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(1), got.Committed)
}

func TestTransitionInvalidEdgeMutatesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindActivity, Name: "Youth camp", Capacity: int64p(5),
	})

	sub, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	require.NoError(t, err)
	_, err = store.Transition(ctx, sub.ID, model.EventMarkAttended)
	require.NoError(t, err)

	// Terminal state: cancel must be refused with no side effects.
	_, err = store.Transition(ctx, sub.ID, model.EventCancel)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	after, _ := store.GetSubscription(ctx, sub.ID)
	assert.Equal(t, model.StatusAttended, after.Status)
	got, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(1), got.Committed)
}

func TestTransitionUnknownSubscription(t *testing.T) {
	store := NewMemory()
	_, err := store.Transition(context.Background(), "missing", model.EventApprove)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdempotentReRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Quran recitation", Capacity: int64p(3),
	})
	sub, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	require.NoError(t, err)

	o1, err := store.GetOffering(ctx, offering.ID)
	require.NoError(t, err)
	o2, err := store.GetOffering(ctx, offering.ID)
	require.NoError(t, err)
	assert.Equal(t, o1, o2)

	s1, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	s2, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	// Mutating a returned copy must not leak into the store.
	o1.Committed = 99
	fresh, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(1), fresh.Committed)
}

func TestReconcileCountersCleanStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindFundingTarget, Name: "Library fund", Capacity: int64p(10_000),
	})
	sub, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "donor-1", Amount: 2500})
	require.NoError(t, err)
	_, err = store.Transition(ctx, sub.ID, model.EventCancel)
	require.NoError(t, err)

	// Counters maintained through the guarded paths never drift.
	drifts, err := store.ReconcileCounters(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcileCountersRepairsDrift(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	offering := createOffering(t, store, model.CreateOfferingRequest{
		Kind: model.KindCourse, Name: "Drifted", Capacity: int64p(10),
	})
	_, err := store.Reserve(ctx, ReserveParams{OfferingID: offering.ID, SubscriberID: "user-1", Amount: 1})
	require.NoError(t, err)

	// Corrupt the counter behind the store's back.
	store.mu.Lock()
	store.offerings[offering.ID].Committed = 7
	store.mu.Unlock()

	drifts, err := store.ReconcileCounters(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, offering.ID, drifts[0].OfferingID)
	assert.Equal(t, int64(7), drifts[0].Previous)
	assert.Equal(t, int64(1), drifts[0].Corrected)

	got, _ := store.GetOffering(ctx, offering.ID)
	assert.Equal(t, int64(1), got.Committed)
}
