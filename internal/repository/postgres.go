package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/community-registration/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgxpool connection pool. All capacity
// checks run inside transactions holding a row-level lock on the
// offering, so concurrent reservations against the same offering are
// serialised by the database rather than by this process.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// mapError translates postgres error codes into the domain taxonomy.
// Serialisation and deadlock failures become ErrContention; constraint
// violations from the schema backstops become their business errors;
// everything else is tagged ErrStorage with the cause kept on the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return ErrContention
		case "23505":
			if pgErr.ConstraintName == "uq_subscriptions_live" {
				return ErrAlreadySubscribed
			}
		case "23514":
			if pgErr.ConstraintName == "chk_committed_within_capacity" {
				return ErrCapacityExceeded
			}
		}
	}
	return errors.Join(ErrStorage, err)
}

// CreateOffering inserts a new offering and returns it with a generated UUID.
func (s *Postgres) CreateOffering(ctx context.Context, req model.CreateOfferingRequest) (*model.Offering, error) {
	offering := &model.Offering{
		ID:               uuid.New().String(),
		Kind:             req.Kind,
		Name:             req.Name,
		Description:      req.Description,
		Capacity:         req.Capacity,
		Committed:        0,
		RequiresApproval: req.RequiresApproval,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO offerings (id, kind, name, description, capacity, committed, requires_approval, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		offering.ID, offering.Kind, offering.Name, offering.Description,
		offering.Capacity, offering.Committed, offering.RequiresApproval, offering.Active, offering.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert offering: %w", mapError(err))
	}
	return offering, nil
}

// GetOffering returns a single offering or ErrNotFound.
func (s *Postgres) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	var o model.Offering
	err := s.db.QueryRow(ctx,
		`SELECT id, kind, name, description, capacity, committed, requires_approval, active, created_at
		 FROM offerings WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Kind, &o.Name, &o.Description, &o.Capacity, &o.Committed, &o.RequiresApproval, &o.Active, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get offering: %w", mapError(err))
	}
	return &o, nil
}

// ListOfferings returns all offerings ordered by creation time descending.
func (s *Postgres) ListOfferings(ctx context.Context) ([]model.Offering, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, kind, name, description, capacity, committed, requires_approval, active, created_at
		 FROM offerings
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list offerings: %w", mapError(err))
	}
	defer rows.Close()

	var offerings []model.Offering
	for rows.Next() {
		var o model.Offering
		if err := rows.Scan(&o.ID, &o.Kind, &o.Name, &o.Description, &o.Capacity, &o.Committed, &o.RequiresApproval, &o.Active, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offering: %w", err)
		}
		offerings = append(offerings, o)
	}
	return offerings, rows.Err()
}

// DeactivateOffering flips the active flag. The offering and its
// subscriptions remain; only new reservations are refused.
func (s *Postgres) DeactivateOffering(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE offerings SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate offering: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reserve performs the capacity-guarded subscription insert inside a
// single transaction.
//
// The SELECT … FOR UPDATE on the offering row is the heart of the
// guard: it serialises every concurrent reservation against the same
// offering, so the duplicate check, the ceiling check, the counter
// increment and the subscription insert all observe and produce a
// consistent state. A naive read-then-write across two round trips
// would let two callers both see free capacity and overcommit.
func (s *Postgres) Reserve(ctx context.Context, params ReserveParams) (sub *model.Subscription, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", mapError(err))
	}
	// Rollback is a no-op once the transaction commits.
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the offering row for the duration of the transaction.
	var (
		capacity         *int64
		committed        int64
		requiresApproval bool
		active           bool
	)
	err = tx.QueryRow(ctx,
		`SELECT capacity, committed, requires_approval, active
		 FROM offerings
		 WHERE id = $1
		 FOR UPDATE`,
		params.OfferingID,
	).Scan(&capacity, &committed, &requiresApproval, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock offering row: %w", mapError(err))
	}
	if !active {
		return nil, ErrNotFound
	}

	// One live subscription per subscriber per offering. Anonymous
	// contributions are exempt: repeat anonymous giving is expected.
	if params.SubscriberID != model.AnonymousSubscriber {
		var dupCount int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM subscriptions
			 WHERE offering_id = $1 AND subscriber_id = $2 AND status IN ('pending', 'approved')`,
			params.OfferingID, params.SubscriberID,
		).Scan(&dupCount)
		if err != nil {
			return nil, fmt.Errorf("check duplicate: %w", mapError(err))
		}
		if dupCount > 0 {
			return nil, ErrAlreadySubscribed
		}
	}

	if capacity != nil && committed+params.Amount > *capacity {
		return nil, ErrCapacityExceeded
	}

	// Capacity is reserved at creation regardless of approval policy;
	// rejection or cancellation releases it later.
	_, err = tx.Exec(ctx,
		`UPDATE offerings SET committed = committed + $2 WHERE id = $1`,
		params.OfferingID, params.Amount,
	)
	if err != nil {
		return nil, fmt.Errorf("increment committed: %w", mapError(err))
	}

	status := model.StatusApproved
	if requiresApproval {
		status = model.StatusPending
	}
	sub = &model.Subscription{
		ID:           uuid.New().String(),
		OfferingID:   params.OfferingID,
		SubscriberID: params.SubscriberID,
		Amount:       params.Amount,
		Status:       status,
		Notes:        params.Notes,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO subscriptions (id, offering_id, subscriber_id, amount, status, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.OfferingID, sub.SubscriberID, sub.Amount, sub.Status, sub.Notes, sub.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", mapError(err))
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return sub, nil
}

// Transition applies a lifecycle event to a subscription. The status
// write and, when the edge releases capacity, the counter decrement
// commit together or not at all.
//
// Lock order is subscription row first, offering row second; Reserve
// touches only the offering row, so the two paths cannot deadlock.
func (s *Postgres) Transition(ctx context.Context, subscriptionID string, event model.StatusEvent) (sub *model.Subscription, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", mapError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur model.Subscription
	err = tx.QueryRow(ctx,
		`SELECT id, offering_id, subscriber_id, amount, status, notes, created_at, decided_at
		 FROM subscriptions
		 WHERE id = $1
		 FOR UPDATE`,
		subscriptionID,
	).Scan(&cur.ID, &cur.OfferingID, &cur.SubscriberID, &cur.Amount, &cur.Status, &cur.Notes, &cur.CreatedAt, &cur.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock subscription row: %w", mapError(err))
	}

	next, ok := model.NextStatus(cur.Status, event)
	if !ok {
		return nil, ErrInvalidTransition
	}

	if model.ReleasesCapacity(cur.Status, event) {
		_, err = tx.Exec(ctx,
			`UPDATE offerings SET committed = committed - $2 WHERE id = $1`,
			cur.OfferingID, cur.Amount,
		)
		if err != nil {
			return nil, fmt.Errorf("release committed: %w", mapError(err))
		}
	}

	decidedAt := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE subscriptions SET status = $2, decided_at = $3 WHERE id = $1`,
		cur.ID, next, decidedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update subscription status: %w", mapError(err))
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", mapError(err))
	}

	cur.Status = next
	cur.DecidedAt = &decidedAt
	return &cur, nil
}

// GetSubscription returns a single subscription or ErrNotFound.
func (s *Postgres) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.QueryRow(ctx,
		`SELECT id, offering_id, subscriber_id, amount, status, notes, created_at, decided_at
		 FROM subscriptions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.OfferingID, &sub.SubscriberID, &sub.Amount, &sub.Status, &sub.Notes, &sub.CreatedAt, &sub.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", mapError(err))
	}
	return &sub, nil
}

// ListSubscriptions returns all subscriptions for an offering in
// creation order.
func (s *Postgres) ListSubscriptions(ctx context.Context, offeringID string) ([]model.Subscription, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, offering_id, subscriber_id, amount, status, notes, created_at, decided_at
		 FROM subscriptions
		 WHERE offering_id = $1
		 ORDER BY created_at ASC`,
		offeringID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", mapError(err))
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.OfferingID, &sub.SubscriberID, &sub.Amount, &sub.Status, &sub.Notes, &sub.CreatedAt, &sub.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ReconcileCounters recomputes every offering's committed counter from
// its pending and approved subscriptions and repairs any drift in a
// single statement.
func (s *Postgres) ReconcileCounters(ctx context.Context) ([]CounterDrift, error) {
	rows, err := s.db.Query(ctx,
		`WITH totals AS (
			SELECT o.id,
			       o.committed AS previous,
			       COALESCE(SUM(s.amount) FILTER (WHERE s.status IN ('pending', 'approved')), 0) AS total
			FROM offerings o
			LEFT JOIN subscriptions s ON s.offering_id = o.id
			GROUP BY o.id
		)
		UPDATE offerings o
		SET committed = t.total
		FROM totals t
		WHERE o.id = t.id AND o.committed <> t.total
		RETURNING o.id, t.previous, t.total`,
	)
	if err != nil {
		return nil, fmt.Errorf("reconcile counters: %w", mapError(err))
	}
	defer rows.Close()

	var drifts []CounterDrift
	for rows.Next() {
		var d CounterDrift
		if err := rows.Scan(&d.OfferingID, &d.Previous, &d.Corrected); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}
