package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorContention(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := mapError(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, ErrContention, "code %s", code)
		assert.NotErrorIs(t, err, ErrStorage)
	}
}

func TestMapErrorConstraintBackstops(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_subscriptions_live"})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	err = mapError(&pgconn.PgError{Code: "23514", ConstraintName: "chk_committed_within_capacity"})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Unrelated constraints are not business rejections.
	err = mapError(&pgconn.PgError{Code: "23505", ConstraintName: "offerings_pkey"})
	assert.NotErrorIs(t, err, ErrAlreadySubscribed)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestMapErrorTagsUnknownAsStorage(t *testing.T) {
	plain := errors.New("connection reset")
	mapped := mapError(plain)
	assert.ErrorIs(t, mapped, ErrStorage)
	// The cause stays reachable on the chain.
	assert.ErrorIs(t, mapped, plain)

	wrapped := fmt.Errorf("lock offering row: %w", &pgconn.PgError{Code: "40001"})
	assert.ErrorIs(t, mapError(wrapped), ErrContention)

	assert.NoError(t, mapError(nil))
}
