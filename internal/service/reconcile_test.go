package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Shivanand-hulikatti/community-registration/internal/repository"
)

type reconcileStoreStub struct {
	repository.Store

	drifts []repository.CounterDrift
	err    error
	calls  int
}

func (s *reconcileStoreStub) ReconcileCounters(ctx context.Context) ([]repository.CounterDrift, error) {
	s.calls++
	return s.drifts, s.err
}

func TestReconcileCountersReportsDrift(t *testing.T) {
	stub := &reconcileStoreStub{
		drifts: []repository.CounterDrift{
			{OfferingID: "off-1", Previous: 7, Corrected: 3},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewRegistrationService(stub, &capturingPublisher{}, logger)

	assert.NoError(t, svc.ReconcileCounters(context.Background()))
	assert.Equal(t, 1, stub.calls)
}

func TestReconcileCountersSurfacesStoreError(t *testing.T) {
	boom := errors.New("connection refused")
	stub := &reconcileStoreStub{err: boom}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewRegistrationService(stub, &capturingPublisher{}, logger)

	assert.ErrorIs(t, svc.ReconcileCounters(context.Background()), boom)
}
