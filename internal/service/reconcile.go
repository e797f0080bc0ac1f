package service

import "context"

// ReconcileCounters recomputes committed counters from counted
// subscriptions and logs every repaired offering. It is wired to a cron
// schedule in main; drift should only appear after operator surgery or
// a bug, so every correction is worth a warning.
func (s *RegistrationService) ReconcileCounters(ctx context.Context) error {
	drifts, err := s.store.ReconcileCounters(ctx)
	if err != nil {
		s.logger.Error("counter reconciliation failed", "error", err)
		return err
	}
	for _, d := range drifts {
		s.logger.Warn("repaired committed counter drift",
			"offering_id", d.OfferingID, "previous", d.Previous, "corrected", d.Corrected)
	}
	if len(drifts) == 0 {
		s.logger.Debug("counter reconciliation clean")
	}
	return nil
}
