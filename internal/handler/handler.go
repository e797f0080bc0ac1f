// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/community-registration/internal/model"
	"github.com/Shivanand-hulikatti/community-registration/internal/repository"
	"github.com/Shivanand-hulikatti/community-registration/internal/service"
)

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	svc *service.RegistrationService
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc *service.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDomainError maps the registration error taxonomy onto HTTP
// status codes. Contention gets 503 with Retry-After since it is the
// only error safe to retry blind; the business rejections are 409.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrAlreadySubscribed):
		writeError(w, http.StatusConflict, "already subscribed to this offering")
	case errors.Is(err, repository.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "offering is at capacity")
	case errors.Is(err, repository.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "status transition not allowed")
	case errors.Is(err, repository.ErrContention):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporary conflict, retry the request")
	case errors.Is(err, repository.ErrStorage):
		writeError(w, http.StatusInternalServerError, "storage failure")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ─── Offering handlers ────────────────────────────────────────────────────────

// CreateOffering handles POST /offerings
func (h *RegistrationHandler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOfferingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	offering, err := h.svc.CreateOffering(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offering)
}

// ListOfferings handles GET /offerings
func (h *RegistrationHandler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	offerings, err := h.svc.ListOfferings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list offerings")
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if offerings == nil {
		offerings = []model.Offering{}
	}
	writeJSON(w, http.StatusOK, offerings)
}

// GetOffering handles GET /offerings/{id}
func (h *RegistrationHandler) GetOffering(w http.ResponseWriter, r *http.Request) {
	offering, err := h.svc.GetOffering(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "offering not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get offering")
		return
	}
	writeJSON(w, http.StatusOK, offering)
}

// DeactivateOffering handles DELETE /offerings/{id}
// Soft-deletes: the offering stops accepting subscriptions but keeps
// its history.
func (h *RegistrationHandler) DeactivateOffering(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateOffering(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Subscription handlers ────────────────────────────────────────────────────

// Subscribe handles POST /offerings/{id}/subscribe
func (h *RegistrationHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req model.SubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	subscriberID := req.SubscriberID
	if id, ok := SubscriberFromContext(r.Context()); ok {
		subscriberID = id
	}

	sub, err := h.svc.Subscribe(r.Context(), chi.URLParam(r, "id"), subscriberID, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Fund handles POST /offerings/{id}/fund
// An absent subscriber identity records the contribution anonymously.
func (h *RegistrationHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req model.FundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	subscriberID := req.SubscriberID
	if id, ok := SubscriberFromContext(r.Context()); ok {
		subscriberID = id
	}

	sub, err := h.svc.FundOffering(r.Context(), chi.URLParam(r, "id"), subscriberID, req.Amount, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /offerings/{id}/subscriptions
func (h *RegistrationHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.ListSubscriptions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "offering not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetSubscription handles GET /subscriptions/{id}
func (h *RegistrationHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ChangeStatus handles POST /subscriptions/{id}/status
// The authorization collaborator has already decided the actor may
// request this event; only state-machine legality is checked here.
func (h *RegistrationHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req model.ChangeStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	actor := "api"
	if id, ok := SubscriberFromContext(r.Context()); ok {
		actor = id
	}

	sub, err := h.svc.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req.Event, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
