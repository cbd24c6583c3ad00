/**
 * @description
 * This file contains the HTTP handlers for the internal settlement endpoints.
 * Settlements are service-to-service calls guarded by a shared API key; every
 * creation request must carry an X-Idempotency-Key header. The response status
 * reflects the settlement outcome: 200 for COMPLETED, 422 for FAILED, 202 for
 * anything still in flight.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/interpay/transfer-service/internal/app"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
)

// SettlementHandlers holds the application service for internal settlement
// endpoints.
type SettlementHandlers struct {
	service *app.Service
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service *app.Service) *SettlementHandlers {
	return &SettlementHandlers{service: service}
}

// settlementResponse is the settlement result shape shared by the creation and
// status endpoints.
type settlementResponse struct {
	SettlementID string     `json:"settlement_id"`
	TransferID   *string    `json:"transfer_id,omitempty"`
	Status       string     `json:"status"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	FromWalletID string     `json:"from_wallet_id"`
	ToWalletID   string     `json:"to_wallet_id"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

func buildSettlementResponse(stl *domain.Settlement) settlementResponse {
	return settlementResponse{
		SettlementID: stl.SettlementID,
		TransferID:   stl.TransferID,
		Status:       string(stl.Status),
		Amount:       stl.Amount,
		Currency:     stl.Currency,
		FromWalletID: stl.FromWalletID,
		ToWalletID:   stl.ToWalletID,
		CompletedAt:  stl.CompletedAt,
		Error:        stl.ErrorCode,
		ErrorMessage: stl.ErrorMessage,
	}
}

func settlementStatusCode(status domain.SettlementStatus) int {
	switch status {
	case domain.SettlementStatusCompleted:
		return http.StatusOK
	case domain.SettlementStatusFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusAccepted
	}
}

// CreateSettlementHandler handles POST /internal/settlements. Repeating a
// request with a known idempotency key returns the stored result without
// re-executing any side effects.
func (h *SettlementHandlers) CreateSettlementHandler(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("X-Idempotency-Key")

	var req domain.CreateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	settlement, err := h.service.CreateSettlement(r.Context(), idempotencyKey, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingIdempotencyKey):
			h.writeError(w, http.StatusBadRequest, "X-Idempotency-Key header is required")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Amount must be a positive integer in cents")
		case errors.Is(err, app.ErrInvalidSettlementParty):
			h.writeError(w, http.StatusBadRequest, "Both parties require wallet_id and bsim_id")
		case errors.Is(err, app.ErrSettlementInFlight):
			h.writeError(w, http.StatusConflict, "A settlement with this idempotency key is already being processed")
		default:
			log.Printf("level=error component=api endpoint=create_settlement msg=\"settlement failed before execution\" contract_id=%s err=%v", req.ContractID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to process settlement")
		}
		return
	}

	h.writeJSON(w, settlementStatusCode(settlement.Status), buildSettlementResponse(settlement))
}

// GetSettlementHandler handles GET /internal/settlements/{settlementId}. The
// identifier may be the public STL- id or the internal record id.
func (h *SettlementHandlers) GetSettlementHandler(w http.ResponseWriter, r *http.Request) {
	settlementID := chi.URLParam(r, "settlementId")
	settlement, err := h.service.GetSettlement(r.Context(), settlementID)
	if err != nil {
		if errors.Is(err, store.ErrSettlementNotFound) {
			h.writeError(w, http.StatusNotFound, "Settlement not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_settlement msg=\"settlement lookup failed\" settlement_id=%s err=%v", settlementID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch settlement")
		return
	}

	h.writeJSON(w, http.StatusOK, buildSettlementResponse(settlement))
}

func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
