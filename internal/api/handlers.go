/**
 * @description
 * This file contains the HTTP handlers for the transfer endpoints. Handlers are
 * responsible for parsing incoming requests, calling the appropriate methods on
 * the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
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

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service *app.Service
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service) *TransferHandlers {
	return &TransferHandlers{service: service}
}

// transferCreationResponse is returned immediately after a transfer is
// accepted. The saga continues in the background; callers poll the status
// endpoint for the outcome.
type transferCreationResponse struct {
	TransferID     string    `json:"transferId"`
	Status         string    `json:"status"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	RecipientAlias string    `json:"recipientAlias"`
	CreatedAt      time.Time `json:"createdAt"`
}

// transferStatusResponse is the full transfer state returned by the status
// endpoint.
type transferStatusResponse struct {
	TransferID         string     `json:"transferId"`
	Status             string     `json:"status"`
	StatusMessage      string     `json:"statusMessage"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Description        string     `json:"description,omitempty"`
	RecipientAlias     string     `json:"recipientAlias"`
	RecipientAliasType string     `json:"recipientAliasType,omitempty"`
	Direction          string     `json:"direction"`
	CreatedAt          time.Time  `json:"createdAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	ExpiresAt          time.Time  `json:"expiresAt"`
}

func buildTransferStatusResponse(t *domain.Transfer, callerUserID string) transferStatusResponse {
	direction := "SENT"
	if t.RecipientUserID != nil && *t.RecipientUserID == callerUserID && t.SenderUserID != callerUserID {
		direction = "RECEIVED"
	}

	var aliasType string
	if t.RecipientAliasType != "" {
		aliasType = string(t.RecipientAliasType)
	}

	return transferStatusResponse{
		TransferID:         t.TransferID,
		Status:             string(t.Status),
		StatusMessage:      t.StatusMessage,
		Amount:             t.Amount,
		Currency:           t.Currency,
		Description:        t.Description,
		RecipientAlias:     t.RecipientAlias,
		RecipientAliasType: aliasType,
		Direction:          direction,
		CreatedAt:          t.CreatedAt,
		CompletedAt:        t.CompletedAt,
		ExpiresAt:          t.ExpiresAt,
	}
}

// CreateTransferHandler handles POST /transfers. It validates the request,
// persists the PENDING record, and returns immediately while the saga runs in
// the background.
func (h *TransferHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetAuthenticatedCaller(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}

	var req domain.CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sender := app.Sender{
		UserID:    caller.UserID,
		BsimID:    caller.BsimID,
		AccountID: caller.AccountID,
	}
	transfer, err := h.service.CreateTransfer(r.Context(), sender, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Amount must be a positive integer in cents")
		case errors.Is(err, app.ErrAmountExceedsLimit):
			h.writeError(w, http.StatusBadRequest, "Amount exceeds the per-transfer limit")
		case errors.Is(err, app.ErrAliasTypeUnknown):
			h.writeError(w, http.StatusBadRequest, "Could not determine recipient alias type")
		default:
			log.Printf("level=error component=api endpoint=create_transfer msg=\"transfer creation failed\" user_id=%s err=%v", caller.UserID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to create transfer")
		}
		return
	}

	log.Printf("level=info component=api endpoint=create_transfer outcome=accepted transfer_id=%s user_id=%s amount=%d",
		transfer.TransferID, caller.UserID, transfer.Amount)

	h.writeJSON(w, http.StatusCreated, transferCreationResponse{
		TransferID:     transfer.TransferID,
		Status:         string(transfer.Status),
		Amount:         transfer.Amount,
		Currency:       transfer.Currency,
		RecipientAlias: transfer.RecipientAlias,
		CreatedAt:      transfer.CreatedAt,
	})
}

// GetTransferHandler handles GET /transfers/{transferId}.
func (h *TransferHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetAuthenticatedCaller(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}

	transferID := chi.URLParam(r, "transferId")
	transfer, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_transfer msg=\"transfer lookup failed\" transfer_id=%s err=%v", transferID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch transfer")
		return
	}

	h.writeJSON(w, http.StatusOK, buildTransferStatusResponse(transfer, caller.UserID))
}

// CancelTransferHandler handles POST /transfers/{transferId}/cancel.
// Cancellation is only permitted before money movement begins.
func (h *TransferHandlers) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetAuthenticatedCaller(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}

	transferID := chi.URLParam(r, "transferId")
	transfer, err := h.service.CancelTransfer(r.Context(), transferID, caller.UserID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransferNotFound):
			h.writeError(w, http.StatusNotFound, "Transfer not found")
		case errors.Is(err, store.ErrTransferNotCancelable):
			h.writeError(w, http.StatusConflict, "Transfer can no longer be cancelled")
		default:
			log.Printf("level=error component=api endpoint=cancel_transfer msg=\"transfer cancellation failed\" transfer_id=%s err=%v", transferID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to cancel transfer")
		}
		return
	}

	log.Printf("level=info component=api endpoint=cancel_transfer outcome=cancelled transfer_id=%s user_id=%s",
		transfer.TransferID, caller.UserID)

	h.writeJSON(w, http.StatusOK, buildTransferStatusResponse(transfer, caller.UserID))
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
