/**
 * @description
 * This file defines the domain models owned by the settlement saga: the durable
 * Settlement record, its request DTO, and the settlement error taxonomy. A
 * Settlement is a contract-driven payout executed with request-level idempotency
 * and an optional escrow-release debit mechanism.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SettlementStatus enumerates the states of the settlement saga.
type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "PENDING"
	SettlementStatusProcessing SettlementStatus = "PROCESSING"
	SettlementStatusCompleted  SettlementStatus = "COMPLETED"
	SettlementStatusFailed     SettlementStatus = "FAILED"
)

// Settlement error codes recorded on failed settlements.
const (
	SettlementErrorBankUnavailable     = "BANK_UNAVAILABLE"
	SettlementErrorEscrowReleaseFailed = "ESCROW_RELEASE_FAILED"
	SettlementErrorDebitFailed         = "DEBIT_FAILED"
	SettlementErrorCreditFailed        = "CREDIT_FAILED"
)

// Settlement is the durable record of one contract-driven payout. It maps to the
// `settlements` table; the idempotency key is unique so a repeated request with
// the same key returns the stored result without re-executing side effects.
type Settlement struct {
	ID             uuid.UUID         `json:"id"`
	SettlementID   string            `json:"settlement_id"` // public opaque id, STL- prefixed
	IdempotencyKey string            `json:"idempotency_key"`
	ContractID     string            `json:"contract_id"`
	SettlementType string            `json:"settlement_type"` // winner_payout | refund | partial | dispute_resolution
	FromWalletID   string            `json:"from_wallet_id"`
	FromBsimID     string            `json:"from_bsim_id"`
	FromEscrowID   *string           `json:"from_escrow_id,omitempty"`
	ToWalletID     string            `json:"to_wallet_id"`
	ToBsimID       string            `json:"to_bsim_id"`
	Amount         int64             `json:"amount"` // in cents
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         SettlementStatus  `json:"status"`
	ErrorCode      *string           `json:"error_code,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	TransferID     *string           `json:"transfer_id,omitempty"` // public id of the linked Transfer
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// NewSettlementID generates a fresh opaque public settlement identifier.
func NewSettlementID() string {
	return fmt.Sprintf("STL-%s", uuid.NewString())
}

// CreateSettlementRequest is the DTO for incoming settlement API requests. The
// idempotency key travels as a transport-level header, not in the body.
type CreateSettlementRequest struct {
	ContractID     string            `json:"contract_id"`
	SettlementType string            `json:"settlement_type"`
	From           SettlementParty   `json:"from"`
	To             SettlementParty   `json:"to"`
	Amount         int64             `json:"amount"` // in cents
	Currency       string            `json:"currency,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SettlementParty identifies one side of a settlement by wallet and bank.
type SettlementParty struct {
	WalletID string  `json:"wallet_id"`
	BsimID   string  `json:"bsim_id"`
	EscrowID *string `json:"escrow_id,omitempty"`
}

// UserIDFromWalletID resolves a user id from a wallet id. Wallet ids of the form
// `WLLT-{userId}` strip the prefix; anything else is used as-is.
func UserIDFromWalletID(walletID string) string {
	if rest, ok := strings.CutPrefix(walletID, "WLLT-"); ok && rest != "" {
		return rest
	}
	return walletID
}
