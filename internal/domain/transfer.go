/**
 * @description
 * This file defines the core domain models for the transfer-service. These structs
 * represent the durable records and data transfer objects used by the transfer
 * orchestration saga, the database layer, and the API layer.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point inaccuracies with financial data.
 * - A Transfer carries two identifiers: the internal UUID used as the database
 *   primary key, and an opaque prefixed public id (`TRF-...`) exposed to callers.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransferStatus enumerates the states of the transfer saga. Transitions are
// monotonic through the state graph; terminal states are never left.
type TransferStatus string

const (
	TransferStatusPending           TransferStatus = "PENDING"
	TransferStatusResolving         TransferStatus = "RESOLVING"
	TransferStatusRecipientNotFound TransferStatus = "RECIPIENT_NOT_FOUND"
	TransferStatusDebiting          TransferStatus = "DEBITING"
	TransferStatusDebitFailed       TransferStatus = "DEBIT_FAILED"
	TransferStatusCrediting         TransferStatus = "CREDITING"
	TransferStatusCreditFailed      TransferStatus = "CREDIT_FAILED"
	TransferStatusCompleted         TransferStatus = "COMPLETED"
	TransferStatusCancelled         TransferStatus = "CANCELLED"
	TransferStatusExpired           TransferStatus = "EXPIRED"
)

// IsTerminal reports whether the saga will make no further transitions from this status.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case TransferStatusRecipientNotFound, TransferStatusDebitFailed,
		TransferStatusCreditFailed, TransferStatusCompleted,
		TransferStatusCancelled, TransferStatusExpired:
		return true
	}
	return false
}

// AliasType enumerates the supported recipient alias formats.
type AliasType string

const (
	AliasTypeEmail     AliasType = "EMAIL"
	AliasTypePhone     AliasType = "PHONE"
	AliasTypeUsername  AliasType = "USERNAME"
	AliasTypeRandomKey AliasType = "RANDOM_KEY"
)

// TransferType classifies the business purpose of a money movement.
type TransferType string

const (
	TransferTypeP2P                TransferType = "P2P"
	TransferTypeMerchant           TransferType = "MERCHANT"
	TransferTypeRefund             TransferType = "REFUND"
	TransferTypeContractSettlement TransferType = "CONTRACT_SETTLEMENT"
)

// RecipientCategory distinguishes individual recipients from registered micro-merchants.
type RecipientCategory string

const (
	RecipientCategoryIndividual    RecipientCategory = "INDIVIDUAL"
	RecipientCategoryMicroMerchant RecipientCategory = "MICRO_MERCHANT"
)

// Transfer is the durable record of one P2P money movement. It maps directly to
// the `transfers` table and is mutated exclusively by the transfer saga.
type Transfer struct {
	ID                  uuid.UUID         `json:"id"`
	TransferID          string            `json:"transfer_id"` // public opaque id, TRF- prefixed
	SenderUserID        string            `json:"sender_user_id"`
	SenderBsimID        string            `json:"sender_bsim_id"`
	SenderAccountID     string            `json:"sender_account_id"`
	RecipientUserID     *string           `json:"recipient_user_id,omitempty"`
	RecipientBsimID     *string           `json:"recipient_bsim_id,omitempty"`
	RecipientAccountID  *string           `json:"recipient_account_id,omitempty"`
	RecipientAlias      string            `json:"recipient_alias"`
	RecipientAliasType  AliasType         `json:"recipient_alias_type"`
	Amount              int64             `json:"amount"` // in cents
	Currency            string            `json:"currency"`
	Type                TransferType      `json:"type"`
	RecipientCategory   RecipientCategory `json:"recipient_category"`
	FeeAmount           int64             `json:"fee_amount"` // in cents, informational for merchant payments
	Description         string            `json:"description,omitempty"`
	DebitTransactionID  *string           `json:"debit_transaction_id,omitempty"`
	CreditTransactionID *string           `json:"credit_transaction_id,omitempty"`
	Status              TransferStatus    `json:"status"`
	StatusMessage       string            `json:"status_message"`
	SenderImageURL      *string           `json:"sender_image_url,omitempty"`
	RecipientImageURL   *string           `json:"recipient_image_url,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	ExpiresAt           time.Time         `json:"expires_at"`
}

// IsCrossBank reports whether sender and recipient accounts live at different
// banking backends. Only meaningful once the recipient has been resolved.
func (t *Transfer) IsCrossBank() bool {
	return t.RecipientBsimID != nil && *t.RecipientBsimID != t.SenderBsimID
}

// NewTransferID generates a fresh opaque public transfer identifier.
func NewTransferID() string {
	return fmt.Sprintf("TRF-%s", uuid.NewString())
}

// CreateTransferRequest is the DTO for incoming transfer API requests. Sender
// identity comes from the authenticated request context, not the body.
type CreateTransferRequest struct {
	RecipientAlias     string `json:"recipient_alias"`
	RecipientAliasType string `json:"recipient_alias_type,omitempty"`
	Amount             int64  `json:"amount"` // in cents
	Currency           string `json:"currency,omitempty"`
	Description        string `json:"description,omitempty"`
}

// ResolvedAlias is the (user, bank, account) triple an active, verified alias maps to.
type ResolvedAlias struct {
	UserID    string `json:"user_id"`
	BsimID    string `json:"bsim_id"`
	AccountID string `json:"account_id"`
}

// Merchant is the registry view of an active registered micro-merchant.
type Merchant struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	BsimID       string    `json:"bsim_id"`
	BusinessName string    `json:"business_name"`
}
