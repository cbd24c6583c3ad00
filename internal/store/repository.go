/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the transfer-service. Defining an
 * interface decouples the saga logic from the PostgreSQL implementation and
 * lets tests substitute stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For record identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/interpay/transfer-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Transfer methods. Transfers are mutated exclusively by the saga that
	// owns them; terminal records are retained for audit and status queries.
	CreateTransfer(ctx context.Context, t *domain.Transfer) error
	FindTransferByPublicID(ctx context.Context, transferID string) (*domain.Transfer, error)
	// Saga-side transitions are guarded check-and-sets: each update matches
	// only while the row still holds the expected prior status, so a stale
	// saga step cannot overwrite a concurrent cancellation or expiry. A
	// conflicting write returns ErrTransferStateConflict and the saga aborts.
	UpdateTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, message string) error
	SetTransferRecipient(ctx context.Context, id uuid.UUID, params SetTransferRecipientParams) error
	SetTransferDebited(ctx context.Context, id uuid.UUID, debitTransactionID string) error
	CompleteTransfer(ctx context.Context, id uuid.UUID, creditTransactionID string, completedAt time.Time) error
	SetTransferProfileImages(ctx context.Context, id uuid.UUID, senderImageURL, recipientImageURL *string) error
	// CancelTransfer is a guarded check-and-set: it succeeds only while the
	// transfer is still in a pre-money-movement state.
	CancelTransfer(ctx context.Context, transferID string, userID string) (*domain.Transfer, error)
	// ExpireStaleTransfers moves PENDING/RESOLVING transfers whose expiry has
	// passed to EXPIRED, returning the number of rows swept.
	ExpireStaleTransfers(ctx context.Context, now time.Time) (int64, error)

	// Alias resolver boundary: active + verified aliases only.
	FindVerifiedAlias(ctx context.Context, aliasType domain.AliasType, normalizedValue string) (*domain.ResolvedAlias, error)

	// Merchant registry boundary.
	FindActiveMerchant(ctx context.Context, userID, bsimID string) (*domain.Merchant, error)
	IncrementMerchantStats(ctx context.Context, merchantID uuid.UUID, amount, feeAmount int64) error

	// Settlement methods.
	CreateSettlement(ctx context.Context, s *domain.Settlement) error
	FindSettlementByIdempotencyKey(ctx context.Context, key string) (*domain.Settlement, error)
	FindSettlementByID(ctx context.Context, settlementID string) (*domain.Settlement, error)
	MarkSettlementProcessing(ctx context.Context, id uuid.UUID) error
	CompleteSettlement(ctx context.Context, id uuid.UUID, transferID string, completedAt time.Time) error
	// FailSettlement keeps the linked transfer id (when one exists) so failed
	// settlements remain traceable to their money movement.
	FailSettlement(ctx context.Context, id uuid.UUID, transferID *string, errorCode, errorMessage string) error

	// Bank connection registry, loaded once at startup.
	ListBankConnections(ctx context.Context) ([]domain.BankConnection, error)
}

// SetTransferRecipientParams carries the recipient identity and classification
// recorded on the transition out of RESOLVING.
type SetTransferRecipientParams struct {
	RecipientUserID    string
	RecipientBsimID    string
	RecipientAccountID string
	Type               domain.TransferType
	RecipientCategory  domain.RecipientCategory
	FeeAmount          int64
}
