/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL queries used to persist and query transfers,
 * settlements, aliases, merchants, and bank connections.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrTransferNotFound        = errors.New("transfer not found")
	ErrTransferNotCancelable   = errors.New("transfer can no longer be cancelled")
	ErrTransferStateConflict   = errors.New("transfer status changed concurrently")
	ErrAliasNotFound           = errors.New("alias not found")
	ErrMerchantNotFound        = errors.New("merchant not found")
	ErrSettlementNotFound      = errors.New("settlement not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transferColumns = `
	id, transfer_id, sender_user_id, sender_bsim_id, sender_account_id,
	recipient_user_id, recipient_bsim_id, recipient_account_id,
	recipient_alias, recipient_alias_type, amount, currency, type,
	recipient_category, fee_amount, description, debit_transaction_id,
	credit_transaction_id, status, status_message, sender_image_url,
	recipient_image_url, created_at, completed_at, expires_at`

// CreateTransfer persists a new transfer record in its initial state.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	query := `
		INSERT INTO transfers (
			id, transfer_id, sender_user_id, sender_bsim_id, sender_account_id,
			recipient_alias, recipient_alias_type, amount, currency, type,
			recipient_category, fee_amount, description, status, status_message,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.TransferID, t.SenderUserID, t.SenderBsimID, t.SenderAccountID,
		t.RecipientAlias, t.RecipientAliasType, t.Amount, t.Currency, t.Type,
		t.RecipientCategory, t.FeeAmount, t.Description, t.Status, t.StatusMessage,
		t.CreatedAt, t.ExpiresAt,
	)
	return err
}

func (r *PostgresRepository) scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	err := row.Scan(
		&t.ID, &t.TransferID, &t.SenderUserID, &t.SenderBsimID, &t.SenderAccountID,
		&t.RecipientUserID, &t.RecipientBsimID, &t.RecipientAccountID,
		&t.RecipientAlias, &t.RecipientAliasType, &t.Amount, &t.Currency, &t.Type,
		&t.RecipientCategory, &t.FeeAmount, &t.Description, &t.DebitTransactionID,
		&t.CreditTransactionID, &t.Status, &t.StatusMessage, &t.SenderImageURL,
		&t.RecipientImageURL, &t.CreatedAt, &t.CompletedAt, &t.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FindTransferByPublicID retrieves a transfer by its opaque public identifier.
func (r *PostgresRepository) FindTransferByPublicID(ctx context.Context, transferID string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE transfer_id = $1`
	return r.scanTransfer(r.db.QueryRow(ctx, query, transferID))
}

// UpdateTransferStatus records a status transition and its human-readable
// message. The transition is a check-and-set against the expected current
// status so a stale saga step cannot overwrite a concurrent cancellation or
// expiry; ErrTransferStateConflict means the row is no longer in `from`.
func (r *PostgresRepository) UpdateTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, message string) error {
	query := `UPDATE transfers SET status = $3, status_message = $4, updated_at = NOW() WHERE id = $1 AND status = $2`
	result, err := r.db.Exec(ctx, query, id, from, to, message)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferStateConflict
	}
	return nil
}

// SetTransferRecipient records the resolved recipient identity and classification
// while moving the transfer into DEBITING. The status guard covers the cancel
// window: once a transfer is CANCELLED or EXPIRED this update matches no row
// and the saga must stop before any money moves.
func (r *PostgresRepository) SetTransferRecipient(ctx context.Context, id uuid.UUID, params SetTransferRecipientParams) error {
	query := `
		UPDATE transfers
		SET recipient_user_id = $2, recipient_bsim_id = $3, recipient_account_id = $4,
		    type = $5, recipient_category = $6, fee_amount = $7,
		    status = $8, status_message = 'Debiting sender account', updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RESOLVING')
	`
	result, err := r.db.Exec(ctx, query, id,
		params.RecipientUserID, params.RecipientBsimID, params.RecipientAccountID,
		params.Type, params.RecipientCategory, params.FeeAmount,
		domain.TransferStatusDebiting,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferStateConflict
	}
	return nil
}

// SetTransferDebited persists the debit transaction id and moves the transfer to
// CREDITING, so a crash between debit and credit leaves discoverable state.
func (r *PostgresRepository) SetTransferDebited(ctx context.Context, id uuid.UUID, debitTransactionID string) error {
	query := `
		UPDATE transfers
		SET debit_transaction_id = $2, status = $3,
		    status_message = 'Debit succeeded; crediting recipient', updated_at = NOW()
		WHERE id = $1 AND status = 'DEBITING'
	`
	result, err := r.db.Exec(ctx, query, id, debitTransactionID, domain.TransferStatusCrediting)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferStateConflict
	}
	return nil
}

// CompleteTransfer records the credit transaction id and stamps completion.
func (r *PostgresRepository) CompleteTransfer(ctx context.Context, id uuid.UUID, creditTransactionID string, completedAt time.Time) error {
	query := `
		UPDATE transfers
		SET credit_transaction_id = $2, status = $3, status_message = 'Transfer completed',
		    completed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'CREDITING'
	`
	result, err := r.db.Exec(ctx, query, id, creditTransactionID, domain.TransferStatusCompleted, completedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferStateConflict
	}
	return nil
}

// SetTransferProfileImages stores display avatar references for fast later display.
func (r *PostgresRepository) SetTransferProfileImages(ctx context.Context, id uuid.UUID, senderImageURL, recipientImageURL *string) error {
	query := `UPDATE transfers SET sender_image_url = $2, recipient_image_url = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, senderImageURL, recipientImageURL)
	return err
}

// CancelTransfer transitions a transfer to CANCELLED only while it has not
// started moving money. The status check happens in the same statement so the
// cancel path cannot race a concurrently running saga.
func (r *PostgresRepository) CancelTransfer(ctx context.Context, transferID string, userID string) (*domain.Transfer, error) {
	query := `
		UPDATE transfers
		SET status = $3, status_message = 'Cancelled by sender', updated_at = NOW()
		WHERE transfer_id = $1 AND sender_user_id = $2
		  AND status IN ('PENDING', 'RESOLVING', 'RECIPIENT_NOT_FOUND')
		RETURNING ` + transferColumns
	t, err := r.scanTransfer(r.db.QueryRow(ctx, query, transferID, userID, domain.TransferStatusCancelled))
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			// Distinguish "no such transfer" from "transfer exists but is past the cancelable window".
			if _, lookupErr := r.FindTransferByPublicID(ctx, transferID); lookupErr == nil {
				return nil, ErrTransferNotCancelable
			}
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return t, nil
}

// ExpireStaleTransfers sweeps pending transfers whose expiry window has passed.
func (r *PostgresRepository) ExpireStaleTransfers(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE transfers
		SET status = $2, status_message = 'Transfer expired', updated_at = NOW()
		WHERE status IN ('PENDING', 'RESOLVING') AND expires_at < $1
	`
	result, err := r.db.Exec(ctx, query, now, domain.TransferStatusExpired)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// FindVerifiedAlias looks up an active, verified alias by type and normalized value.
func (r *PostgresRepository) FindVerifiedAlias(ctx context.Context, aliasType domain.AliasType, normalizedValue string) (*domain.ResolvedAlias, error) {
	var resolved domain.ResolvedAlias
	query := `
		SELECT user_id, bsim_id, account_id
		FROM aliases
		WHERE alias_type = $1 AND alias_value = $2 AND is_active AND is_verified
	`
	err := r.db.QueryRow(ctx, query, aliasType, normalizedValue).Scan(&resolved.UserID, &resolved.BsimID, &resolved.AccountID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAliasNotFound
		}
		return nil, err
	}
	return &resolved, nil
}

// FindActiveMerchant returns the active merchant registered for a (user, bank) pair, if any.
func (r *PostgresRepository) FindActiveMerchant(ctx context.Context, userID, bsimID string) (*domain.Merchant, error) {
	var m domain.Merchant
	query := `
		SELECT id, user_id, bsim_id, business_name
		FROM merchants
		WHERE user_id = $1 AND bsim_id = $2 AND is_active
	`
	err := r.db.QueryRow(ctx, query, userID, bsimID).Scan(&m.ID, &m.UserID, &m.BsimID, &m.BusinessName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &m, nil
}

// IncrementMerchantStats updates merchant aggregate statistics after a completed payment.
func (r *PostgresRepository) IncrementMerchantStats(ctx context.Context, merchantID uuid.UUID, amount, feeAmount int64) error {
	query := `
		UPDATE merchants
		SET total_received = total_received + $2,
		    transaction_count = transaction_count + 1,
		    total_fees = total_fees + $3,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, merchantID, amount, feeAmount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMerchantNotFound
	}
	return nil
}

// CreateSettlement persists a new settlement record. A unique constraint on
// idempotency_key is the durable backstop against duplicate submissions.
func (r *PostgresRepository) CreateSettlement(ctx context.Context, s *domain.Settlement) error {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal settlement metadata: %w", err)
	}
	query := `
		INSERT INTO settlements (
			id, settlement_id, idempotency_key, contract_id, settlement_type,
			from_wallet_id, from_bsim_id, from_escrow_id, to_wallet_id, to_bsim_id,
			amount, currency, metadata, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.Exec(ctx, query,
		s.ID, s.SettlementID, s.IdempotencyKey, s.ContractID, s.SettlementType,
		s.FromWalletID, s.FromBsimID, s.FromEscrowID, s.ToWalletID, s.ToBsimID,
		s.Amount, s.Currency, metadata, s.Status, s.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

const settlementColumns = `
	id, settlement_id, idempotency_key, contract_id, settlement_type,
	from_wallet_id, from_bsim_id, from_escrow_id, to_wallet_id, to_bsim_id,
	amount, currency, metadata, status, error_code, error_message,
	transfer_id, created_at, completed_at`

func (r *PostgresRepository) scanSettlement(row pgx.Row) (*domain.Settlement, error) {
	var s domain.Settlement
	var metadata []byte
	err := row.Scan(
		&s.ID, &s.SettlementID, &s.IdempotencyKey, &s.ContractID, &s.SettlementType,
		&s.FromWalletID, &s.FromBsimID, &s.FromEscrowID, &s.ToWalletID, &s.ToBsimID,
		&s.Amount, &s.Currency, &metadata, &s.Status, &s.ErrorCode, &s.ErrorMessage,
		&s.TransferID, &s.CreatedAt, &s.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal settlement metadata: %w", err)
		}
	}
	return &s, nil
}

// FindSettlementByIdempotencyKey retrieves a settlement by its caller-supplied key.
func (r *PostgresRepository) FindSettlementByIdempotencyKey(ctx context.Context, key string) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE idempotency_key = $1`
	return r.scanSettlement(r.db.QueryRow(ctx, query, key))
}

// FindSettlementByID retrieves a settlement by public or internal identifier.
func (r *PostgresRepository) FindSettlementByID(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE settlement_id = $1 OR id::text = $1`
	return r.scanSettlement(r.db.QueryRow(ctx, query, settlementID))
}

// MarkSettlementProcessing moves a fresh settlement into PROCESSING.
func (r *PostgresRepository) MarkSettlementProcessing(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE settlements SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id, domain.SettlementStatusProcessing)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

// CompleteSettlement records the linked transfer id and stamps completion.
func (r *PostgresRepository) CompleteSettlement(ctx context.Context, id uuid.UUID, transferID string, completedAt time.Time) error {
	query := `
		UPDATE settlements
		SET status = $2, transfer_id = $3, completed_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, domain.SettlementStatusCompleted, transferID, completedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

// FailSettlement records a terminal failure with its error code and message.
// The linked transfer id is persisted too, so a FAILED settlement stays
// traceable to the transfer that carried its money movement; nil means the
// failure happened before a linked transfer existed.
func (r *PostgresRepository) FailSettlement(ctx context.Context, id uuid.UUID, transferID *string, errorCode, errorMessage string) error {
	query := `
		UPDATE settlements
		SET status = $2, transfer_id = COALESCE($3, transfer_id),
		    error_code = $4, error_message = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, domain.SettlementStatusFailed, transferID, errorCode, errorMessage)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

// ListBankConnections returns every configured bank connection. The saga treats
// this registry as read-only shared state loaded once per process.
func (r *PostgresRepository) ListBankConnections(ctx context.Context) ([]domain.BankConnection, error) {
	query := `
		SELECT bsim_id, base_url, api_key, is_active,
		       supports_instant_transfer, supports_payment_initiation
		FROM bank_connections
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []domain.BankConnection
	for rows.Next() {
		var c domain.BankConnection
		if err := rows.Scan(&c.BsimID, &c.BaseURL, &c.APIKey, &c.Active,
			&c.SupportsInstantTransfer, &c.SupportsPaymentInitiation); err != nil {
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}
