/**
 * @description
 * This file contains the transfer saga: the state machine that drives a single
 * P2P transfer from submission through alias resolution, debit, credit, and
 * terminal completion or failure.
 *
 * Key properties:
 * - CreateTransfer persists the PENDING record and returns immediately; the
 *   remaining steps run as a detached background task, so callers observe
 *   progress by polling the status endpoint.
 * - Status transitions are monotonic through the state graph. The debit
 *   transaction id is persisted and the record moved to CREDITING before the
 *   credit call, so a crash between the two calls leaves discoverable state.
 * - A credit failure after a successful debit is terminal CREDIT_FAILED with no
 *   automatic reversal; the dangling debit is flagged for operator attention.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For record identifiers.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/bankclient, pkg/webhook: Bank connectors and webhook delivery.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/pkg/bankclient"
	"github.com/interpay/transfer-service/pkg/webhook"
)

// Sender identifies the authenticated initiator of a transfer.
type Sender struct {
	UserID    string
	BsimID    string
	AccountID string
}

// CreateTransfer validates the request, persists a PENDING transfer, and kicks
// off the saga in the background. The returned record is the PENDING snapshot.
func (s *Service) CreateTransfer(ctx context.Context, sender Sender, req domain.CreateTransferRequest) (*domain.Transfer, error) {
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	var aliasType domain.AliasType
	var err error
	if req.RecipientAliasType != "" {
		aliasType, err = ParseAliasType(req.RecipientAliasType)
	} else {
		aliasType, err = InferAliasType(req.RecipientAlias)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	transfer := &domain.Transfer{
		ID:                 uuid.New(),
		TransferID:         domain.NewTransferID(),
		SenderUserID:       sender.UserID,
		SenderBsimID:       sender.BsimID,
		SenderAccountID:    sender.AccountID,
		RecipientAlias:     req.RecipientAlias,
		RecipientAliasType: aliasType,
		Amount:             req.Amount,
		Currency:           s.currencyOrDefault(req.Currency),
		Type:               domain.TransferTypeP2P,
		RecipientCategory:  domain.RecipientCategoryIndividual,
		Description:        req.Description,
		Status:             domain.TransferStatusPending,
		StatusMessage:      "Transfer created",
		CreatedAt:          now,
		ExpiresAt:          now.Add(transferExpiryWindow),
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}

	log.Printf("level=info component=transfer_saga transfer_id=%s msg=\"transfer accepted\" sender=%s alias_type=%s amount=%d",
		transfer.TransferID, sender.UserID, aliasType, req.Amount)

	// Detached background execution: the caller polls for the outcome.
	snapshot := *transfer
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), sagaTimeout)
		defer cancel()
		s.runTransferSaga(bgCtx, &snapshot)
	}()

	return transfer, nil
}

// GetTransfer returns the current state of a transfer by its public id.
func (s *Service) GetTransfer(ctx context.Context, transferID string) (*domain.Transfer, error) {
	return s.repo.FindTransferByPublicID(ctx, transferID)
}

// CancelTransfer cancels a transfer on behalf of its sender. Only transfers
// that have not started moving money can be cancelled; the repository enforces
// the state guard atomically.
func (s *Service) CancelTransfer(ctx context.Context, transferID, userID string) (*domain.Transfer, error) {
	return s.repo.CancelTransfer(ctx, transferID, userID)
}

// runTransferSaga drives one transfer from RESOLVING to a terminal state.
func (s *Service) runTransferSaga(ctx context.Context, t *domain.Transfer) {
	if err := s.repo.UpdateTransferStatus(ctx, t.ID, domain.TransferStatusPending, domain.TransferStatusResolving, "Resolving recipient alias"); err != nil {
		if errors.Is(err, store.ErrTransferStateConflict) {
			log.Printf("level=info component=transfer_saga transfer_id=%s msg=\"transfer no longer PENDING; saga aborted\"", t.TransferID)
			return
		}
		log.Printf("level=error component=transfer_saga transfer_id=%s msg=\"status update failed\" status=RESOLVING err=%v", t.TransferID, err)
		return
	}
	t.Status = domain.TransferStatusResolving

	merchant, ok := s.resolveRecipient(ctx, t)
	if !ok {
		return
	}

	if !s.executeMoneyMovement(ctx, t) {
		return
	}

	s.finalizeTransfer(ctx, t, merchant)
}

// resolveRecipient normalizes the alias, looks up the recipient, applies the
// self-transfer guard, classifies merchant payments, and moves the transfer to
// DEBITING. A false return means the saga has reached a terminal state (or a
// lookup infrastructure error left the record for the expiry sweeper).
func (s *Service) resolveRecipient(ctx context.Context, t *domain.Transfer) (*domain.Merchant, bool) {
	normalized, err := NormalizeAlias(t.RecipientAliasType, t.RecipientAlias)
	if err != nil {
		s.failTransfer(ctx, t, domain.TransferStatusRecipientNotFound, fmt.Sprintf("Invalid recipient alias: %v", err))
		return nil, false
	}

	resolved, err := s.repo.FindVerifiedAlias(ctx, t.RecipientAliasType, normalized)
	if err != nil {
		if errors.Is(err, store.ErrAliasNotFound) {
			s.failTransfer(ctx, t, domain.TransferStatusRecipientNotFound,
				fmt.Sprintf("No verified %s alias matches %s", t.RecipientAliasType, normalized))
			return nil, false
		}
		// Infrastructure error: leave the record in RESOLVING for the expiry
		// sweeper rather than claiming the recipient does not exist.
		log.Printf("level=error component=transfer_saga transfer_id=%s msg=\"alias lookup failed\" err=%v", t.TransferID, err)
		return nil, false
	}

	if resolved.UserID == t.SenderUserID && resolved.BsimID == t.SenderBsimID {
		s.failTransfer(ctx, t, domain.TransferStatusDebitFailed, "Cannot transfer to self")
		return nil, false
	}

	params := store.SetTransferRecipientParams{
		RecipientUserID:    resolved.UserID,
		RecipientBsimID:    resolved.BsimID,
		RecipientAccountID: resolved.AccountID,
		Type:               domain.TransferTypeP2P,
		RecipientCategory:  domain.RecipientCategoryIndividual,
	}

	merchant, err := s.repo.FindActiveMerchant(ctx, resolved.UserID, resolved.BsimID)
	if err != nil && !errors.Is(err, store.ErrMerchantNotFound) {
		log.Printf("level=warn component=transfer_saga transfer_id=%s msg=\"merchant lookup failed; treating recipient as individual\" err=%v", t.TransferID, err)
		merchant = nil
	}
	if merchant != nil {
		params.Type = domain.TransferTypeMerchant
		params.RecipientCategory = domain.RecipientCategoryMicroMerchant
		params.FeeAmount = merchantFee(t.Amount)
	}

	if err := s.repo.SetTransferRecipient(ctx, t.ID, params); err != nil {
		if errors.Is(err, store.ErrTransferStateConflict) {
			// Cancelled or expired while the alias lookup was in flight; no
			// money has moved and none may move now.
			log.Printf("level=info component=transfer_saga transfer_id=%s msg=\"transfer left RESOLVING concurrently; saga aborted before debit\"", t.TransferID)
			return nil, false
		}
		log.Printf("level=error component=transfer_saga transfer_id=%s msg=\"recipient persist failed\" err=%v", t.TransferID, err)
		return nil, false
	}

	t.RecipientUserID = &resolved.UserID
	t.RecipientBsimID = &resolved.BsimID
	t.RecipientAccountID = &resolved.AccountID
	t.Type = params.Type
	t.RecipientCategory = params.RecipientCategory
	t.FeeAmount = params.FeeAmount
	t.Status = domain.TransferStatusDebiting
	return merchant, true
}

// executeMoneyMovement performs debit then credit, branching on same-bank vs
// cross-bank topology. Returns true only when both legs succeeded.
func (s *Service) executeMoneyMovement(ctx context.Context, t *domain.Transfer) bool {
	senderConn, err := s.banks.Connector(t.SenderBsimID)
	if err != nil {
		s.failTransfer(ctx, t, domain.TransferStatusDebitFailed,
			fmt.Sprintf("Sender bank connection not configured: %s", t.SenderBsimID))
		return false
	}

	recipientConn := senderConn
	if t.IsCrossBank() {
		recipientConn, err = s.banks.Connector(*t.RecipientBsimID)
		if err != nil {
			s.failTransfer(ctx, t, domain.TransferStatusDebitFailed,
				fmt.Sprintf("Recipient bank connection not configured: %s", *t.RecipientBsimID))
			return false
		}
	}

	// The internal durable id tags both legs as the idempotency reference for
	// the external systems.
	referenceID := t.ID.String()

	debit, err := senderConn.Debit(ctx, t.SenderUserID, t.SenderAccountID, t.Amount, t.Currency, referenceID, t.Description)
	if err != nil {
		s.failTransfer(ctx, t, domain.TransferStatusDebitFailed,
			fmt.Sprintf("Debit failed: %s", upstreamErrorMessage(err)))
		return false
	}

	if err := s.repo.SetTransferDebited(ctx, t.ID, debit.TransactionID); err != nil {
		log.Printf("level=error component=transfer_saga transfer_id=%s msg=\"debit persist failed; debit tx=%s\" err=%v", t.TransferID, debit.TransactionID, err)
		return false
	}
	t.DebitTransactionID = &debit.TransactionID
	t.Status = domain.TransferStatusCrediting

	credit, err := recipientConn.Credit(ctx, *t.RecipientUserID, derefOrEmpty(t.RecipientAccountID), t.Amount, t.Currency, referenceID, t.Description)
	if err != nil {
		s.failTransfer(ctx, t, domain.TransferStatusCreditFailed,
			fmt.Sprintf("Credit failed after successful debit (%s); debit may require reversal: %s",
				debit.TransactionID, upstreamErrorMessage(err)))
		return false
	}

	completedAt := time.Now().UTC()
	if err := s.repo.CompleteTransfer(ctx, t.ID, credit.TransactionID, completedAt); err != nil {
		log.Printf("level=error component=transfer_saga transfer_id=%s msg=\"completion persist failed; credit tx=%s\" err=%v", t.TransferID, credit.TransactionID, err)
		return false
	}
	t.CreditTransactionID = &credit.TransactionID
	t.Status = domain.TransferStatusCompleted
	t.CompletedAt = &completedAt
	return true
}

// finalizeTransfer runs the best-effort completion side effects: merchant
// statistics, profile image enrichment, the completion webhook, and the broker
// event. None of these can roll back the COMPLETED status.
func (s *Service) finalizeTransfer(ctx context.Context, t *domain.Transfer, merchant *domain.Merchant) {
	log.Printf("level=info component=transfer_saga transfer_id=%s msg=\"transfer completed\" cross_bank=%t amount=%d", t.TransferID, t.IsCrossBank(), t.Amount)

	if merchant != nil {
		if err := s.repo.IncrementMerchantStats(ctx, merchant.ID, t.Amount, t.FeeAmount); err != nil {
			log.Printf("level=warn component=transfer_saga transfer_id=%s msg=\"merchant stats update failed\" merchant_id=%s err=%v", t.TransferID, merchant.ID, err)
		}
	}

	s.attachProfileImages(ctx, t)

	event := s.buildCompletionEvent(ctx, t, merchant)
	s.notify(webhook.Event{
		Type:           domain.EventTransferCompleted,
		IdempotencyKey: t.TransferID,
		Payload:        event,
	})
	s.publishEvent(ctx, domain.EventTransferCompleted, event)
}

// attachProfileImages fetches avatar references for both parties and stores
// them on the transfer for fast later display. Failures are swallowed.
func (s *Service) attachProfileImages(ctx context.Context, t *domain.Transfer) {
	if s.profiles == nil {
		return
	}

	senderImage, err := s.profiles.GetProfileImage(ctx, t.SenderUserID, t.SenderBsimID)
	if err != nil {
		log.Printf("level=warn component=transfer_saga transfer_id=%s msg=\"sender profile image fetch failed\" err=%v", t.TransferID, err)
		senderImage = nil
	}
	var recipientImage *string
	if t.RecipientUserID != nil && t.RecipientBsimID != nil {
		recipientImage, err = s.profiles.GetProfileImage(ctx, *t.RecipientUserID, *t.RecipientBsimID)
		if err != nil {
			log.Printf("level=warn component=transfer_saga transfer_id=%s msg=\"recipient profile image fetch failed\" err=%v", t.TransferID, err)
			recipientImage = nil
		}
	}
	if senderImage == nil && recipientImage == nil {
		return
	}

	if err := s.repo.SetTransferProfileImages(ctx, t.ID, senderImage, recipientImage); err != nil {
		log.Printf("level=warn component=transfer_saga transfer_id=%s msg=\"profile image persist failed\" err=%v", t.TransferID, err)
		return
	}
	t.SenderImageURL = senderImage
	t.RecipientImageURL = recipientImage
}

// buildCompletionEvent assembles the enriched transfer.completed payload,
// resolving display names through the bank connectors best-effort.
func (s *Service) buildCompletionEvent(ctx context.Context, t *domain.Transfer, merchant *domain.Merchant) domain.TransferCompletedEvent {
	event := domain.TransferCompletedEvent{
		EventID:           uuid.NewString(),
		TransferID:        t.TransferID,
		Amount:            t.Amount,
		Currency:          t.Currency,
		CrossBank:         t.IsCrossBank(),
		SenderBankName:    t.SenderBsimID,
		RecipientAlias:    t.RecipientAlias,
		RecipientCategory: string(t.RecipientCategory),
		SenderImageURL:    t.SenderImageURL,
		RecipientImageURL: t.RecipientImageURL,
	}
	if t.RecipientBsimID != nil {
		event.RecipientBankName = *t.RecipientBsimID
	}
	if merchant != nil {
		event.MerchantName = merchant.BusinessName
	}

	event.SenderName = s.lookupDisplayName(ctx, t.SenderBsimID, t.SenderUserID)
	if t.RecipientUserID != nil && t.RecipientBsimID != nil {
		event.RecipientName = s.lookupDisplayName(ctx, *t.RecipientBsimID, *t.RecipientUserID)
	}
	return event
}

// lookupDisplayName asks a bank connector for a user's display name; used for
// notification enrichment only, never for correctness gating.
func (s *Service) lookupDisplayName(ctx context.Context, bsimID, userID string) string {
	conn, err := s.banks.Connector(bsimID)
	if err != nil {
		return ""
	}
	info, err := conn.VerifyUser(ctx, userID)
	if err != nil || info == nil {
		return ""
	}
	return info.DisplayName
}

// failTransfer records a terminal failure state and message. The write is
// guarded on the saga's last known status; a conflict means a cancellation or
// expiry already won and the terminal state must not be overwritten.
func (s *Service) failTransfer(ctx context.Context, t *domain.Transfer, status domain.TransferStatus, message string) {
	if err := s.repo.UpdateTransferStatus(ctx, t.ID, t.Status, status, message); err != nil {
		if errors.Is(err, store.ErrTransferStateConflict) {
			log.Printf("level=info component=transfer_saga transfer_id=%s msg=\"transfer already left %s; failure write skipped\"", t.TransferID, t.Status)
			return
		}
		log.Printf("level=error component=transfer_saga transfer_id=%s msg=\"terminal status persist failed\" status=%s err=%v", t.TransferID, status, err)
		return
	}
	t.Status = status
	t.StatusMessage = message
	log.Printf("level=info component=transfer_saga transfer_id=%s msg=\"transfer terminated\" status=%s reason=%q", t.TransferID, status, message)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ensure the concrete client keeps satisfying the saga contract
var _ BankConnector = (*bankclient.Client)(nil)
