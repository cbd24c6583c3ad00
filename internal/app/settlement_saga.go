/**
 * @description
 * This file contains the settlement saga: contract-driven payouts executed with
 * request-level idempotency and two debit mechanisms (direct debit vs escrow
 * release). Unlike the transfer saga, settlements run synchronously and the
 * result is reported to the caller as well as via webhook.
 *
 * Key properties:
 * - The caller-supplied idempotency key is unique; a repeated request returns
 *   the stored result verbatim with no re-executed side effects.
 * - Every settlement creates a linked Transfer record before money moves, so
 *   the movement is independently auditable.
 * - Escrow release only debits; a credit failure after release leaves funds in
 *   limbo and requires manual compensation; no automatic recovery exists.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For record identifiers.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/webhook: Webhook delivery.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/pkg/webhook"
)

// CreateSettlement executes one contract-driven payout. Business failures are
// encoded on the returned Settlement (status FAILED + error code); an error
// return means the request never got far enough to produce a settlement.
func (s *Service) CreateSettlement(ctx context.Context, idempotencyKey string, req domain.CreateSettlementRequest) (*domain.Settlement, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.From.WalletID == "" || req.From.BsimID == "" || req.To.WalletID == "" || req.To.BsimID == "" {
		return nil, ErrInvalidSettlementParty
	}

	// Idempotency: a known key returns the stored result without side effects.
	if existing, err := s.repo.FindSettlementByIdempotencyKey(ctx, idempotencyKey); err == nil {
		log.Printf("level=info component=settlement_saga idempotency_key=%s settlement_id=%s msg=\"duplicate request; returning stored result\" status=%s",
			idempotencyKey, existing.SettlementID, existing.Status)
		return existing, nil
	} else if !errors.Is(err, store.ErrSettlementNotFound) {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	// Optional distributed guard against two identical requests racing before
	// the first row commits. The unique constraint remains the backstop.
	var reserved bool
	if s.idempotency != nil {
		acquired, err := s.idempotency.Reserve(ctx, idempotencyKey)
		if err != nil {
			log.Printf("level=warn component=settlement_saga idempotency_key=%s msg=\"idempotency reservation unavailable; relying on unique constraint\" err=%v", idempotencyKey, err)
		} else if !acquired {
			if existing, lookupErr := s.repo.FindSettlementByIdempotencyKey(ctx, idempotencyKey); lookupErr == nil {
				return existing, nil
			}
			return nil, ErrSettlementInFlight
		} else {
			reserved = true
		}
	}

	now := time.Now().UTC()
	settlement := &domain.Settlement{
		ID:             uuid.New(),
		SettlementID:   domain.NewSettlementID(),
		IdempotencyKey: idempotencyKey,
		ContractID:     req.ContractID,
		SettlementType: req.SettlementType,
		FromWalletID:   req.From.WalletID,
		FromBsimID:     req.From.BsimID,
		FromEscrowID:   req.From.EscrowID,
		ToWalletID:     req.To.WalletID,
		ToBsimID:       req.To.BsimID,
		Amount:         req.Amount,
		Currency:       s.currencyOrDefault(req.Currency),
		Metadata:       req.Metadata,
		Status:         domain.SettlementStatusPending,
		CreatedAt:      now,
	}
	if err := s.repo.CreateSettlement(ctx, settlement); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			if existing, lookupErr := s.repo.FindSettlementByIdempotencyKey(ctx, idempotencyKey); lookupErr == nil {
				return existing, nil
			}
		}
		// No row exists for this key; free the reservation so a retry is not
		// locked out for the remainder of the TTL.
		if reserved {
			s.releaseReservation(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to create settlement record: %w", err)
	}

	if err := s.repo.MarkSettlementProcessing(ctx, settlement.ID); err != nil {
		return nil, fmt.Errorf("failed to mark settlement processing: %w", err)
	}
	settlement.Status = domain.SettlementStatusProcessing

	s.executeSettlement(ctx, settlement)
	return settlement, nil
}

// GetSettlement returns the full current state of a settlement by public or
// internal identifier. Side-effect-free.
func (s *Service) GetSettlement(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	return s.repo.FindSettlementByID(ctx, settlementID)
}

// releaseReservation frees a claimed idempotency key. Best-effort: if the
// release fails the claim simply ages out at its TTL.
func (s *Service) releaseReservation(ctx context.Context, key string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		log.Printf("level=warn component=settlement_saga idempotency_key=%s msg=\"reservation release failed\" err=%v", key, err)
	}
}

// executeSettlement drives the payout through its linked transfer.
func (s *Service) executeSettlement(ctx context.Context, stl *domain.Settlement) {
	fromUserID := domain.UserIDFromWalletID(stl.FromWalletID)
	toUserID := domain.UserIDFromWalletID(stl.ToWalletID)

	transfer, err := s.createSettlementTransfer(ctx, stl, fromUserID, toUserID)
	if err != nil {
		log.Printf("level=error component=settlement_saga settlement_id=%s msg=\"linked transfer creation failed\" err=%v", stl.SettlementID, err)
		s.failSettlement(ctx, stl, nil, domain.SettlementErrorBankUnavailable, "internal error creating settlement transfer")
		return
	}

	fromConn, err := s.banks.Connector(stl.FromBsimID)
	if err != nil {
		s.failTransfer(ctx, transfer, domain.TransferStatusDebitFailed,
			fmt.Sprintf("Source bank connection not configured: %s", stl.FromBsimID))
		s.failSettlement(ctx, stl, transfer, domain.SettlementErrorBankUnavailable,
			fmt.Sprintf("connection not configured for bank %s", stl.FromBsimID))
		return
	}
	toConn := fromConn
	if stl.ToBsimID != stl.FromBsimID {
		toConn, err = s.banks.Connector(stl.ToBsimID)
		if err != nil {
			s.failTransfer(ctx, transfer, domain.TransferStatusDebitFailed,
				fmt.Sprintf("Destination bank connection not configured: %s", stl.ToBsimID))
			s.failSettlement(ctx, stl, transfer, domain.SettlementErrorBankUnavailable,
				fmt.Sprintf("connection not configured for bank %s", stl.ToBsimID))
			return
		}
	}

	referenceID := transfer.ID.String()
	description := fmt.Sprintf("Contract settlement %s (%s)", stl.ContractID, stl.SettlementType)

	// Debit leg: escrow release when an escrow id is present, direct debit otherwise.
	var escrowReleased bool
	if stl.FromEscrowID != nil && *stl.FromEscrowID != "" {
		release, err := fromConn.EscrowRelease(ctx, *stl.FromEscrowID, stl.ContractID, referenceID, description)
		if err != nil {
			s.failTransfer(ctx, transfer, domain.TransferStatusDebitFailed,
				fmt.Sprintf("Escrow release failed: %s", upstreamErrorMessage(err)))
			s.failSettlement(ctx, stl, transfer, domain.SettlementErrorEscrowReleaseFailed, upstreamErrorMessage(err))
			return
		}
		if err := s.repo.SetTransferDebited(ctx, transfer.ID, release.TransactionID); err != nil {
			log.Printf("level=error component=settlement_saga settlement_id=%s msg=\"escrow debit persist failed\" err=%v", stl.SettlementID, err)
		}
		transfer.DebitTransactionID = &release.TransactionID
		transfer.Status = domain.TransferStatusCrediting
		escrowReleased = true
	} else {
		debit, err := fromConn.Debit(ctx, fromUserID, stl.FromWalletID, stl.Amount, stl.Currency, referenceID, description)
		if err != nil {
			s.failTransfer(ctx, transfer, domain.TransferStatusDebitFailed,
				fmt.Sprintf("Debit failed: %s", upstreamErrorMessage(err)))
			s.failSettlement(ctx, stl, transfer, domain.SettlementErrorDebitFailed, upstreamErrorMessage(err))
			return
		}
		if err := s.repo.SetTransferDebited(ctx, transfer.ID, debit.TransactionID); err != nil {
			log.Printf("level=error component=settlement_saga settlement_id=%s msg=\"debit persist failed\" err=%v", stl.SettlementID, err)
		}
		transfer.DebitTransactionID = &debit.TransactionID
		transfer.Status = domain.TransferStatusCrediting
	}

	credit, err := toConn.Credit(ctx, toUserID, "", stl.Amount, stl.Currency, referenceID, description)
	if err != nil {
		message := fmt.Sprintf("Credit failed after successful debit; debit may require reversal: %s", upstreamErrorMessage(err))
		if escrowReleased {
			message = fmt.Sprintf("Credit failed after escrow %s was already released; funds are in limbo pending manual compensation: %s",
				*stl.FromEscrowID, upstreamErrorMessage(err))
		}
		s.failTransfer(ctx, transfer, domain.TransferStatusCreditFailed, message)
		s.failSettlement(ctx, stl, transfer, domain.SettlementErrorCreditFailed, message)
		return
	}

	completedAt := time.Now().UTC()
	if err := s.repo.CompleteTransfer(ctx, transfer.ID, credit.TransactionID, completedAt); err != nil {
		log.Printf("level=error component=settlement_saga settlement_id=%s msg=\"transfer completion persist failed\" err=%v", stl.SettlementID, err)
	}
	transfer.CreditTransactionID = &credit.TransactionID
	transfer.Status = domain.TransferStatusCompleted
	transfer.CompletedAt = &completedAt

	s.attachProfileImages(ctx, transfer)

	if err := s.repo.CompleteSettlement(ctx, stl.ID, transfer.TransferID, completedAt); err != nil {
		log.Printf("level=error component=settlement_saga settlement_id=%s msg=\"settlement completion persist failed\" err=%v", stl.SettlementID, err)
	}
	stl.Status = domain.SettlementStatusCompleted
	stl.TransferID = &transfer.TransferID
	stl.CompletedAt = &completedAt

	log.Printf("level=info component=settlement_saga settlement_id=%s msg=\"settlement completed\" transfer_id=%s amount=%d",
		stl.SettlementID, transfer.TransferID, stl.Amount)

	event := s.buildSettlementEvent(stl)
	s.notify(webhook.Event{
		Type:           domain.EventSettlementCompleted,
		IdempotencyKey: stl.IdempotencyKey,
		Payload:        event,
	})
	s.publishEvent(ctx, domain.EventSettlementCompleted, event)
}

// createSettlementTransfer persists the linked Transfer in DEBITING before any
// money moves.
func (s *Service) createSettlementTransfer(ctx context.Context, stl *domain.Settlement, fromUserID, toUserID string) (*domain.Transfer, error) {
	now := time.Now().UTC()
	transfer := &domain.Transfer{
		ID:                uuid.New(),
		TransferID:        domain.NewTransferID(),
		SenderUserID:      fromUserID,
		SenderBsimID:      stl.FromBsimID,
		SenderAccountID:   stl.FromWalletID,
		RecipientAlias:    stl.ToWalletID,
		Amount:            stl.Amount,
		Currency:          stl.Currency,
		Type:              domain.TransferTypeContractSettlement,
		RecipientCategory: domain.RecipientCategoryIndividual,
		Description:       fmt.Sprintf("Settlement for contract %s", stl.ContractID),
		Status:            domain.TransferStatusPending,
		StatusMessage:     "Settlement transfer created",
		CreatedAt:         now,
		ExpiresAt:         now.Add(transferExpiryWindow),
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	params := store.SetTransferRecipientParams{
		RecipientUserID:   toUserID,
		RecipientBsimID:   stl.ToBsimID,
		Type:              domain.TransferTypeContractSettlement,
		RecipientCategory: domain.RecipientCategoryIndividual,
	}
	if err := s.repo.SetTransferRecipient(ctx, transfer.ID, params); err != nil {
		return nil, err
	}
	transfer.RecipientUserID = &toUserID
	transfer.RecipientBsimID = &stl.ToBsimID
	transfer.Status = domain.TransferStatusDebiting
	return transfer, nil
}

// failSettlement records the terminal failure and fires the failure webhook.
// The linked transfer (when one was created before the failure) stays attached
// to the settlement so the failed payout remains traceable.
func (s *Service) failSettlement(ctx context.Context, stl *domain.Settlement, transfer *domain.Transfer, errorCode, errorMessage string) {
	var transferID *string
	if transfer != nil {
		transferID = &transfer.TransferID
	}
	if err := s.repo.FailSettlement(ctx, stl.ID, transferID, errorCode, errorMessage); err != nil {
		log.Printf("level=error component=settlement_saga settlement_id=%s msg=\"failure persist failed\" err=%v", stl.SettlementID, err)
	}
	stl.Status = domain.SettlementStatusFailed
	stl.TransferID = transferID
	stl.ErrorCode = &errorCode
	stl.ErrorMessage = &errorMessage

	log.Printf("level=warn component=settlement_saga settlement_id=%s msg=\"settlement failed\" code=%s reason=%q",
		stl.SettlementID, errorCode, errorMessage)

	event := s.buildSettlementEvent(stl)
	s.notify(webhook.Event{
		Type:           domain.EventSettlementFailed,
		IdempotencyKey: stl.IdempotencyKey,
		Payload:        event,
	})
	s.publishEvent(ctx, domain.EventSettlementFailed, event)
}

func (s *Service) buildSettlementEvent(stl *domain.Settlement) domain.SettlementEvent {
	return domain.SettlementEvent{
		EventID:      uuid.NewString(),
		ContractID:   stl.ContractID,
		SettlementID: stl.SettlementID,
		TransferID:   stl.TransferID,
		Amount:       stl.Amount,
		Currency:     stl.Currency,
		FromWalletID: stl.FromWalletID,
		ToWalletID:   stl.ToWalletID,
		ErrorCode:    stl.ErrorCode,
		ErrorMessage: stl.ErrorMessage,
	}
}
