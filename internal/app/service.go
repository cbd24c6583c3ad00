/**
 * @description
 * This file defines the `Service` struct that hosts the transfer and settlement
 * sagas, the interfaces it consumes, and the validation errors it can surface.
 * Dependencies are injected explicitly at startup; the sagas never construct
 * their own clients.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/store: For the repository contract.
 * - pkg/bankclient, pkg/profileclient, pkg/rabbitmq, pkg/webhook: External collaborators.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/pkg/bankclient"
	"github.com/interpay/transfer-service/pkg/rabbitmq"
	"github.com/interpay/transfer-service/pkg/webhook"
)

var (
	ErrInvalidAmount          = errors.New("amount must be a positive number")
	ErrAmountExceedsLimit     = errors.New("amount exceeds the per-transfer limit")
	ErrMissingIdempotencyKey  = errors.New("idempotency key is required")
	ErrInvalidSettlementParty = errors.New("settlement requires from/to wallet and bank ids")
	ErrSettlementInFlight     = errors.New("a settlement with this idempotency key is already being processed")
)

// Merchant fee tier: flat 25 cents under 200.00, flat 50 cents at or above.
const (
	merchantFeeTierThresholdCents = 20000
	merchantFeeSmallCents         = 25
	merchantFeeLargeCents         = 50
)

const transferExpiryWindow = 24 * time.Hour

// sagaTimeout bounds the detached background execution of one transfer saga.
const sagaTimeout = 2 * time.Minute

// BankConnector is the per-bank operation contract the sagas drive. It is
// satisfied by *bankclient.Client and by test fakes.
type BankConnector interface {
	Debit(ctx context.Context, userID, accountID string, amount int64, currency, referenceID, description string) (*bankclient.OperationResult, error)
	Credit(ctx context.Context, userID, accountID string, amount int64, currency, referenceID, description string) (*bankclient.OperationResult, error)
	EscrowRelease(ctx context.Context, escrowID, contractID, referenceID, reason string) (*bankclient.OperationResult, error)
	VerifyUser(ctx context.Context, userID string) (*bankclient.UserInfo, error)
}

// BankRegistry resolves a connector by bank identifier.
type BankRegistry interface {
	Connector(bsimID string) (BankConnector, error)
}

// NewBankRegistry adapts the concrete client registry to the BankRegistry
// interface the sagas consume.
func NewBankRegistry(registry *bankclient.Registry) BankRegistry {
	return &bankRegistryAdapter{registry: registry}
}

type bankRegistryAdapter struct {
	registry *bankclient.Registry
}

func (a *bankRegistryAdapter) Connector(bsimID string) (BankConnector, error) {
	client, err := a.registry.Connector(bsimID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ProfileFetcher is the best-effort profile image collaborator boundary.
type ProfileFetcher interface {
	GetProfileImage(ctx context.Context, userID, bsimID string) (*string, error)
}

// Notifier delivers fire-and-forget webhook events.
type Notifier interface {
	Notify(event webhook.Event)
}

// IdempotencyReserver guards against concurrent duplicate settlement
// submissions before the database row exists. A nil reserver disables the
// fast-path guard; the unique constraint remains the backstop.
type IdempotencyReserver interface {
	Reserve(ctx context.Context, key string) (bool, error)
	// Release frees a claim that never produced a settlement row, so a retry
	// with the same key is not blocked until the claim's TTL expires.
	Release(ctx context.Context, key string) error
}

// Service provides the core business logic for transfer and settlement sagas.
type Service struct {
	repo            store.Repository
	banks           BankRegistry
	profiles        ProfileFetcher
	notifier        Notifier
	eventProducer   rabbitmq.Publisher
	idempotency     IdempotencyReserver
	maxAmount       int64
	defaultCurrency string
}

// NewService creates a new transfer service instance. profiles, notifier,
// eventProducer, and idempotency may be nil; the sagas degrade gracefully.
func NewService(
	repo store.Repository,
	banks BankRegistry,
	profiles ProfileFetcher,
	notifier Notifier,
	producer rabbitmq.Publisher,
	maxAmount int64,
	defaultCurrency string,
) *Service {
	return &Service{
		repo:            repo,
		banks:           banks,
		profiles:        profiles,
		notifier:        notifier,
		eventProducer:   producer,
		maxAmount:       maxAmount,
		defaultCurrency: defaultCurrency,
	}
}

// SetIdempotencyReserver installs the optional distributed settlement guard.
func (s *Service) SetIdempotencyReserver(reserver IdempotencyReserver) {
	s.idempotency = reserver
}

// upstreamErrorMessage extracts the bank-reported message from a connector
// error, falling back to the raw error text.
func upstreamErrorMessage(err error) string {
	var apiErr *bankclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// publishEvent emits a saga lifecycle event to the broker, best-effort.
func (s *Service) publishEvent(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=saga msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// notify fires a webhook event, tolerating a nil notifier.
func (s *Service) notify(event webhook.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(event)
}

// merchantFee computes the tiered flat fee for a merchant payment. The fee is
// informational; it is never deducted from the credited amount.
func merchantFee(amount int64) int64 {
	if amount < merchantFeeTierThresholdCents {
		return merchantFeeSmallCents
	}
	return merchantFeeLargeCents
}

// validateAmount applies the shared positive-and-bounded amount rule.
func (s *Service) validateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if s.maxAmount > 0 && amount > s.maxAmount {
		return ErrAmountExceedsLimit
	}
	return nil
}

// currencyOrDefault falls back to the configured currency code.
func (s *Service) currencyOrDefault(currency string) string {
	if currency == "" {
		return s.defaultCurrency
	}
	return currency
}
