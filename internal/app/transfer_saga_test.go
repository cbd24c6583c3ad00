package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/interpay/transfer-service/internal/domain"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/pkg/bankclient"
	"github.com/interpay/transfer-service/pkg/webhook"
)

type sagaRepoStub struct {
	store.Repository

	alias    *domain.ResolvedAlias
	aliasErr error
	merchant *domain.Merchant

	// status mirrors the persisted row's status column so the stub can apply
	// the same check-and-set guards the SQL implementation uses. An empty
	// status matches any expected prior state.
	status        domain.TransferStatus
	statusHistory []domain.TransferStatus
	lastMessage   string

	onAliasLookup func()

	recipientParams *store.SetTransferRecipientParams
	debitTxID       string
	creditTxID      string
	completedCalled bool
	statsCalled     bool
	createdTransfer *domain.Transfer
}

func (s *sagaRepoStub) transition(from, to domain.TransferStatus) error {
	if s.status != "" && s.status != from {
		return store.ErrTransferStateConflict
	}
	s.status = to
	s.statusHistory = append(s.statusHistory, to)
	return nil
}

func (s *sagaRepoStub) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	s.createdTransfer = t
	s.status = t.Status
	return nil
}

func (s *sagaRepoStub) UpdateTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, message string) error {
	if err := s.transition(from, to); err != nil {
		return err
	}
	s.lastMessage = message
	return nil
}

func (s *sagaRepoStub) SetTransferRecipient(ctx context.Context, id uuid.UUID, params store.SetTransferRecipientParams) error {
	if s.status != "" && s.status != domain.TransferStatusPending && s.status != domain.TransferStatusResolving {
		return store.ErrTransferStateConflict
	}
	s.recipientParams = &params
	s.status = domain.TransferStatusDebiting
	s.statusHistory = append(s.statusHistory, domain.TransferStatusDebiting)
	return nil
}

func (s *sagaRepoStub) SetTransferDebited(ctx context.Context, id uuid.UUID, debitTransactionID string) error {
	if err := s.transition(domain.TransferStatusDebiting, domain.TransferStatusCrediting); err != nil {
		return err
	}
	s.debitTxID = debitTransactionID
	return nil
}

func (s *sagaRepoStub) CompleteTransfer(ctx context.Context, id uuid.UUID, creditTransactionID string, completedAt time.Time) error {
	if err := s.transition(domain.TransferStatusCrediting, domain.TransferStatusCompleted); err != nil {
		return err
	}
	s.creditTxID = creditTransactionID
	s.completedCalled = true
	return nil
}

func (s *sagaRepoStub) SetTransferProfileImages(ctx context.Context, id uuid.UUID, senderImageURL, recipientImageURL *string) error {
	return nil
}

func (s *sagaRepoStub) FindVerifiedAlias(ctx context.Context, aliasType domain.AliasType, normalizedValue string) (*domain.ResolvedAlias, error) {
	if s.onAliasLookup != nil {
		s.onAliasLookup()
	}
	if s.aliasErr != nil {
		return nil, s.aliasErr
	}
	if s.alias == nil {
		return nil, store.ErrAliasNotFound
	}
	return s.alias, nil
}

func (s *sagaRepoStub) FindActiveMerchant(ctx context.Context, userID, bsimID string) (*domain.Merchant, error) {
	if s.merchant == nil {
		return nil, store.ErrMerchantNotFound
	}
	return s.merchant, nil
}

func (s *sagaRepoStub) IncrementMerchantStats(ctx context.Context, merchantID uuid.UUID, amount, feeAmount int64) error {
	s.statsCalled = true
	return nil
}

func (s *sagaRepoStub) lastStatus() domain.TransferStatus {
	if len(s.statusHistory) == 0 {
		return ""
	}
	return s.statusHistory[len(s.statusHistory)-1]
}

// fakeConnector scripts one bank's debit/credit behavior.
type fakeConnector struct {
	debitErr  error
	creditErr error
	escrowErr error

	debitCalls  int
	creditCalls int
	escrowCalls int
}

func (f *fakeConnector) Debit(ctx context.Context, userID, accountID string, amount int64, currency, referenceID, description string) (*bankclient.OperationResult, error) {
	f.debitCalls++
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	return &bankclient.OperationResult{TransactionID: fmt.Sprintf("DBT-%d", f.debitCalls)}, nil
}

func (f *fakeConnector) Credit(ctx context.Context, userID, accountID string, amount int64, currency, referenceID, description string) (*bankclient.OperationResult, error) {
	f.creditCalls++
	if f.creditErr != nil {
		return nil, f.creditErr
	}
	return &bankclient.OperationResult{TransactionID: fmt.Sprintf("CRD-%d", f.creditCalls)}, nil
}

func (f *fakeConnector) EscrowRelease(ctx context.Context, escrowID, contractID, referenceID, reason string) (*bankclient.OperationResult, error) {
	f.escrowCalls++
	if f.escrowErr != nil {
		return nil, f.escrowErr
	}
	return &bankclient.OperationResult{TransactionID: fmt.Sprintf("ESC-%d", f.escrowCalls)}, nil
}

func (f *fakeConnector) VerifyUser(ctx context.Context, userID string) (*bankclient.UserInfo, error) {
	return &bankclient.UserInfo{UserID: userID, DisplayName: "User " + userID}, nil
}

type fakeRegistry struct {
	connectors map[string]*fakeConnector
}

func (f *fakeRegistry) Connector(bsimID string) (BankConnector, error) {
	conn, ok := f.connectors[bsimID]
	if !ok {
		return nil, bankclient.ErrBankNotConfigured
	}
	return conn, nil
}

type capturingNotifier struct {
	events []webhook.Event
}

func (c *capturingNotifier) Notify(event webhook.Event) {
	c.events = append(c.events, event)
}

func newSagaTransfer(status domain.TransferStatus) *domain.Transfer {
	now := time.Now().UTC()
	return &domain.Transfer{
		ID:                 uuid.New(),
		TransferID:         domain.NewTransferID(),
		SenderUserID:       "user-1",
		SenderBsimID:       "bsim-a",
		SenderAccountID:    "acct-1",
		RecipientAlias:     "alice@example.com",
		RecipientAliasType: domain.AliasTypeEmail,
		Amount:             5000,
		Currency:           "CAD",
		Type:               domain.TransferTypeP2P,
		RecipientCategory:  domain.RecipientCategoryIndividual,
		Status:             status,
		CreatedAt:          now,
		ExpiresAt:          now.Add(24 * time.Hour),
	}
}

func newSagaService(repo *sagaRepoStub, registry *fakeRegistry, notifier *capturingNotifier) *Service {
	return NewService(repo, registry, nil, notifier, nil, 1000000, "CAD")
}

func TestRunTransferSaga_CompletesCrossBank(t *testing.T) {
	repo := &sagaRepoStub{
		alias: &domain.ResolvedAlias{UserID: "user-2", BsimID: "bsim-b", AccountID: "acct-2"},
	}
	senderBank := &fakeConnector{}
	recipientBank := &fakeConnector{}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{
		"bsim-a": senderBank,
		"bsim-b": recipientBank,
	}}
	notifier := &capturingNotifier{}
	svc := newSagaService(repo, registry, notifier)

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	if transfer.Status != domain.TransferStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", transfer.Status, transfer.StatusMessage)
	}
	if senderBank.debitCalls != 1 || senderBank.creditCalls != 0 {
		t.Fatalf("expected the sender bank to only debit, got debits=%d credits=%d", senderBank.debitCalls, senderBank.creditCalls)
	}
	if recipientBank.creditCalls != 1 || recipientBank.debitCalls != 0 {
		t.Fatalf("expected the recipient bank to only credit, got debits=%d credits=%d", recipientBank.debitCalls, recipientBank.creditCalls)
	}
	if repo.debitTxID == "" || repo.creditTxID == "" {
		t.Fatalf("expected both transaction ids persisted, got debit=%q credit=%q", repo.debitTxID, repo.creditTxID)
	}
	if !repo.completedCalled {
		t.Fatal("expected the completion to be persisted")
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != domain.EventTransferCompleted {
		t.Fatalf("expected one transfer.completed webhook, got %+v", notifier.events)
	}
	if notifier.events[0].IdempotencyKey != transfer.TransferID {
		t.Fatalf("expected webhook idempotency key %q, got %q", transfer.TransferID, notifier.events[0].IdempotencyKey)
	}
}

func TestRunTransferSaga_SameBankUsesOneConnector(t *testing.T) {
	repo := &sagaRepoStub{
		alias: &domain.ResolvedAlias{UserID: "user-2", BsimID: "bsim-a", AccountID: "acct-2"},
	}
	bank := &fakeConnector{}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{"bsim-a": bank}}
	svc := newSagaService(repo, registry, &capturingNotifier{})

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	if transfer.Status != domain.TransferStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", transfer.Status, transfer.StatusMessage)
	}
	if bank.debitCalls != 1 || bank.creditCalls != 1 {
		t.Fatalf("expected the single bank to handle both legs, got debits=%d credits=%d", bank.debitCalls, bank.creditCalls)
	}
}

func TestRunTransferSaga_RecipientNotFound(t *testing.T) {
	repo := &sagaRepoStub{}
	bank := &fakeConnector{}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{"bsim-a": bank}}
	svc := newSagaService(repo, registry, &capturingNotifier{})

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	if transfer.Status != domain.TransferStatusRecipientNotFound {
		t.Fatalf("expected RECIPIENT_NOT_FOUND, got %s", transfer.Status)
	}
	if bank.debitCalls != 0 {
		t.Fatalf("expected no debit for an unresolved recipient, got %d", bank.debitCalls)
	}
}

func TestRunTransferSaga_ResolutionInfraErrorLeavesResolving(t *testing.T) {
	repo := &sagaRepoStub{aliasErr: errors.New("alias store unreachable")}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{"bsim-a": {}}}
	svc := newSagaService(repo, registry, &capturingNotifier{})

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	// An infrastructure failure must not be reported as a missing recipient;
	// the record stays in RESOLVING for the expiry sweeper.
	if repo.lastStatus() != domain.TransferStatusResolving {
		t.Fatalf("expected the last persisted status to be RESOLVING, got %s", repo.lastStatus())
	}
}

func TestRunTransferSaga_CancelDuringResolutionStopsMoneyMovement(t *testing.T) {
	repo := &sagaRepoStub{
		alias: &domain.ResolvedAlias{UserID: "user-2", BsimID: "bsim-b", AccountID: "acct-2"},
	}
	// A cancellation lands while the saga is blocked on the alias lookup. The
	// guarded cancel succeeds against the RESOLVING row; every later saga
	// write must then miss its expected prior status and abort.
	repo.onAliasLookup = func() {
		repo.status = domain.TransferStatusCancelled
		repo.statusHistory = append(repo.statusHistory, domain.TransferStatusCancelled)
	}
	senderBank := &fakeConnector{}
	recipientBank := &fakeConnector{}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{
		"bsim-a": senderBank,
		"bsim-b": recipientBank,
	}}
	notifier := &capturingNotifier{}
	svc := newSagaService(repo, registry, notifier)

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	if senderBank.debitCalls != 0 || recipientBank.creditCalls != 0 {
		t.Fatalf("expected no money movement after cancellation, got debits=%d credits=%d",
			senderBank.debitCalls, recipientBank.creditCalls)
	}
	if repo.status != domain.TransferStatusCancelled {
		t.Fatalf("expected the cancellation to stand, got %s", repo.status)
	}
	for i, status := range repo.statusHistory {
		if status == domain.TransferStatusCancelled && i != len(repo.statusHistory)-1 {
			t.Fatalf("expected CANCELLED to be the final persisted status, got history %v", repo.statusHistory)
		}
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no webhook for a cancelled transfer, got %+v", notifier.events)
	}
}

func TestRunTransferSaga_SelfTransferRejected(t *testing.T) {
	repo := &sagaRepoStub{
		alias: &domain.ResolvedAlias{UserID: "user-1", BsimID: "bsim-a", AccountID: "acct-1"},
	}
	bank := &fakeConnector{}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{"bsim-a": bank}}
	svc := newSagaService(repo, registry, &capturingNotifier{})

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	if transfer.Status != domain.TransferStatusDebitFailed {
		t.Fatalf("expected DEBIT_FAILED for a self transfer, got %s", transfer.Status)
	}
	if bank.debitCalls != 0 {
		t.Fatal("expected no money movement for a self transfer")
	}
}

func TestRunTransferSaga_DebitFailure(t *testing.T) {
	repo := &sagaRepoStub{
		alias: &domain.ResolvedAlias{UserID: "user-2", BsimID: "bsim-a", AccountID: "acct-2"},
	}
	bank := &fakeConnector{
		debitErr: &bankclient.APIError{StatusCode: 422, Code: "INSUFFICIENT_FUNDS", Message: "Insufficient funds"},
	}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{"bsim-a": bank}}
	notifier := &capturingNotifier{}
	svc := newSagaService(repo, registry, notifier)

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	if transfer.Status != domain.TransferStatusDebitFailed {
		t.Fatalf("expected DEBIT_FAILED, got %s", transfer.Status)
	}
	if bank.creditCalls != 0 {
		t.Fatal("expected no credit after a failed debit")
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no completion webhook for a failed transfer, got %+v", notifier.events)
	}
}

func TestRunTransferSaga_CreditFailureKeepsDebitRecord(t *testing.T) {
	repo := &sagaRepoStub{
		alias: &domain.ResolvedAlias{UserID: "user-2", BsimID: "bsim-b", AccountID: "acct-2"},
	}
	senderBank := &fakeConnector{}
	recipientBank := &fakeConnector{
		creditErr: &bankclient.APIError{StatusCode: 503, Code: "BANK_DOWN", Message: "temporarily unavailable"},
	}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{
		"bsim-a": senderBank,
		"bsim-b": recipientBank,
	}}
	svc := newSagaService(repo, registry, &capturingNotifier{})

	transfer := newSagaTransfer(domain.TransferStatusPending)
	svc.runTransferSaga(context.Background(), transfer)

	if transfer.Status != domain.TransferStatusCreditFailed {
		t.Fatalf("expected CREDIT_FAILED, got %s", transfer.Status)
	}
	if repo.debitTxID == "" {
		t.Fatal("expected the debit transaction id to be persisted before the credit attempt")
	}
	if senderBank.debitCalls != 1 {
		t.Fatalf("expected exactly one debit, got %d", senderBank.debitCalls)
	}
	if !transfer.Status.IsTerminal() {
		t.Fatal("expected CREDIT_FAILED to be terminal; no automatic reversal exists")
	}
}

func TestRunTransferSaga_MerchantClassification(t *testing.T) {
	merchant := &domain.Merchant{
		ID:           uuid.New(),
		UserID:       "user-2",
		BsimID:       "bsim-a",
		BusinessName: "Corner Cafe",
	}
	repo := &sagaRepoStub{
		alias:    &domain.ResolvedAlias{UserID: "user-2", BsimID: "bsim-a", AccountID: "acct-2"},
		merchant: merchant,
	}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{"bsim-a": {}}}
	svc := newSagaService(repo, registry, &capturingNotifier{})

	transfer := newSagaTransfer(domain.TransferStatusPending)
	transfer.Amount = 1500
	svc.runTransferSaga(context.Background(), transfer)

	if transfer.Status != domain.TransferStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", transfer.Status, transfer.StatusMessage)
	}
	if repo.recipientParams == nil {
		t.Fatal("expected the recipient to be persisted")
	}
	if repo.recipientParams.Type != domain.TransferTypeMerchant {
		t.Fatalf("expected MERCHANT type, got %s", repo.recipientParams.Type)
	}
	if repo.recipientParams.RecipientCategory != domain.RecipientCategoryMicroMerchant {
		t.Fatalf("expected MICRO_MERCHANT category, got %s", repo.recipientParams.RecipientCategory)
	}
	if repo.recipientParams.FeeAmount != 25 {
		t.Fatalf("expected the small-tier fee of 25, got %d", repo.recipientParams.FeeAmount)
	}
	if !repo.statsCalled {
		t.Fatal("expected merchant statistics to be updated after completion")
	}
}

func TestMerchantFeeTiers(t *testing.T) {
	if fee := merchantFee(19999); fee != 25 {
		t.Fatalf("expected 25 below the threshold, got %d", fee)
	}
	if fee := merchantFee(20000); fee != 50 {
		t.Fatalf("expected 50 at the threshold, got %d", fee)
	}
}

func TestCreateTransferValidation(t *testing.T) {
	repo := &sagaRepoStub{}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{}}
	svc := newSagaService(repo, registry, &capturingNotifier{})
	sender := Sender{UserID: "user-1", BsimID: "bsim-a", AccountID: "acct-1"}

	_, err := svc.CreateTransfer(context.Background(), sender, domain.CreateTransferRequest{
		RecipientAlias: "alice@example.com",
		Amount:         0,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	_, err = svc.CreateTransfer(context.Background(), sender, domain.CreateTransferRequest{
		RecipientAlias: "alice@example.com",
		Amount:         2000000,
	})
	if !errors.Is(err, ErrAmountExceedsLimit) {
		t.Fatalf("expected ErrAmountExceedsLimit, got %v", err)
	}

	_, err = svc.CreateTransfer(context.Background(), sender, domain.CreateTransferRequest{
		RecipientAlias: "alice",
		Amount:         1000,
	})
	if !errors.Is(err, ErrAliasTypeUnknown) {
		t.Fatalf("expected ErrAliasTypeUnknown, got %v", err)
	}
}

func TestCreateTransferReturnsPendingImmediately(t *testing.T) {
	repo := &sagaRepoStub{
		alias: &domain.ResolvedAlias{UserID: "user-2", BsimID: "bsim-a", AccountID: "acct-2"},
	}
	registry := &fakeRegistry{connectors: map[string]*fakeConnector{"bsim-a": {}}}
	svc := newSagaService(repo, registry, &capturingNotifier{})
	sender := Sender{UserID: "user-1", BsimID: "bsim-a", AccountID: "acct-1"}

	transfer, err := svc.CreateTransfer(context.Background(), sender, domain.CreateTransferRequest{
		RecipientAlias: "alice@example.com",
		Amount:         1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfer.Status != domain.TransferStatusPending {
		t.Fatalf("expected the creation response to be PENDING, got %s", transfer.Status)
	}
	if transfer.TransferID == "" || transfer.Currency != "CAD" {
		t.Fatalf("expected a public id and the default currency, got id=%q currency=%q", transfer.TransferID, transfer.Currency)
	}
	if repo.createdTransfer == nil {
		t.Fatal("expected the PENDING record to be persisted before returning")
	}
	if got := transfer.ExpiresAt.Sub(transfer.CreatedAt); got != 24*time.Hour {
		t.Fatalf("expected a 24h expiry window, got %s", got)
	}
}
