/**
 * @description
 * This package provides a client for a single BSIM (bank simulator) backend.
 * It encapsulates the logic for making authenticated HTTP requests to a bank's
 * debit, credit, escrow-release, and user-verification endpoints, handling
 * request body construction and response parsing.
 *
 * Every money-movement call is tagged with a caller-supplied reference id; the
 * bank backend is expected to provide idempotency keyed on that reference.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log, net/http, time: Standard Go libraries.
 */
package bankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a client for one bank backend.
type Client struct {
	BsimID     string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new bank client.
func NewClient(bsimID, baseURL, apiKey string) *Client {
	return &Client{
		BsimID:  bsimID,
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// OperationResult is the uniform success result of a bank operation, carrying
// the external transaction reference assigned by the bank.
type OperationResult struct {
	TransactionID string `json:"transaction_id"`
}

// APIError represents a failure reported by a bank backend.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bank api error: %s - %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bank api error (status %d)", e.StatusCode)
}

type debitRequest struct {
	UserID      string `json:"user_id"`
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description,omitempty"`
}

type creditRequest struct {
	UserID      string  `json:"user_id"`
	AccountID   *string `json:"account_id,omitempty"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	ReferenceID string  `json:"reference_id"`
	Description string  `json:"description,omitempty"`
}

type escrowReleaseRequest struct {
	EscrowID    string `json:"escrow_id"`
	ContractID  string `json:"contract_id"`
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason,omitempty"`
}

// UserInfo is the result of a user existence lookup, used for notification
// enrichment rather than correctness gating.
type UserInfo struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Debit withdraws funds from an account at this bank.
func (c *Client) Debit(ctx context.Context, userID, accountID string, amount int64, currency, referenceID, description string) (*OperationResult, error) {
	payload := debitRequest{
		UserID:      userID,
		AccountID:   accountID,
		Amount:      amount,
		Currency:    currency,
		ReferenceID: referenceID,
		Description: description,
	}
	return c.doOperation(ctx, "/api/v1/transactions/debit", payload)
}

// Credit deposits funds to an account at this bank. An empty accountID lets the
// bank route to the recipient's default account.
func (c *Client) Credit(ctx context.Context, userID, accountID string, amount int64, currency, referenceID, description string) (*OperationResult, error) {
	payload := creditRequest{
		UserID:      userID,
		Amount:      amount,
		Currency:    currency,
		ReferenceID: referenceID,
		Description: description,
	}
	if accountID != "" {
		payload.AccountID = &accountID
	}
	return c.doOperation(ctx, "/api/v1/transactions/credit", payload)
}

// EscrowRelease deducts funds from an escrow holding at this bank. It does not
// credit anyone; the caller must pair it with a separate credit.
func (c *Client) EscrowRelease(ctx context.Context, escrowID, contractID, referenceID, reason string) (*OperationResult, error) {
	payload := escrowReleaseRequest{
		EscrowID:    escrowID,
		ContractID:  contractID,
		ReferenceID: referenceID,
		Reason:      reason,
	}
	return c.doOperation(ctx, "/api/v1/escrow/release", payload)
}

// VerifyUser checks that a user exists at this bank and returns their display name.
func (c *Client) VerifyUser(ctx context.Context, userID string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/users/"+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user verify request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-BSIM-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute user verify request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user verify response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp.StatusCode, bodyBytes, "verify_user")
	}

	var info UserInfo
	if err := json.Unmarshal(bodyBytes, &info); err != nil {
		return nil, fmt.Errorf("failed to decode user verify response: %w", err)
	}
	return &info, nil
}

// doOperation is a generic helper executing POST money-movement requests.
func (c *Client) doOperation(ctx context.Context, path string, payload interface{}) (*OperationResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create bank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-BSIM-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute bank request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp.StatusCode, bodyBytes, path)
	}

	var result OperationResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode bank response: %w", err)
	}
	return &result, nil
}

func (c *Client) decodeError(statusCode int, body []byte, op string) error {
	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		log.Printf("level=warn component=bank_client bsim_id=%s op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", c.BsimID, op, statusCode)
		apiErr.Code = "UPSTREAM_ERROR"
		apiErr.Message = fmt.Sprintf("bank returned status %d", statusCode)
		return apiErr
	}
	log.Printf("level=warn component=bank_client bsim_id=%s op=%s status=%d code=%q msg=%q", c.BsimID, op, statusCode, apiErr.Code, apiErr.Message)
	return apiErr
}
