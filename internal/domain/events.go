/**
 * @description
 * This file defines the outbound event payloads produced by the sagas: webhook
 * events delivered to subscriber endpoints and internal events published to the
 * message broker. Webhook payloads are enriched with display data so consumers
 * do not need to call back into the service.
 */

package domain

// Webhook / broker event types.
const (
	EventTransferCompleted   = "transfer.completed"
	EventSettlementCompleted = "settlement.completed"
	EventSettlementFailed    = "settlement.failed"
)

// TransferCompletedEvent is the payload of the `transfer.completed` webhook.
// The transfer's public id doubles as the delivery idempotency key.
type TransferCompletedEvent struct {
	EventID           string  `json:"event_id"`
	TransferID        string  `json:"transfer_id"`
	Amount            int64   `json:"amount"`
	Currency          string  `json:"currency"`
	CrossBank         bool    `json:"cross_bank"`
	SenderName        string  `json:"sender_name,omitempty"`
	SenderBankName    string  `json:"sender_bank_name,omitempty"`
	SenderImageURL    *string `json:"sender_image_url,omitempty"`
	RecipientName     string  `json:"recipient_name,omitempty"`
	RecipientAlias    string  `json:"recipient_alias"`
	RecipientBankName string  `json:"recipient_bank_name,omitempty"`
	RecipientImageURL *string `json:"recipient_image_url,omitempty"`
	RecipientCategory string  `json:"recipient_category"`
	MerchantName      string  `json:"merchant_name,omitempty"`
}

// SettlementEvent is the payload of the `settlement.completed` and
// `settlement.failed` webhooks.
type SettlementEvent struct {
	EventID      string  `json:"event_id"`
	ContractID   string  `json:"contract_id"`
	SettlementID string  `json:"settlement_id"`
	TransferID   *string `json:"transfer_id,omitempty"`
	Amount       int64   `json:"amount"`
	Currency     string  `json:"currency"`
	FromWalletID string  `json:"from_wallet_id"`
	ToWalletID   string  `json:"to_wallet_id"`
	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}
