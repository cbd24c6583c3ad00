package domain

// BankConnection is a static registry entry describing how to reach one BSIM
// (bank simulator) backend. Connections are loaded once at startup and are
// read-only for the lifetime of the process.
type BankConnection struct {
	BsimID                    string `json:"bsim_id"`
	BaseURL                   string `json:"base_url"`
	APIKey                    string `json:"-"`
	Active                    bool   `json:"active"`
	SupportsInstantTransfer   bool   `json:"supports_instant_transfer"`
	SupportsPaymentInitiation bool   `json:"supports_payment_initiation"`
}
