/**
 * @description
 * This file provides the connection registry mapping bank identifiers to their
 * clients. The registry is constructed once at startup from the bank_connections
 * table and passed explicitly into the sagas, so there is no lazily-built shared
 * mutable client state.
 */
package bankclient

import (
	"errors"

	"github.com/interpay/transfer-service/internal/domain"
)

// ErrBankNotConfigured is returned when no active connection exists for a bank id.
var ErrBankNotConfigured = errors.New("bank connection not configured")

// Registry holds one client per active bank connection.
type Registry struct {
	clients map[string]*Client
}

// NewRegistry builds a registry from static bank connection entries. Inactive
// connections are skipped, so looking them up later fails the same way as a
// missing entry.
func NewRegistry(connections []domain.BankConnection) *Registry {
	clients := make(map[string]*Client, len(connections))
	for _, conn := range connections {
		if !conn.Active {
			continue
		}
		clients[conn.BsimID] = NewClient(conn.BsimID, conn.BaseURL, conn.APIKey)
	}
	return &Registry{clients: clients}
}

// Connector returns the client for a bank id, or ErrBankNotConfigured.
func (r *Registry) Connector(bsimID string) (*Client, error) {
	client, ok := r.clients[bsimID]
	if !ok {
		return nil, ErrBankNotConfigured
	}
	return client, nil
}

// Size returns the number of active connections, for startup logging.
func (r *Registry) Size() int {
	return len(r.clients)
}
