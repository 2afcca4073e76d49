package amqp

import (
	"encoding/json"
	"time"
)

// Reasons an account check is requested.
const (
	ReasonCreated       = "transaction_created"
	ReasonUpdated       = "transaction_updated"
	ReasonDeleted       = "transaction_deleted"
	ReasonPartialWrite  = "partial_write"
	ReasonManualRequest = "manual_request"
)

// AccountCheckMessage asks the reconcile worker to verify that the cached
// balance of each listed account still matches the sum of its live
// transactions. Only identifiers travel on the wire; the worker reads the
// authoritative rows from storage.
type AccountCheckMessage struct {
	UserID        string    `json:"user_id"`
	AccountIDs    []string  `json:"account_ids"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewAccountCheckMessage(userID string, accountIDs []string, transactionID, reason string) *AccountCheckMessage {
	return &AccountCheckMessage{
		UserID:        userID,
		AccountIDs:    accountIDs,
		TransactionID: transactionID,
		Reason:        reason,
		Timestamp:     time.Now(),
	}
}

func (m *AccountCheckMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AccountCheckMessageFromJSON(data []byte) (*AccountCheckMessage, error) {
	var msg AccountCheckMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
