package amqp

import (
	"encoding/json"
	"time"
)

// SyncRequestMessage asks the worker to reconcile one user's bank
// connections. Dates are optional ISO "2006-01-02" bounds; when empty
// the worker falls back to its default window. The message carries no
// credentials, the worker resolves the access tokens from its own
// ledger.
type SyncRequestMessage struct {
	UserID    string    `json:"userId"`
	StartDate string    `json:"startDate,omitempty"`
	EndDate   string    `json:"endDate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSyncRequestMessage(userID, startDate, endDate string) *SyncRequestMessage {
	return &SyncRequestMessage{
		UserID:    userID,
		StartDate: startDate,
		EndDate:   endDate,
		Timestamp: time.Now(),
	}
}

func (m *SyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SyncRequestMessageFromJSON(data []byte) (*SyncRequestMessage, error) {
	var msg SyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
