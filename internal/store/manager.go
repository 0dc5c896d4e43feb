package store

import (
	"context"
	"sync"
)

// Manager hands out one Ledger per user identity, opening and caching it
// on first use. User identity is an opaque scope key resolved by the
// caller's authenticator.
type Manager struct {
	mu      sync.Mutex
	persist Persister
	ledgers map[string]*Ledger
}

func NewManager(persist Persister) *Manager {
	return &Manager{
		persist: persist,
		ledgers: make(map[string]*Ledger),
	}
}

// Ledger returns the user's ledger, loading it from the persister when it
// is not open yet.
func (m *Manager) Ledger(ctx context.Context, userID string) (*Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.ledgers[userID]; ok {
		return l, nil
	}

	l, err := Open(ctx, userID, m.persist)
	if err != nil {
		return nil, err
	}
	m.ledgers[userID] = l
	return l, nil
}

// Users lists the user scopes with an open ledger.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.ledgers))
	for id := range m.ledgers {
		out = append(out, id)
	}
	return out
}
