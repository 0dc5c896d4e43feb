// Package sandbox is a deterministic offline bank aggregator used for
// local development and tests. It mimics one institution with a single
// checking account and a fixed transaction feed, using the expense-side
// negative sign convention real aggregators use.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tally/internal/bank"
	"tally/internal/core"
)

const (
	InstitutionID   = "sandbox-bank"
	InstitutionName = "Sandbox Bank"
	AccountID       = "sandbox-checking"

	accessToken = "sandbox-access-token"
)

type Provider struct {
	mu      sync.Mutex
	revoked map[string]bool
	// extra transactions appended by tests via AddTransaction
	extra []bank.ProviderTransaction
}

var _ bank.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{revoked: make(map[string]bool)}
}

func (p *Provider) CreateLinkSession(_ context.Context, userID string) (bank.LinkSession, error) {
	return bank.LinkSession{Token: "sandbox-link-" + userID}, nil
}

func (p *Provider) ExchangeCredential(_ context.Context, publicToken string) (bank.Credential, error) {
	if publicToken == "" {
		return bank.Credential{}, &core.ExternalServiceError{
			Op:  "exchange",
			Err: errors.New("empty public token"),
		}
	}
	return bank.Credential{
		AccessToken: accessToken,
		ItemID:      "sandbox-item",
	}, nil
}

func (p *Provider) ListAccounts(_ context.Context, token string) ([]bank.Account, error) {
	if err := p.checkToken("accounts", token); err != nil {
		return nil, err
	}
	return []bank.Account{{
		ID:            AccountID,
		InstitutionID: InstitutionID,
		Name:          "Checking",
		Type:          core.AccountChecking,
		Balance:       1000,
		Currency:      "USD",
	}}, nil
}

func (p *Provider) ListTransactions(_ context.Context, token string, start, end core.Date) ([]bank.ProviderTransaction, error) {
	if err := p.checkToken("transactions", token); err != nil {
		return nil, err
	}

	p.mu.Lock()
	extra := append([]bank.ProviderTransaction(nil), p.extra...)
	p.mu.Unlock()

	feed := append(cannedFeed(end), extra...)
	var out []bank.ProviderTransaction
	for _, tx := range feed {
		t := tx.Date.Time
		if !t.Before(start.Time) && !t.After(end.Time) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (p *Provider) GetInstitution(_ context.Context, institutionID string) (bank.Institution, error) {
	if institutionID != InstitutionID {
		return bank.Institution{}, &core.ExternalServiceError{
			Op:  "institution",
			Err: fmt.Errorf("unknown institution %q", institutionID),
		}
	}
	return bank.Institution{ID: InstitutionID, Name: InstitutionName}, nil
}

func (p *Provider) Revoke(_ context.Context, token string) error {
	if err := p.checkToken("revoke", token); err != nil {
		return err
	}
	p.mu.Lock()
	p.revoked[token] = true
	p.mu.Unlock()
	return nil
}

// AddTransaction appends a transaction to the feed, for tests and demos.
func (p *Provider) AddTransaction(tx bank.ProviderTransaction) {
	p.mu.Lock()
	p.extra = append(p.extra, tx)
	p.mu.Unlock()
}

func (p *Provider) checkToken(op, token string) error {
	p.mu.Lock()
	revoked := p.revoked[token]
	p.mu.Unlock()

	if token != accessToken || revoked {
		return &core.ExternalServiceError{
			Op:  op,
			Err: errors.New("invalid or revoked access token"),
		}
	}
	return nil
}

// cannedFeed anchors a small deterministic feed to the window end so the
// sandbox always has recent data.
func cannedFeed(end core.Date) []bank.ProviderTransaction {
	day := func(n int) core.Date {
		return core.Date{Time: end.AddDate(0, 0, -n)}
	}
	return []bank.ProviderTransaction{
		{ExternalID: "sandbox-tx-001", AccountID: AccountID, Amount: -15.50, Date: day(1), Name: "STARBUCKS STORE 1234", MerchantName: "Starbucks", Pending: false},
		{ExternalID: "sandbox-tx-002", AccountID: AccountID, Amount: -42.10, Date: day(3), Name: "UBER TRIP", MerchantName: "Uber", Pending: false},
		{ExternalID: "sandbox-tx-003", AccountID: AccountID, Amount: -120.00, Date: day(7), Name: "CITY ELECTRIC UTILITY", Pending: false},
		{ExternalID: "sandbox-tx-004", AccountID: AccountID, Amount: -8.99, Date: day(0), Name: "NETFLIX.COM", MerchantName: "Netflix", Pending: true},
	}
}
