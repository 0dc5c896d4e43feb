package bank

import (
	"context"

	"tally/internal/core"
)

type (
	// LinkSession is the ephemeral handshake token for the provider's
	// link UI. It is single-use and never persisted.
	LinkSession struct {
		Token string
	}

	// Credential is the result of exchanging a short-lived public token:
	// the durable access credential plus the provider's connection (item)
	// identifier.
	Credential struct {
		AccessToken string
		ItemID      string
	}

	// Account is the canonical account shape every provider adapter maps
	// into. The core never sees provider-specific field naming.
	Account struct {
		ID            string
		InstitutionID string
		Name          string
		Type          core.AccountType
		Balance       float64
		Currency      string
	}

	// ProviderTransaction is the canonical transaction shape returned by
	// an adapter. Amount keeps the provider's sign convention; the
	// reconciler normalizes it.
	ProviderTransaction struct {
		ExternalID   string
		AccountID    string
		Amount       float64
		Date         core.Date
		Name         string
		MerchantName string
		Category     string
		Pending      bool
	}

	// Institution is provider metadata about a financial institution.
	Institution struct {
		ID   string
		Name string
	}
)

// Provider is the outbound port to a bank aggregation service. Adapters
// wrap one concrete aggregator each and surface failures as
// core.ExternalServiceError so callers can tell transient from permanent.
type Provider interface {
	CreateLinkSession(ctx context.Context, userID string) (LinkSession, error)
	ExchangeCredential(ctx context.Context, publicToken string) (Credential, error)
	ListAccounts(ctx context.Context, accessToken string) ([]Account, error)
	ListTransactions(ctx context.Context, accessToken string, start, end core.Date) ([]ProviderTransaction, error)
	GetInstitution(ctx context.Context, institutionID string) (Institution, error)
	Revoke(ctx context.Context, accessToken string) error
}
