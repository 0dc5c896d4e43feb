package core

import "time"

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCredit   AccountType = "credit"
)

type (
	AccountType string

	// BankAccount is embedded in a BankConnection. The ID is the
	// provider's external account identifier.
	BankAccount struct {
		ID              string
		InstitutionID   string
		InstitutionName string
		AccountName     string
		AccountType     AccountType
		Balance         float64
		Currency        string
		LastSync        time.Time
		IsActive        bool
	}

	// BankConnection is one linked institution credential. AccessToken is
	// the durable provider credential; it stays inside the reconciler and
	// the backing store and is never exposed to the presentation layer.
	BankConnection struct {
		ID              string
		AccessToken     string
		ItemID          string // provider connection identifier, unique across the store
		InstitutionID   string
		InstitutionName string
		Accounts        []BankAccount
		CreatedAt       time.Time
		LastSync        time.Time
	}

	// Transaction is an externally sourced expense candidate. ExternalID
	// is the provider's transaction identifier and the dedup key; the
	// amount is always a positive magnitude.
	Transaction struct {
		ID               string
		ExternalID       string
		BankConnectionID string
		AccountID        string
		Amount           float64
		Date             Date
		Name             string
		MerchantName     string
		Category         string
		Pending          bool
		Synced           bool
		CreatedAt        time.Time
	}
)

// Clone returns a copy that does not alias the accounts slice.
func (bc BankConnection) Clone() BankConnection {
	out := bc
	out.Accounts = append([]BankAccount(nil), bc.Accounts...)
	return out
}
