package store

import (
	"context"

	"tally/internal/core"
)

// Persister is the outbound port for snapshot persistence. Implementations
// store the full snapshot per user scope; the ledger saves after every
// mutation and loads once at open.
type Persister interface {
	// Load returns the stored snapshot for the user. found is false when
	// no snapshot exists yet.
	Load(ctx context.Context, userID string) (snap core.Snapshot, found bool, err error)

	// Save durably replaces the user's snapshot.
	Save(ctx context.Context, userID string, snap core.Snapshot) error
}
