// Package sheets defines the spreadsheet export port. The google
// subpackage implements it against the Sheets API.
package sheets

import (
	"context"

	"tally/internal/core"
)

// SnapshotWriter exports a ledger snapshot's expenses to an external
// spreadsheet, returning the number of rows written.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, snap core.Snapshot) (int, error)
}
