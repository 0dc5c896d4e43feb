package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/amqp"
	"tally/internal/bank"
	"tally/internal/core"
	"tally/internal/store"
)

// SyncWorker drives bank reconciliation for user ledgers. It reacts to
// sync request messages and additionally runs a periodic pass over
// every known ledger as a backup in case messages are lost.
type SyncWorker struct {
	manager    *store.Manager
	reconciler *bank.Reconciler
	interval   time.Duration
}

func NewSyncWorker(manager *store.Manager, reconciler *bank.Reconciler, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		manager:    manager,
		reconciler: reconciler,
		interval:   interval,
	}
}

// HandleSyncRequest processes a single sync request message. A
// transient provider failure is returned to the caller so the message
// gets requeued; permanent failures are logged and swallowed because
// requeueing would never help them.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequestMessage) error {
	slog.InfoContext(ctx, "Processing sync request",
		"user_id", msg.UserID,
		"start", msg.StartDate,
		"end", msg.EndDate)

	start, end, err := parseWindow(msg.StartDate, msg.EndDate)
	if err != nil {
		// A malformed window never becomes valid on retry.
		slog.ErrorContext(ctx, "Dropping sync request with invalid window",
			"user_id", msg.UserID, "error", err)
		return nil
	}

	ledger, err := w.manager.Ledger(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("open ledger for %s: %w", msg.UserID, err)
	}

	report := w.reconciler.SyncAll(ctx, ledger, start, end)
	slog.InfoContext(ctx, "Sync request completed",
		"user_id", msg.UserID,
		"imported", report.Imported,
		"synced", report.Synced,
		"failed", len(report.Failed))

	var transient error
	for connID, failure := range report.Failed {
		if bank.IsTransient(failure) {
			transient = fmt.Errorf("sync connection %s: %w", connID, failure)
			continue
		}
		slog.ErrorContext(ctx, "Connection sync failed permanently",
			"user_id", msg.UserID,
			"connection_id", connID,
			"error", failure)
	}
	return transient
}

// RunPeriodic syncs every known ledger on a fixed interval until ctx is
// cancelled. Failures are logged per connection and never stop the
// loop.
func (w *SyncWorker) RunPeriodic(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "Periodic sync started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Periodic sync stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			w.syncAllUsers(ctx)
		}
	}
}

func (w *SyncWorker) syncAllUsers(ctx context.Context) {
	for _, userID := range w.manager.Users() {
		ledger, err := w.manager.Ledger(ctx, userID)
		if err != nil {
			slog.ErrorContext(ctx, "Skipping user in periodic sync",
				"user_id", userID, "error", err)
			continue
		}

		report := w.reconciler.SyncAll(ctx, ledger, core.Date{}, core.Date{})
		for connID, failure := range report.Failed {
			slog.ErrorContext(ctx, "Periodic sync failure",
				"user_id", userID,
				"connection_id", connID,
				"error", failure)
		}
		if report.Imported > 0 {
			slog.InfoContext(ctx, "Periodic sync imported transactions",
				"user_id", userID,
				"imported", report.Imported)
		}
	}
}

func parseWindow(startDate, endDate string) (core.Date, core.Date, error) {
	var start, end core.Date
	var err error
	if startDate != "" {
		if start, err = core.ParseDate(startDate); err != nil {
			return core.Date{}, core.Date{}, fmt.Errorf("start date: %w", err)
		}
	}
	if endDate != "" {
		if end, err = core.ParseDate(endDate); err != nil {
			return core.Date{}, core.Date{}, fmt.Errorf("end date: %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start.Time) {
		return core.Date{}, core.Date{}, fmt.Errorf("window ends before it starts")
	}
	return start, end, nil
}
