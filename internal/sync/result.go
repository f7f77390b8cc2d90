package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/swiftdevstuff/up-ynab-sync/internal/amount"
)

// Options configures a sync run.
type Options struct {
	// Days syncs the last N days instead of the default 24 hours.
	Days int

	// DateRange syncs an explicit interval and takes precedence over Days.
	DateRange *DateRange

	// DryRun reports what would be synced without writing to the ledger or
	// submitting anything.
	DryRun bool

	// Verbose emits a log line per transaction.
	Verbose bool

	// EnableCategorization consults the merchant classifier per
	// transaction.
	EnableCategorization bool
}

// TransactionError describes one failed transaction with enough context to
// act on.
type TransactionError struct {
	AccountID     string `json:"accountId"`
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Kind          string `json:"kind"`
	Message       string `json:"message"`

	// Critical marks amount-validation failures. These usually mean the
	// conversion ratio is misconfigured and deserve attention before the
	// next run.
	Critical bool `json:"critical"`
}

func (e TransactionError) Error() string {
	prefix := ""
	if e.Critical {
		prefix = "CRITICAL: "
	}

	return fmt.Sprintf("%stransaction %s (%s, %s): %s", prefix, e.TransactionID, e.AccountID, amount.Display(e.Amount), e.Message)
}

// AccountResult aggregates one account mapping's outcome.
type AccountResult struct {
	UpAccountID   string
	UpAccountName string
	YNABAccountID string

	Processed  int
	Synced     int
	Skipped    int
	Failed     int
	Duplicates int
	WouldSync  int

	// FetchError is set when the account listing itself failed and the
	// account was skipped entirely.
	FetchError string
}

// Result is the aggregated outcome of one sync run.
type Result struct {
	RunID    uuid.UUID
	Profile  string
	BudgetID string

	Window Window
	DryRun bool

	Accounts []AccountResult

	Processed  int
	Synced     int
	Skipped    int
	Failed     int
	Duplicates int
	WouldSync  int

	Errors   []TransactionError
	Duration time.Duration
}

// add folds an account result into the run totals.
func (r *Result) add(account AccountResult) {
	r.Accounts = append(r.Accounts, account)
	r.Processed += account.Processed
	r.Synced += account.Synced
	r.Skipped += account.Skipped
	r.Failed += account.Failed
	r.Duplicates += account.Duplicates
	r.WouldSync += account.WouldSync
}

// Summary renders a short human-readable report of the run.
func (r *Result) Summary() string {
	var b strings.Builder

	mode := "sync"
	if r.DryRun {
		mode = "dry run"
	}

	fmt.Fprintf(&b, "%s of %q (%s to %s): ", mode, r.Profile, r.Window.Start.Format(time.DateOnly), r.Window.End.Format(time.DateOnly))

	if r.DryRun {
		fmt.Fprintf(&b, "%d would sync, %d skipped", r.WouldSync, r.Skipped)
	} else {
		fmt.Fprintf(&b, "%d synced, %d skipped, %d failed, %d duplicates", r.Synced, r.Skipped, r.Failed, r.Duplicates)
	}

	fmt.Fprintf(&b, " across %d accounts in %s", len(r.Accounts), r.Duration.Round(time.Millisecond))

	for _, err := range r.Errors {
		fmt.Fprintf(&b, "\n  %s", err.Error())
	}

	return b.String()
}
