// Package sync contains the synchronization engine: it fetches Up
// transactions, decides which are new, converts them for YNAB, submits them
// and durably records the outcome so that re-running is safe.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/swiftdevstuff/up-ynab-sync/internal/amount"
	"github.com/swiftdevstuff/up-ynab-sync/internal/api"
	"github.com/swiftdevstuff/up-ynab-sync/internal/classifier"
	"github.com/swiftdevstuff/up-ynab-sync/internal/config"
	"github.com/swiftdevstuff/up-ynab-sync/internal/credentials"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ledger"
	"github.com/swiftdevstuff/up-ynab-sync/internal/upbank"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ynab"
	"golang.org/x/exp/slices"
)

// ErrNoAccountMappings is returned when the resolved profile has no enabled
// account mappings. The user must configure mappings before syncing.
var ErrNoAccountMappings = errors.New("budget profile has no enabled account mappings")

// syncLogRetentionDays is how long audit rows are kept before runs trim them.
const syncLogRetentionDays = 180

// Source yields the bank transactions for one account inside a window.
// Implemented by *upbank.Client.
type Source interface {
	ListTransactions(ctx context.Context, accountID string, since, until time.Time, pageSize int) ([]upbank.Transaction, error)
}

// Sink accepts converted transactions for a budget. Implemented by
// *ynab.Client.
type Sink interface {
	CreateTransactions(ctx context.Context, budgetID string, transactions []ynab.NewTransaction) (ynab.CreateResult, error)
}

// Ledger is the durable per-transaction sync state. Implemented by
// *ledger.Ledger.
type Ledger interface {
	Upsert(record *ledger.SyncedTransaction) error
	Status(budgetID, transactionID string) (*ledger.Status, error)
	ListFailed(budgetID string, limit int) ([]ledger.SyncedTransaction, error)
	DeleteFailed(budgetID, transactionID string) error
	CleanupFailed(budgetID string) (int64, error)
	ResetStuckPending(budgetID string) (int64, error)
	RepairMismarkedSynced(budgetID string) (int64, error)
	CountByStatus(budgetID string) (map[ledger.Status]int64, error)
	AppendSyncLog(entry *ledger.SyncLog) error
	LastSyncLog(budgetID string) (*ledger.SyncLog, error)
	TrimSyncLogs(olderThan time.Time) (int64, error)
	Health() error
}

// Categorizer is the optional merchant classifier. Implemented by
// *classifier.Classifier.
type Categorizer interface {
	Categorize(budgetID, description string) (*classifier.Match, error)
}

// ProfileStore provides budget profiles. Implemented by *config.Store.
type ProfileStore interface {
	ActiveProfile() (config.Profile, error)
	Profile(name string) (config.Profile, error)
}

// Config collects the engine's dependencies. All services are constructed
// once at process start and passed in; the engine holds no global state.
type Config struct {
	Source      Source
	Sink        Sink
	Ledger      Ledger
	Profiles    ProfileStore
	Credentials credentials.Store

	// Classifier may be nil, categorization is optional.
	Classifier Categorizer

	// Codec defaults to the cents-to-milliunits ratio.
	Codec amount.Codec

	// BatchSize is the number of candidates processed between pauses.
	BatchSize int

	// BatchPause is the courtesy delay between full batches.
	BatchPause time.Duration
}

// Engine orchestrates sync runs. Accounts and batches are processed strictly
// sequentially: the ledger's read-then-write duplicate check is not protected
// by locking and must not race.
type Engine struct {
	source      Source
	sink        Sink
	ledger      Ledger
	profiles    ProfileStore
	credentials credentials.Store
	classifier  Categorizer
	codec       amount.Codec

	batchSize  int
	batchPause time.Duration
	pageSize   int

	sleep func(time.Duration)
	now   func() time.Time
}

// New returns an Engine with defaults applied.
func New(cfg Config) *Engine {
	engine := &Engine{
		source:      cfg.Source,
		sink:        cfg.Sink,
		ledger:      cfg.Ledger,
		profiles:    cfg.Profiles,
		credentials: cfg.Credentials,
		classifier:  cfg.Classifier,
		codec:       cfg.Codec,
		batchSize:   cfg.BatchSize,
		batchPause:  cfg.BatchPause,
		pageSize:    100,
		sleep:       time.Sleep,
		now:         time.Now,
	}

	if engine.codec.Ratio() == 0 {
		engine.codec = amount.NewCodec(amount.MilliunitRatio)
	}

	if engine.batchSize <= 0 {
		engine.batchSize = 10
	}

	if engine.batchPause <= 0 {
		engine.batchPause = time.Second
	}

	return engine
}

// resolveProfile returns the named profile, or the active one when no name is
// given.
func (e *Engine) resolveProfile(name string) (config.Profile, error) {
	if name == "" {
		return e.profiles.ActiveProfile()
	}

	return e.profiles.Profile(name)
}

// Sync runs one synchronization pass over the profile's enabled account
// mappings.
//
// Configuration errors fail the run up front. Everything after that is
// isolated: a transaction's failure never aborts the run, an account's fetch
// failure moves on to the next account.
func (e *Engine) Sync(ctx context.Context, opts Options, profileName string) (*Result, error) {
	started := e.now()

	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return nil, err
	}

	mappings := profile.EnabledMappings()
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoAccountMappings, profile.Name)
	}

	window, err := resolveWindow(opts, e.now())
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:    uuid.New(),
		Profile:  profile.Name,
		BudgetID: profile.BudgetID,
		Window:   window,
		DryRun:   opts.DryRun,
	}

	mode := "sync"
	if opts.DryRun {
		mode = "dry-run"
	}

	log.Info().
		Str("run_id", result.RunID.String()).
		Str("profile", profile.Name).
		Str("mode", mode).
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Int("accounts", len(mappings)).
		Msg("starting sync run")

	// Crash recovery: records left pending by an interrupted run are
	// demoted to failed before the new run looks at the ledger.
	if !opts.DryRun {
		if _, err := e.ledger.ResetStuckPending(profile.BudgetID); err != nil {
			return nil, fmt.Errorf("crash recovery failed: %w", err)
		}
	}

	for _, mapping := range mappings {
		result.add(e.syncAccount(ctx, opts, profile, mapping, window, result))
	}

	result.Duration = e.now().Sub(started)
	runsTotal.WithLabelValues(mode).Inc()

	if !opts.DryRun {
		if err := e.appendSyncLog(result); err != nil {
			// The run itself succeeded; a missing audit row is not
			// worth failing it for
			log.Error().Err(err).Msg("could not append sync log entry")
		}

		if _, err := e.ledger.TrimSyncLogs(e.now().AddDate(0, 0, -syncLogRetentionDays)); err != nil {
			log.Error().Err(err).Msg("could not trim old sync log entries")
		}
	}

	log.Info().
		Str("run_id", result.RunID.String()).
		Int("processed", result.Processed).
		Int("synced", result.Synced).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("duplicates", result.Duplicates).
		Dur("duration", result.Duration).
		Msg("sync run finished")

	return result, nil
}

// candidateStatuses are ledger states that make a fetched transaction
// eligible for (re-)sync. Unknown covers statuses written by newer versions.
var candidateStatuses = []ledger.Status{
	ledger.StatusPending,
	ledger.StatusFailed,
	ledger.StatusUnknown,
}

func (e *Engine) syncAccount(ctx context.Context, opts Options, profile config.Profile, mapping config.AccountMapping, window Window, result *Result) AccountResult {
	account := AccountResult{
		UpAccountID:   mapping.UpAccountID,
		UpAccountName: mapping.UpAccountName,
		YNABAccountID: mapping.YNABAccountID,
	}

	transactions, err := e.source.ListTransactions(ctx, mapping.UpAccountID, window.Start, window.End, e.pageSize)
	if err != nil {
		account.FetchError = err.Error()
		result.Errors = append(result.Errors, TransactionError{
			AccountID: mapping.UpAccountID,
			Kind:      "fetch",
			Message:   fmt.Sprintf("listing transactions failed: %s", err),
		})
		log.Error().Err(err).Str("account", mapping.UpAccountName).Msg("skipping account, transaction listing failed")
		return account
	}

	// Partition against the ledger. The ledger is the sole source of truth
	// for "already done"; the target API is never queried for duplicates.
	var candidates []upbank.Transaction
	for _, transaction := range transactions {
		status, err := e.ledger.Status(profile.BudgetID, transaction.ID)
		if err != nil {
			account.Failed++
			result.Errors = append(result.Errors, TransactionError{
				AccountID:     mapping.UpAccountID,
				TransactionID: transaction.ID,
				Amount:        transaction.AmountBaseUnits,
				Kind:          "ledger",
				Message:       err.Error(),
			})
			continue
		}

		if status == nil || slices.Contains(candidateStatuses, *status) {
			candidates = append(candidates, transaction)
			continue
		}

		account.Skipped++
		transactionOutcomes.WithLabelValues("skipped").Inc()
	}

	for i := 0; i < len(candidates); i += e.batchSize {
		end := min(i+e.batchSize, len(candidates))

		for _, transaction := range candidates[i:end] {
			e.processTransaction(ctx, opts, profile, mapping, transaction, &account, result)
		}

		// Pause between full batches as rate-limit courtesy
		if end-i == e.batchSize && end < len(candidates) {
			e.sleep(e.batchPause)
		}
	}

	return account
}

func (e *Engine) processTransaction(ctx context.Context, opts Options, profile config.Profile, mapping config.AccountMapping, transaction upbank.Transaction, account *AccountResult, result *Result) {
	account.Processed++

	targetAmount := e.codec.ToTarget(transaction.AmountBaseUnits)

	// The amount gate: a conversion that does not round-trip means the
	// ratio is wrong and every amount would be corrupted. Mark failed,
	// never submit.
	if !e.codec.Validate(transaction.AmountBaseUnits, targetAmount) {
		account.Failed++
		transactionOutcomes.WithLabelValues("critical").Inc()
		result.Errors = append(result.Errors, TransactionError{
			AccountID:     mapping.UpAccountID,
			TransactionID: transaction.ID,
			Amount:        transaction.AmountBaseUnits,
			Kind:          "validation",
			Message:       fmt.Sprintf("amount conversion mismatch: %d base units became %d target units", transaction.AmountBaseUnits, targetAmount),
			Critical:      true,
		})

		if !opts.DryRun {
			record := e.newRecord(profile, mapping, transaction, targetAmount)
			record.Status = ledger.StatusFailed
			record.Critical = true
			record.Error = "amount conversion validation failed"
			if err := e.ledger.Upsert(record); err != nil {
				log.Error().Err(err).Str("transaction", transaction.ID).Msg("could not record validation failure")
			}
		}

		return
	}

	if opts.DryRun {
		account.WouldSync++
		transactionOutcomes.WithLabelValues("would_sync").Inc()
		if opts.Verbose {
			log.Info().
				Str("transaction", transaction.ID).
				Str("description", transaction.Description).
				Str("amount", amount.Display(transaction.AmountBaseUnits)).
				Msg("would sync")
		}
		return
	}

	// Durably mark the attempt before submitting. If the process dies
	// between here and the outcome write, crash recovery turns this record
	// into a retryable failure.
	record := e.newRecord(profile, mapping, transaction, targetAmount)
	record.Status = ledger.StatusPending
	if err := e.ledger.Upsert(record); err != nil {
		account.Failed++
		result.Errors = append(result.Errors, TransactionError{
			AccountID:     mapping.UpAccountID,
			TransactionID: transaction.ID,
			Amount:        transaction.AmountBaseUnits,
			Kind:          "ledger",
			Message:       fmt.Sprintf("could not write pending record: %s", err),
		})
		return
	}

	var categoryID *string
	if opts.EnableCategorization && profile.Categorization.Enabled && e.classifier != nil {
		match, err := e.classifier.Categorize(profile.BudgetID, transaction.Description)
		if err != nil {
			// Categorization is best-effort, the transaction goes
			// through uncategorized
			log.Warn().Err(err).Str("transaction", transaction.ID).Msg("categorization failed")
		} else if match != nil {
			categoryID = &match.CategoryID
			if opts.Verbose {
				log.Info().
					Str("transaction", transaction.ID).
					Str("pattern", match.Pattern).
					Str("category", match.CategoryName).
					Msg("categorized")
			}
		}
	}

	cleared := ynab.ClearedUncleared
	if transaction.Settled() {
		cleared = ynab.ClearedCleared
	}

	created, err := e.sink.CreateTransactions(ctx, profile.BudgetID, []ynab.NewTransaction{{
		AccountID:  mapping.YNABAccountID,
		Date:       transaction.CreatedAt.UTC().Format(time.DateOnly),
		Amount:     targetAmount,
		PayeeName:  transaction.Description,
		CategoryID: categoryID,
		Memo:       transaction.Message,
		Cleared:    cleared,
		ImportID:   ynab.ImportID(transaction.ID),
	}})
	if err != nil {
		record.Status = ledger.StatusFailed
		record.Error = err.Error()
		if upsertErr := e.ledger.Upsert(record); upsertErr != nil {
			log.Error().Err(upsertErr).Str("transaction", transaction.ID).Msg("could not record submission failure")
		}

		account.Failed++
		transactionOutcomes.WithLabelValues("failed").Inc()
		result.Errors = append(result.Errors, TransactionError{
			AccountID:     mapping.UpAccountID,
			TransactionID: transaction.ID,
			Amount:        transaction.AmountBaseUnits,
			Kind:          errorKind(err),
			Message:       err.Error(),
		})
		return
	}

	record.Status = ledger.StatusSynced
	record.SyncedAt = e.now().In(time.UTC)

	switch {
	case len(created.Transactions) > 0:
		id := created.Transactions[0].ID
		record.TargetTransactionID = &id
		account.Synced++
		transactionOutcomes.WithLabelValues("synced").Inc()

	case len(created.DuplicateImportIDs) > 0:
		// YNAB already knows this import id: its own deduplication caught
		// a re-attempt whose earlier outcome we lost. The import id keeps
		// the record traceable.
		importID := created.DuplicateImportIDs[0]
		record.TargetTransactionID = &importID
		record.Error = "target reported a duplicate import id"
		account.Duplicates++
		transactionOutcomes.WithLabelValues("duplicate").Inc()

	default:
		record.Status = ledger.StatusFailed
		record.Error = "target accepted the batch but returned no transaction"
		account.Failed++
		transactionOutcomes.WithLabelValues("failed").Inc()
		result.Errors = append(result.Errors, TransactionError{
			AccountID:     mapping.UpAccountID,
			TransactionID: transaction.ID,
			Amount:        transaction.AmountBaseUnits,
			Kind:          "submit",
			Message:       record.Error,
		})
	}

	if err := e.ledger.Upsert(record); err != nil {
		log.Error().Err(err).Str("transaction", transaction.ID).Msg("could not record sync outcome")
	}

	if opts.Verbose && record.Status == ledger.StatusSynced {
		log.Info().
			Str("transaction", transaction.ID).
			Str("description", transaction.Description).
			Str("amount", amount.Display(transaction.AmountBaseUnits)).
			Msg("synced")
	}
}

func (e *Engine) newRecord(profile config.Profile, mapping config.AccountMapping, transaction upbank.Transaction, targetAmount int64) *ledger.SyncedTransaction {
	return &ledger.SyncedTransaction{
		TransactionID:   transaction.ID,
		BudgetID:        profile.BudgetID,
		AccountID:       mapping.UpAccountID,
		AccountName:     mapping.UpAccountName,
		Amount:          transaction.AmountBaseUnits,
		Date:            transaction.CreatedAt.In(time.UTC),
		Description:     transaction.Description,
		RawPayload:      string(transaction.Raw),
		TargetAccountID: mapping.YNABAccountID,
		TargetAmount:    targetAmount,
		SyncedAt:        e.now().In(time.UTC),
	}
}

// errorKind maps an error to the taxonomy label used in reports.
func errorKind(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind.String()
	}

	return "submit"
}

func (e *Engine) appendSyncLog(result *Result) error {
	serialized := "[]"
	if len(result.Errors) > 0 {
		encoded, err := json.Marshal(result.Errors)
		if err != nil {
			return fmt.Errorf("serializing run errors: %w", err)
		}
		serialized = string(encoded)
	}

	return e.ledger.AppendSyncLog(&ledger.SyncLog{
		RunID:       result.RunID,
		BudgetID:    result.BudgetID,
		WindowStart: result.Window.Start,
		WindowEnd:   result.Window.End,
		DryRun:      result.DryRun,
		Accounts:    len(result.Accounts),
		Processed:   result.Processed,
		Synced:      result.Synced,
		Skipped:     result.Skipped,
		Failed:      result.Failed,
		Duplicates:  result.Duplicates,
		Errors:      serialized,
		Duration:    result.Duration,
	})
}

// RetryFailed deletes all failed records for the profile, returning them to
// the never-attempted state, then runs a normal sync. Retried transactions
// therefore travel the exact same validation and submission path as new ones.
func (e *Engine) RetryFailed(ctx context.Context, opts Options, profileName string) (*Result, error) {
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return nil, err
	}

	failed, err := e.ledger.ListFailed(profile.BudgetID, 0)
	if err != nil {
		return nil, err
	}

	// Widen the window when the default would miss old failures. The
	// deleted records can only be re-attempted if the run re-fetches them.
	if len(failed) > 0 && opts.DateRange == nil {
		window, err := resolveWindow(opts, e.now())
		if err != nil {
			return nil, err
		}

		oldest := failed[0].Date
		for _, record := range failed {
			if record.Date.Before(oldest) {
				oldest = record.Date
			}
		}

		if oldest.Before(window.Start) {
			start := oldest.Add(-24 * time.Hour)
			if floor := e.now().UTC().AddDate(0, 0, -MaxWindowDays); start.Before(floor) {
				start = floor
			}
			opts.DateRange = &DateRange{Start: start, End: e.now().UTC()}
		}
	}

	for _, record := range failed {
		if err := e.ledger.DeleteFailed(profile.BudgetID, record.TransactionID); err != nil {
			return nil, fmt.Errorf("removing failed record %s: %w", record.TransactionID, err)
		}
	}

	log.Info().Int("count", len(failed)).Str("profile", profile.Name).Msg("failed transactions queued for retry")

	return e.Sync(ctx, opts, profileName)
}

// ListFailed returns the profile's failed records, oldest first. A limit of
// zero or less returns all of them.
func (e *Engine) ListFailed(profileName string, limit int) ([]ledger.SyncedTransaction, error) {
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return nil, err
	}

	return e.ledger.ListFailed(profile.BudgetID, limit)
}

// DeleteFailed removes one failed record so the next run re-attempts the
// transaction.
func (e *Engine) DeleteFailed(profileName, transactionID string) error {
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return err
	}

	return e.ledger.DeleteFailed(profile.BudgetID, transactionID)
}

// Health pings the ledger database.
func (e *Engine) Health() error {
	return e.ledger.Health()
}

// CleanupFailed removes all failed records for the profile and returns how
// many were removed.
func (e *Engine) CleanupFailed(profileName string) (int64, error) {
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return 0, err
	}

	return e.ledger.CleanupFailed(profile.BudgetID)
}

// RepairMismarkedSynced demotes records that claim to be synced without a
// target transaction id and returns how many were repaired.
func (e *Engine) RepairMismarkedSynced(profileName string) (int64, error) {
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return 0, err
	}

	return e.ledger.RepairMismarkedSynced(profile.BudgetID)
}
