// Package ledger is the durable store of per-transaction sync state. It is
// the sole source of truth for "already done": the engine never re-queries
// the target API to check for duplicates.
package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	go_sqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNotFailed is returned when a delete targets a record that is not
	// in the failed state. Only failed records may be deleted.
	ErrNotFailed = errors.New("record is not in the failed state")
)

// Ledger wraps the single database handle. SQLite serializes all writes
// through one connection; there is no intra-process locking beyond that, which
// is sufficient because sync runs are strictly sequential.
type Ledger struct {
	db *gorm.DB
}

// Connect opens the SQLite database at dsn, runs migrations and returns the
// ledger.
func Connect(dsn string) (*Ledger, error) {
	config := &gorm.Config{
		// Set generated timestamps in UTC
		NowFunc: func() time.Time {
			return time.Now().In(time.UTC)
		},
		Logger: &dbLogger{
			Logger: log.Logger,
		},
	}

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("%s?_pragma=foreign_keys(1)", dsn)), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}

	// Get new connections after one hour
	sqlDB.SetConnMaxLifetime(time.Hour)

	// This is done to prevent SQLITE_BUSY errors
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	if err := db.Callback().Query().After("*").Register("up_ynab_sync:after_query", generalCallback); err != nil {
		return nil, err
	}

	if err := db.Callback().Create().After("*").Register("up_ynab_sync:after_create", generalCallback); err != nil {
		return nil, err
	}

	if err := db.Callback().Update().After("*").Register("up_ynab_sync:after_update", generalCallback); err != nil {
		return nil, err
	}

	if err := db.Callback().Delete().After("*").Register("up_ynab_sync:after_delete", generalCallback); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &Ledger{db: db}, nil
}

// generalCallback logs raw driver errors so that the surfaced error text
// stays actionable while the details land in the log.
func generalCallback(db *gorm.DB) {
	if db.Error == nil {
		return
	}

	if reflect.TypeOf(db.Error) == reflect.TypeOf(&go_sqlite.Error{}) {
		log.Error().Msgf("%T: %v", db.Error, db.Error.Error())
	}
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health pings the database.
func (l *Ledger) Health() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Upsert writes a record, replacing an existing one with the same transaction
// and budget id. The write is idempotent.
func (l *Ledger) Upsert(record *SyncedTransaction) error {
	return l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}, {Name: "budget_id"}},
		UpdateAll: true,
	}).Create(record).Error
}

// Get returns the record for a transaction, or ErrNotFound.
func (l *Ledger) Get(budgetID, transactionID string) (*SyncedTransaction, error) {
	var record SyncedTransaction
	err := l.db.First(&record, "budget_id = ? AND transaction_id = ?", budgetID, transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Status returns the sync status for a transaction. A nil status means the
// transaction has never been attempted.
func (l *Ledger) Status(budgetID, transactionID string) (*Status, error) {
	record, err := l.Get(budgetID, transactionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &record.Status, nil
}

// ListFailed returns up to limit failed records, oldest first. A limit of
// zero or less returns all of them.
func (l *Ledger) ListFailed(budgetID string, limit int) ([]SyncedTransaction, error) {
	query := l.db.
		Where(&SyncedTransaction{BudgetID: budgetID, Status: StatusFailed}).
		Order("date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []SyncedTransaction
	err := query.Find(&records).Error
	return records, err
}

// DeleteFailed removes one failed record, returning the transaction to the
// "never attempted" state so the next run re-fetches it. Deleting a record in
// any other state is refused.
func (l *Ledger) DeleteFailed(budgetID, transactionID string) error {
	record, err := l.Get(budgetID, transactionID)
	if err != nil {
		return err
	}

	if record.Status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, transactionID, record.Status)
	}

	return l.db.
		Where("budget_id = ? AND transaction_id = ?", budgetID, transactionID).
		Delete(&SyncedTransaction{}).Error
}

// CleanupFailed removes all failed records for a budget and returns how many
// were deleted.
func (l *Ledger) CleanupFailed(budgetID string) (int64, error) {
	result := l.db.
		Where("budget_id = ? AND status = ?", budgetID, StatusFailed.String()).
		Delete(&SyncedTransaction{})
	return result.RowsAffected, result.Error
}

// ResetStuckPending demotes records left pending by an interrupted run to
// failed so they become eligible for retry.
//
// There is no way to know whether the remote call behind a stuck-pending
// record was applied, so the record is treated as failed-and-retryable; the
// target's import-id deduplication catches the case where it did go through.
func (l *Ledger) ResetStuckPending(budgetID string) (int64, error) {
	result := l.db.Model(&SyncedTransaction{}).
		Where("budget_id = ? AND status = ?", budgetID, StatusPending.String()).
		Updates(map[string]any{
			"status": StatusFailed.String(),
			"error":  "sync run was interrupted before the outcome was recorded",
		})

	if result.RowsAffected > 0 {
		log.Warn().
			Int64("count", result.RowsAffected).
			Str("budget_id", budgetID).
			Msg("demoted stuck pending transactions to failed")
	}

	return result.RowsAffected, result.Error
}

// RepairMismarkedSynced finds records that claim to be synced without a
// target transaction id and demotes them to failed. Such records violate the
// ledger invariant and cannot be trusted.
func (l *Ledger) RepairMismarkedSynced(budgetID string) (int64, error) {
	result := l.db.Model(&SyncedTransaction{}).
		Where("budget_id = ? AND status = ? AND (target_transaction_id IS NULL OR target_transaction_id = '')", budgetID, StatusSynced.String()).
		Updates(map[string]any{
			"status": StatusFailed.String(),
			"error":  "record was marked synced without a target transaction id",
		})

	if result.RowsAffected > 0 {
		log.Warn().
			Int64("count", result.RowsAffected).
			Str("budget_id", budgetID).
			Msg("repaired transactions incorrectly marked as synced")
	}

	return result.RowsAffected, result.Error
}

// CountByStatus returns how many records exist per status for a budget.
func (l *Ledger) CountByStatus(budgetID string) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}

	err := l.db.Model(&SyncedTransaction{}).
		Select("status, COUNT(*) as count").
		Where("budget_id = ?", budgetID).
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}

// AppendSyncLog appends one run to the audit trail.
func (l *Ledger) AppendSyncLog(entry *SyncLog) error {
	return l.db.Create(entry).Error
}

// LastSyncLog returns the most recent run for a budget, or nil when the
// budget has never been synced.
func (l *Ledger) LastSyncLog(budgetID string) (*SyncLog, error) {
	var entry SyncLog
	err := l.db.
		Where(&SyncLog{BudgetID: budgetID}).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// TrimSyncLogs deletes audit rows older than the cutoff.
func (l *Ledger) TrimSyncLogs(olderThan time.Time) (int64, error) {
	result := l.db.
		Where("created_at < ?", olderThan.In(time.UTC)).
		Delete(&SyncLog{})
	return result.RowsAffected, result.Error
}

// MerchantRules returns all categorization rules for a budget, highest
// priority first.
func (l *Ledger) MerchantRules(budgetID string) ([]MerchantRule, error) {
	var rules []MerchantRule
	err := l.db.
		Where(&MerchantRule{BudgetID: budgetID}).
		Order("priority DESC, use_count DESC").
		Find(&rules).Error
	return rules, err
}

// SaveMerchantRule inserts or updates a categorization rule.
func (l *Ledger) SaveMerchantRule(rule *MerchantRule) error {
	return l.db.Save(rule).Error
}

// IncrementMerchantRuleUse bumps a rule's use counter.
func (l *Ledger) IncrementMerchantRuleUse(id uuid.UUID) error {
	return l.db.Model(&MerchantRule{}).
		Where("id = ?", id).
		UpdateColumn("use_count", gorm.Expr("use_count + 1")).Error
}
