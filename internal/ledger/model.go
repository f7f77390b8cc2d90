package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Timestamps are set automatically by gorm.
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncedTransaction is the ledger record for one bank transaction. It is
// created when the transaction is first attempted and mutated in place on each
// status transition.
//
// The key is scoped by budget: a transaction id is only unique within the
// source provider, and the same transaction may be synced into more than one
// budget profile.
type SyncedTransaction struct {
	TransactionID string `gorm:"primaryKey"`
	BudgetID      string `gorm:"primaryKey"`

	AccountID   string
	AccountName string
	Amount      int64 // source amount in base units
	Date        time.Time
	Description string
	RawPayload  string // serialized source payload for audit and replay

	TargetAccountID string
	// TargetTransactionID is nil while the record is pending or failed. A
	// synced record with a nil target id violates the ledger invariant.
	TargetTransactionID *string
	TargetAmount        int64 // milliunits

	Status   Status `gorm:"type:TEXT;index"`
	Critical bool   // set when amount validation failed; the transaction was never submitted
	Error    string
	SyncedAt time.Time

	Timestamps
}

// AfterFind normalizes timestamps to UTC. SQLite hands them back as +0000
// even though they are stored in UTC.
func (s *SyncedTransaction) AfterFind(_ *gorm.DB) error {
	s.Date = s.Date.In(time.UTC)
	s.SyncedAt = s.SyncedAt.In(time.UTC)
	return nil
}

// SyncLog is one row per completed sync run, an append-only audit trail. It
// is exposed as-is through the status API.
type SyncLog struct {
	RunID    uuid.UUID `gorm:"primaryKey" json:"runId"`
	BudgetID string    `json:"budgetId"`

	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	DryRun      bool      `json:"dryRun"`

	Accounts   int `json:"accounts"`
	Processed  int `json:"processed"`
	Synced     int `json:"synced"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`

	Errors   string        `json:"errors"` // serialized error list
	Duration time.Duration `json:"duration"`

	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate generates the run id if the engine did not set one.
func (s *SyncLog) BeforeCreate(_ *gorm.DB) error {
	if s.RunID == uuid.Nil {
		s.RunID = uuid.New()
	}
	return nil
}

// MerchantRule maps a normalized merchant pattern to a target category. Rules
// are consulted by the classifier; UseCount tracks how often a rule matched.
type MerchantRule struct {
	ID       uuid.UUID `gorm:"primaryKey"`
	BudgetID string    `gorm:"uniqueIndex:idx_merchant_rules_budget_pattern"`
	Pattern  string    `gorm:"uniqueIndex:idx_merchant_rules_budget_pattern"`

	CategoryID   string
	CategoryName string
	Priority     uint
	UseCount     uint

	Timestamps
}

func (r *MerchantRule) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// schemaVersion tracks the forward-only migration state.
type schemaVersion struct {
	ID      uint `gorm:"primaryKey"`
	Version uint
}
