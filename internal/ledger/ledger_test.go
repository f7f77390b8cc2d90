package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ledger"
	"github.com/swiftdevstuff/up-ynab-sync/internal/test"
)

type TestSuiteStandard struct {
	suite.Suite
	ledger *ledger.Ledger
}

// Pseudo-Test run by go test that runs the test suite.
func TestSuite(t *testing.T) {
	suite.Run(t, new(TestSuiteStandard))
}

// SetupTest is called before each test in the suite.
func (suite *TestSuiteStandard) SetupTest() {
	l, err := ledger.Connect(test.TmpFile(suite.T()))
	if err != nil {
		suite.Assert().FailNow("Database connection failed", "Error: %s", err)
	}
	suite.ledger = l
}

// TearDownTest is called after each test in the suite.
func (suite *TestSuiteStandard) TearDownTest() {
	_ = suite.ledger.Close()
}

func (suite *TestSuiteStandard) createTestRecord(record ledger.SyncedTransaction) ledger.SyncedTransaction {
	if record.BudgetID == "" {
		record.BudgetID = "budget-1"
	}
	if record.Status == ledger.StatusUnknown {
		record.Status = ledger.StatusPending
	}

	err := suite.ledger.Upsert(&record)
	if err != nil {
		suite.Assert().FailNow("Record could not be saved", "Error: %s, Record: %#v", err, record)
	}

	return record
}

func strPtr(s string) *string {
	return &s
}

func (suite *TestSuiteStandard) TestUpsertIsIdempotent() {
	record := suite.createTestRecord(ledger.SyncedTransaction{
		TransactionID: "tx-1",
		Amount:        -2550,
		Status:        ledger.StatusPending,
	})

	// Writing the same record again must not fail or duplicate
	record.Status = ledger.StatusSynced
	record.TargetTransactionID = strPtr("ynab-1")
	require.NoError(suite.T(), suite.ledger.Upsert(&record))

	got, err := suite.ledger.Get("budget-1", "tx-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), ledger.StatusSynced, got.Status)
	require.NotNil(suite.T(), got.TargetTransactionID)
	assert.Equal(suite.T(), "ynab-1", *got.TargetTransactionID)

	counts, err := suite.ledger.CountByStatus("budget-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), counts[ledger.StatusSynced])
	assert.Equal(suite.T(), int64(0), counts[ledger.StatusPending])
}

func (suite *TestSuiteStandard) TestStatusNilMeansNeverAttempted() {
	status, err := suite.ledger.Status("budget-1", "never-seen")
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), status)

	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-1", Status: ledger.StatusFailed})

	status, err = suite.ledger.Status("budget-1", "tx-1")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), status)
	assert.Equal(suite.T(), ledger.StatusFailed, *status)
}

func (suite *TestSuiteStandard) TestBudgetScopedKeys() {
	// The same transaction id can be tracked independently per budget
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-1", BudgetID: "budget-1", Status: ledger.StatusSynced, TargetTransactionID: strPtr("ynab-1")})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-1", BudgetID: "budget-2", Status: ledger.StatusFailed})

	status, err := suite.ledger.Status("budget-1", "tx-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), ledger.StatusSynced, *status)

	status, err = suite.ledger.Status("budget-2", "tx-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), ledger.StatusFailed, *status)
}

func (suite *TestSuiteStandard) TestListFailed() {
	now := time.Now().In(time.UTC)
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-old", Status: ledger.StatusFailed, Date: now.AddDate(0, 0, -2)})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-new", Status: ledger.StatusFailed, Date: now})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-ok", Status: ledger.StatusSynced, TargetTransactionID: strPtr("ynab-1")})

	failed, err := suite.ledger.ListFailed("budget-1", 0)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), failed, 2)
	assert.Equal(suite.T(), "tx-old", failed[0].TransactionID, "failed records are listed oldest first")

	limited, err := suite.ledger.ListFailed("budget-1", 1)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), limited, 1)
}

func (suite *TestSuiteStandard) TestDeleteFailed() {
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-failed", Status: ledger.StatusFailed})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-synced", Status: ledger.StatusSynced, TargetTransactionID: strPtr("ynab-1")})

	tests := []struct {
		name          string
		transactionID string
		err           error
	}{
		{"failed record can be deleted", "tx-failed", nil},
		{"synced record is refused", "tx-synced", ledger.ErrNotFailed},
		{"missing record", "tx-missing", ledger.ErrNotFound},
	}

	for _, tt := range tests {
		suite.T().Run(tt.name, func(t *testing.T) {
			err := suite.ledger.DeleteFailed("budget-1", tt.transactionID)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	// The deleted record now counts as never attempted
	status, err := suite.ledger.Status("budget-1", "tx-failed")
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), status)
}

func (suite *TestSuiteStandard) TestCleanupFailed() {
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-1", Status: ledger.StatusFailed})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-2", Status: ledger.StatusFailed})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-3", Status: ledger.StatusSynced, TargetTransactionID: strPtr("ynab-3")})

	count, err := suite.ledger.CleanupFailed("budget-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), count)

	failed, err := suite.ledger.ListFailed("budget-1", 0)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), failed)

	status, err := suite.ledger.Status("budget-1", "tx-3")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), status)
	assert.Equal(suite.T(), ledger.StatusSynced, *status, "synced records survive cleanup")
}

func (suite *TestSuiteStandard) TestResetStuckPending() {
	// A record left pending simulates a crash mid-run
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-stuck", Status: ledger.StatusPending})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-done", Status: ledger.StatusSynced, TargetTransactionID: strPtr("ynab-1")})

	count, err := suite.ledger.ResetStuckPending("budget-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), count)

	got, err := suite.ledger.Get("budget-1", "tx-stuck")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), ledger.StatusFailed, got.Status)
	assert.NotEmpty(suite.T(), got.Error)

	// The demoted record is now part of the retry candidate set
	failed, err := suite.ledger.ListFailed("budget-1", 0)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), failed, 1)
	assert.Equal(suite.T(), "tx-stuck", failed[0].TransactionID)

	// Running it again finds nothing
	count, err = suite.ledger.ResetStuckPending("budget-1")
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), count)
}

func (suite *TestSuiteStandard) TestRepairMismarkedSynced() {
	// Artificially violate the invariant: synced without a target id
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-corrupt", Status: ledger.StatusSynced})
	suite.createTestRecord(ledger.SyncedTransaction{TransactionID: "tx-good", Status: ledger.StatusSynced, TargetTransactionID: strPtr("ynab-1")})

	count, err := suite.ledger.RepairMismarkedSynced("budget-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), count)

	got, err := suite.ledger.Get("budget-1", "tx-corrupt")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), ledger.StatusFailed, got.Status)

	got, err = suite.ledger.Get("budget-1", "tx-good")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), ledger.StatusSynced, got.Status)
}

func (suite *TestSuiteStandard) TestSyncLog() {
	entry, err := suite.ledger.LastSyncLog("budget-1")
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), entry, "a budget with no runs has no log entry")

	first := ledger.SyncLog{
		BudgetID:    "budget-1",
		WindowStart: time.Now().AddDate(0, 0, -1),
		WindowEnd:   time.Now(),
		Accounts:    1,
		Processed:   5,
		Synced:      4,
		Failed:      1,
		Duration:    3 * time.Second,
	}
	require.NoError(suite.T(), suite.ledger.AppendSyncLog(&first))
	assert.NotEqual(suite.T(), uuid.Nil, first.RunID, "run id is generated on create")

	time.Sleep(10 * time.Millisecond)

	second := ledger.SyncLog{BudgetID: "budget-1", Synced: 2}
	require.NoError(suite.T(), suite.ledger.AppendSyncLog(&second))

	last, err := suite.ledger.LastSyncLog("budget-1")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), last)
	assert.Equal(suite.T(), second.RunID, last.RunID)
}

func (suite *TestSuiteStandard) TestTrimSyncLogs() {
	require.NoError(suite.T(), suite.ledger.AppendSyncLog(&ledger.SyncLog{BudgetID: "budget-1"}))

	count, err := suite.ledger.TrimSyncLogs(time.Now().AddDate(0, 0, -30))
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), count, "recent entries are retained")

	count, err = suite.ledger.TrimSyncLogs(time.Now().Add(time.Hour))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), count)
}

func (suite *TestSuiteStandard) TestMerchantRules() {
	low := ledger.MerchantRule{BudgetID: "budget-1", Pattern: "COFFEE*", CategoryID: "cat-coffee", Priority: 1}
	high := ledger.MerchantRule{BudgetID: "budget-1", Pattern: "COFFEE CORNER", CategoryID: "cat-cafe", Priority: 5}
	require.NoError(suite.T(), suite.ledger.SaveMerchantRule(&low))
	require.NoError(suite.T(), suite.ledger.SaveMerchantRule(&high))

	rules, err := suite.ledger.MerchantRules("budget-1")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), rules, 2)
	assert.Equal(suite.T(), "cat-cafe", rules[0].CategoryID, "rules are ordered by priority")

	require.NoError(suite.T(), suite.ledger.IncrementMerchantRuleUse(high.ID))
	require.NoError(suite.T(), suite.ledger.IncrementMerchantRuleUse(high.ID))

	rules, err = suite.ledger.MerchantRules("budget-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), uint(2), rules[0].UseCount)
}

func (suite *TestSuiteStandard) TestHealth() {
	assert.NoError(suite.T(), suite.ledger.Health())

	require.NoError(suite.T(), suite.ledger.Close())
	assert.Error(suite.T(), suite.ledger.Health())
}
