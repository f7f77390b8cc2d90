package classifier_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftdevstuff/up-ynab-sync/internal/classifier"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ledger"
)

type fakeRuleStore struct {
	rules      []ledger.MerchantRule
	increments map[uuid.UUID]int
	listErr    error
	incErr     error
}

func (f *fakeRuleStore) MerchantRules(string) ([]ledger.MerchantRule, error) {
	return f.rules, f.listErr
}

func (f *fakeRuleStore) IncrementMerchantRuleUse(id uuid.UUID) error {
	if f.increments == nil {
		f.increments = map[uuid.UUID]int{}
	}
	f.increments[id]++
	return f.incErr
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"plain merchant", "Coffee Corner", "COFFEE"},
		{"card network prefix stripped", "VISA-COFFEE CORNER 1234", "COFFEE"},
		{"eftpos noise stripped", "EFTPOS PURCHASE WOOLWORTHS 2034", "WOOLWORTHS"},
		{"long digit run stripped", "7ELEVEN 40329811 CARLTON", "7ELEVEN"},
		{"embedded date stripped", "NETFLIX 12/04 SYDNEY", "NETFLIX"},
		{"diacritics folded", "Café Crème", "CAFE"},
		{"separators split tokens", "SQ*BLUE BOTTLE", "BLUE"},
		{"only noise yields nothing", "VISA 1234 12/04", ""},
		{"empty description", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.Extract(tt.description))
		})
	}
}

func TestCategorize(t *testing.T) {
	exact := ledger.MerchantRule{ID: uuid.New(), Pattern: "WOOLWORTHS", CategoryID: "cat-groceries", CategoryName: "Groceries"}
	globRule := ledger.MerchantRule{ID: uuid.New(), Pattern: "7*", CategoryID: "cat-convenience", CategoryName: "Convenience"}
	substring := ledger.MerchantRule{ID: uuid.New(), Pattern: "NETFL", CategoryID: "cat-streaming", CategoryName: "Streaming"}

	store := &fakeRuleStore{rules: []ledger.MerchantRule{exact, globRule, substring}}
	c := classifier.New(store)

	tests := []struct {
		name         string
		description  string
		wantCategory string
	}{
		{"exact match", "EFTPOS WOOLWORTHS 2034", "cat-groceries"},
		{"glob match", "7ELEVEN 40329811", "cat-convenience"},
		{"substring match", "NETFLIX 12/04", "cat-streaming"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := c.Categorize("budget-1", tt.description)
			require.NoError(t, err)
			require.NotNil(t, match)
			assert.Equal(t, tt.wantCategory, match.CategoryID)
		})
	}
}

func TestCategorizeNoMatch(t *testing.T) {
	store := &fakeRuleStore{rules: []ledger.MerchantRule{
		{ID: uuid.New(), Pattern: "WOOLWORTHS", CategoryID: "cat-groceries"},
	}}
	c := classifier.New(store)

	match, err := c.Categorize("budget-1", "UNKNOWN MERCHANT")
	require.NoError(t, err)
	assert.Nil(t, match)
	assert.Empty(t, store.increments, "no use counter is touched without a match")
}

func TestCategorizeIncrementsUseCount(t *testing.T) {
	rule := ledger.MerchantRule{ID: uuid.New(), Pattern: "WOOLWORTHS", CategoryID: "cat-groceries"}
	store := &fakeRuleStore{rules: []ledger.MerchantRule{rule}}
	c := classifier.New(store)

	for range 3 {
		_, err := c.Categorize("budget-1", "WOOLWORTHS METRO")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, store.increments[rule.ID])
}

func TestCategorizeIncrementFailureIsNotFatal(t *testing.T) {
	rule := ledger.MerchantRule{ID: uuid.New(), Pattern: "WOOLWORTHS", CategoryID: "cat-groceries"}
	store := &fakeRuleStore{rules: []ledger.MerchantRule{rule}, incErr: errors.New("disk full")}
	c := classifier.New(store)

	match, err := c.Categorize("budget-1", "WOOLWORTHS")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "cat-groceries", match.CategoryID)
}

func TestCategorizeStoreError(t *testing.T) {
	store := &fakeRuleStore{listErr: errors.New("database is closed")}
	c := classifier.New(store)

	_, err := c.Categorize("budget-1", "WOOLWORTHS")
	assert.Error(t, err)
}
