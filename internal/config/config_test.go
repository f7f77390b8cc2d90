package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftdevstuff/up-ynab-sync/internal/config"
)

func testProfile(name string) config.Profile {
	return config.Profile{
		Name:       name,
		BudgetID:   "budget-" + name,
		BudgetName: "Budget " + name,
		Mappings: []config.AccountMapping{
			{
				UpAccountID:     "up-1",
				UpAccountName:   "Spending",
				UpAccountType:   "TRANSACTIONAL",
				YNABAccountID:   "acct-x",
				YNABAccountName: "Spending",
			},
			{
				UpAccountID:   "up-2",
				UpAccountName: "Old Saver",
				YNABAccountID: "acct-y",
				Disabled:      true,
			},
		},
		Categorization: config.Categorization{Enabled: true},
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	assert.Empty(t, store.Profiles())

	_, err = store.ActiveProfile()
	assert.ErrorIs(t, err, config.ErrNoActiveProfile)
}

func TestCreateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	store, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateProfile(testProfile("personal")))
	require.NoError(t, store.CreateProfile(testProfile("household")))

	// The first profile created becomes active
	active, err := store.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, "personal", active.Name)

	// Everything survives a reload from disk
	reloaded, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, reloaded.Profiles(), 2)

	active, err = reloaded.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, "personal", active.Name)
	assert.Equal(t, "budget-personal", active.BudgetID)
	require.Len(t, active.Mappings, 2)
	assert.Equal(t, "acct-x", active.Mappings[0].YNABAccountID)
}

func TestCreateDuplicate(t *testing.T) {
	store, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, store.CreateProfile(testProfile("personal")))
	assert.ErrorIs(t, store.CreateProfile(testProfile("personal")), config.ErrProfileExists)
}

func TestSetActive(t *testing.T) {
	store, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, store.CreateProfile(testProfile("personal")))
	require.NoError(t, store.CreateProfile(testProfile("household")))

	require.NoError(t, store.SetActive("household"))
	active, err := store.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, "household", active.Name)

	assert.ErrorIs(t, store.SetActive("missing"), config.ErrProfileNotFound)
}

func TestUpdateProfile(t *testing.T) {
	store, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	require.NoError(t, store.CreateProfile(testProfile("personal")))

	updated := testProfile("personal")
	updated.BudgetName = "Renamed"
	require.NoError(t, store.UpdateProfile(updated))

	profile, err := store.Profile("personal")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", profile.BudgetName)

	assert.ErrorIs(t, store.UpdateProfile(testProfile("missing")), config.ErrProfileNotFound)
}

func TestEnabledMappings(t *testing.T) {
	profile := testProfile("personal")

	enabled := profile.EnabledMappings()
	require.Len(t, enabled, 1)
	assert.Equal(t, "up-1", enabled[0].UpAccountID)
}
