package sync

import (
	"errors"

	"github.com/swiftdevstuff/up-ynab-sync/internal/config"
	"github.com/swiftdevstuff/up-ynab-sync/internal/credentials"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ledger"
)

// AccountStatus describes one configured account mapping.
type AccountStatus struct {
	UpAccountID     string `json:"upAccountId"`
	UpAccountName   string `json:"upAccountName"`
	YNABAccountID   string `json:"ynabAccountId"`
	YNABAccountName string `json:"ynabAccountName"`
	Disabled        bool   `json:"disabled"`
}

// SyncStatus is a health snapshot of the whole setup: configuration,
// credentials, database and the last run. It never exposes token values, only
// their presence.
type SyncStatus struct {
	Profile    string `json:"profile"`
	BudgetID   string `json:"budgetId"`
	BudgetName string `json:"budgetName"`

	// ConfigOK is false when no usable profile is configured. The
	// remaining fields are still filled in as far as possible.
	ConfigOK    bool   `json:"configOk"`
	ConfigError string `json:"configError,omitempty"`

	HasUpBankToken bool `json:"hasUpBankToken"`
	HasYNABToken   bool `json:"hasYnabToken"`

	DatabaseOK    bool   `json:"databaseOk"`
	DatabaseError string `json:"databaseError,omitempty"`

	Accounts []AccountStatus  `json:"accounts"`
	Counts   map[string]int64 `json:"counts"`

	LastRun *ledger.SyncLog `json:"lastRun,omitempty"`
}

// Status reports the current state of the named profile, or the active one
// when no name is given. Missing configuration is reported, not returned as
// an error; only unexpected storage failures are.
func (e *Engine) Status(profileName string) (*SyncStatus, error) {
	status := &SyncStatus{
		HasUpBankToken: e.credentials.HasToken(credentials.ServiceUpBank),
		HasYNABToken:   e.credentials.HasToken(credentials.ServiceYNAB),
		Counts:         map[string]int64{},
	}

	if err := e.ledger.Health(); err != nil {
		status.DatabaseError = err.Error()
	} else {
		status.DatabaseOK = true
	}

	profile, err := e.resolveProfile(profileName)
	if err != nil {
		if errors.Is(err, config.ErrNoActiveProfile) || errors.Is(err, config.ErrProfileNotFound) {
			status.ConfigError = err.Error()
			return status, nil
		}
		return nil, err
	}

	status.Profile = profile.Name
	status.BudgetID = profile.BudgetID
	status.BudgetName = profile.BudgetName
	status.ConfigOK = len(profile.EnabledMappings()) > 0
	if !status.ConfigOK {
		status.ConfigError = "profile has no enabled account mappings"
	}

	for _, mapping := range profile.Mappings {
		status.Accounts = append(status.Accounts, AccountStatus{
			UpAccountID:     mapping.UpAccountID,
			UpAccountName:   mapping.UpAccountName,
			YNABAccountID:   mapping.YNABAccountID,
			YNABAccountName: mapping.YNABAccountName,
			Disabled:        mapping.Disabled,
		})
	}

	if !status.DatabaseOK {
		return status, nil
	}

	counts, err := e.ledger.CountByStatus(profile.BudgetID)
	if err != nil {
		return nil, err
	}
	for state, count := range counts {
		status.Counts[state.String()] = count
	}

	lastRun, err := e.ledger.LastSyncLog(profile.BudgetID)
	if err != nil {
		return nil, err
	}
	status.LastRun = lastRun

	return status, nil
}
