// Package config is the durable store for budget profiles and their account
// mappings.
//
// Profiles live in a single JSON file next to the ledger database. The file
// is single-writer: the tool is a scheduled single-process job, concurrent
// multi-process access is an accepted limitation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNoActiveProfile is returned when no profile is marked active.
	ErrNoActiveProfile = errors.New("no active budget profile is configured")

	// ErrProfileNotFound is returned when a named profile does not exist.
	ErrProfileNotFound = errors.New("budget profile does not exist")

	// ErrProfileExists is returned when creating a profile whose name is
	// taken.
	ErrProfileExists = errors.New("budget profile already exists")
)

// AccountMapping pairs one Up account with one YNAB account.
type AccountMapping struct {
	UpAccountID   string `json:"upAccountId"`
	UpAccountName string `json:"upAccountName"`
	UpAccountType string `json:"upAccountType"`

	YNABAccountID   string `json:"ynabAccountId"`
	YNABAccountName string `json:"ynabAccountName"`

	// Disabled mappings are kept for history but skipped by sync runs.
	Disabled bool `json:"disabled,omitempty"`
}

// Categorization holds the per-profile classifier settings.
type Categorization struct {
	Enabled bool `json:"enabled"`
}

// Profile is a named, isolated pairing of account mappings and settings for
// one YNAB budget.
type Profile struct {
	Name string `json:"name"`

	BudgetID   string `json:"budgetId"`
	BudgetName string `json:"budgetName"`

	Mappings       []AccountMapping `json:"mappings"`
	Categorization Categorization   `json:"categorization"`
}

// EnabledMappings returns the mappings a sync run operates on.
func (p Profile) EnabledMappings() []AccountMapping {
	mappings := make([]AccountMapping, 0, len(p.Mappings))
	for _, mapping := range p.Mappings {
		if !mapping.Disabled {
			mappings = append(mappings, mapping)
		}
	}
	return mappings
}

// Store reads and writes the profile configuration file.
type Store struct {
	path string
	data fileData
}

type fileData struct {
	Active   string    `json:"active"`
	Profiles []Profile `json:"profiles"`
}

// Load opens the configuration file at path. A missing file yields an empty
// store so first-run setup can create profiles.
func Load(path string) (*Store, error) {
	store := &Store{path: path}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	if err := json.Unmarshal(content, &store.data); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return store, nil
}

// Profiles returns all configured profiles.
func (s *Store) Profiles() []Profile {
	return s.data.Profiles
}

// Profile returns the profile with the given name.
func (s *Store) Profile(name string) (Profile, error) {
	for _, profile := range s.data.Profiles {
		if profile.Name == name {
			return profile, nil
		}
	}

	return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
}

// ActiveProfile returns the profile marked active. Exactly one profile is
// active at a time; it is the default scope for sync operations.
func (s *Store) ActiveProfile() (Profile, error) {
	if s.data.Active == "" {
		return Profile{}, ErrNoActiveProfile
	}

	profile, err := s.Profile(s.data.Active)
	if errors.Is(err, ErrProfileNotFound) {
		return Profile{}, fmt.Errorf("%w: active profile %q is gone", ErrNoActiveProfile, s.data.Active)
	}

	return profile, err
}

// CreateProfile adds a new profile. The first profile created becomes active.
func (s *Store) CreateProfile(profile Profile) error {
	if _, err := s.Profile(profile.Name); err == nil {
		return fmt.Errorf("%w: %q", ErrProfileExists, profile.Name)
	}

	s.data.Profiles = append(s.data.Profiles, profile)
	if s.data.Active == "" {
		s.data.Active = profile.Name
	}

	return s.save()
}

// UpdateProfile replaces an existing profile.
func (s *Store) UpdateProfile(profile Profile) error {
	for i, existing := range s.data.Profiles {
		if existing.Name == profile.Name {
			s.data.Profiles[i] = profile
			return s.save()
		}
	}

	return fmt.Errorf("%w: %q", ErrProfileNotFound, profile.Name)
}

// SetActive marks the named profile as the active one.
func (s *Store) SetActive(name string) error {
	if _, err := s.Profile(name); err != nil {
		return err
	}

	s.data.Active = name
	return s.save()
}

// save writes the file atomically via a temp file and rename, so a crash
// mid-write never leaves a truncated configuration behind.
func (s *Store) save() error {
	content, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating configuration directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("writing configuration: %w", err)
	}

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing configuration: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing configuration: %w", err)
	}

	return os.Rename(tmp.Name(), s.path)
}
