package ledger

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// migration is one forward-only schema step. Steps must be idempotent since
// a crash between applying a step and recording its version re-runs the step.
type migration struct {
	version uint
	run     func(db *gorm.DB) error
}

// migrations is the ordered list of schema versions. Append only.
var migrations = []migration{
	{
		version: 1,
		run: func(db *gorm.DB) error {
			return db.AutoMigrate(SyncedTransaction{}, SyncLog{}, MerchantRule{})
		},
	},
	{
		version: 2,
		run: func(db *gorm.DB) error {
			// Ledger keys were budget-scoped from the start, but early
			// databases may hold rows written before the budget id was
			// recorded. Those rows cannot be attributed and are demoted so
			// a retry re-syncs them into the right budget.
			return db.Model(&SyncedTransaction{}).
				Where("budget_id = '' AND status = ?", StatusSynced.String()).
				Updates(map[string]any{
					"status": StatusFailed.String(),
					"error":  "record predates budget-scoped ledger keys",
				}).Error
		},
	},
}

// migrate brings the schema up to the latest version. It checks the current
// version before applying each step, so running it repeatedly is safe.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(schemaVersion{}); err != nil {
		return fmt.Errorf("error during DB migration: %w", err)
	}

	var current schemaVersion
	err := db.FirstOrCreate(&current, schemaVersion{ID: 1}).Error
	if err != nil {
		return fmt.Errorf("error reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current.Version {
			continue
		}

		log.Info().Uint("version", m.version).Msg("applying ledger schema migration")

		if err := m.run(db); err != nil {
			return fmt.Errorf("error migrating ledger schema to version %d: %w", m.version, err)
		}

		current.Version = m.version
		if err := db.Save(&current).Error; err != nil {
			return fmt.Errorf("error recording schema version %d: %w", m.version, err)
		}
	}

	return nil
}
