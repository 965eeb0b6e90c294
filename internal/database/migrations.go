package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPublicPaths = "2026-09-14_backfill_card_public_paths"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPublicPaths, apply: backfillPublicPaths},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPublicPaths assigns the derived public path to rows stored before
// the path column was populated on first save.
func backfillPublicPaths(db *gorm.DB) error {
	var userIDs []string
	if err := db.Model(&records.Card{}).
		Where("qr_code_url = '' OR qr_code_url IS NULL").
		Pluck("user_id", &userIDs).Error; err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, userID := range userIDs {
			path := healthcard.PublicPathFor(healthcard.AccountID(userID))
			if err := tx.Model(&records.Card{}).
				Where("user_id = ?", userID).
				Update("qr_code_url", path).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
