package db

import (
	"gorm.io/gorm"
)

// RunMigrations creates or updates every table and the uniqueness indexes
// the lookup stores depend on.
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}

	return createIndexes(db.DB)
}

func createIndexes(db *gorm.DB) error {
	// Expression indexes work on both postgres and sqlite
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_genres_name ON genres (LOWER(name))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_media_types_name ON media_types (LOWER(name))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_media_conditions_name ON media_conditions (LOWER(name))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_publishers_name ON publishers (LOWER(name))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookcases_name ON bookcases (LOWER(name))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_participant_statuses_name ON participant_statuses (LOWER(name))`,

		// Shelf names repeat across bookcases
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_shelves_bookcase_name ON shelves (COALESCE(bookcase_id, 0), LOWER(name))`,

		`CREATE UNIQUE INDEX IF NOT EXISTS ux_creators_names ON creators (
			LOWER(COALESCE(first_name, '')), LOWER(COALESCE(middle_name, '')), LOWER(COALESCE(last_name, '')))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_participants_names ON participants (
			LOWER(COALESCE(first_name, '')), LOWER(COALESCE(last_name, '')))`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
