package db

import (
	_ "embed"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
	"gorm.io/gorm"
)

//go:embed seed.yaml
var defaultSeed []byte

// SeedData lists reference rows loaded into empty lookup tables
type SeedData struct {
	MediaTypes          []seedNamed   `yaml:"media_types"`
	MediaConditions     []seedNamed   `yaml:"media_conditions"`
	Bookcases           []seedNamed   `yaml:"bookcases"`
	Shelves             []seedShelf   `yaml:"shelves"`
	ParticipantStatuses []seedStatus  `yaml:"participant_statuses"`
	Genres              []seedNamed   `yaml:"genres"`
	Publishers          []seedNamed   `yaml:"publishers"`
	Creators            []seedCreator `yaml:"creators"`
	Participants        []seedCreator `yaml:"participants"`
}

type seedNamed struct {
	Name      string `yaml:"name"`
	SortOrder *int   `yaml:"sort_order"`
}

type seedShelf struct {
	Name     string `yaml:"name"`
	Bookcase string `yaml:"bookcase"`
}

type seedStatus struct {
	Name                string `yaml:"name"`
	TransactionType     string `yaml:"transaction_type"`
	ExtendedDescription string `yaml:"extended_description"`
	SortOrder           *int   `yaml:"sort_order"`
}

type seedCreator struct {
	FirstName  string `yaml:"first_name"`
	MiddleName string `yaml:"middle_name"`
	LastName   string `yaml:"last_name"`
}

// LoadSeed parses the seed file at path, or the embedded default when path is empty
func LoadSeed(path string) (*SeedData, error) {
	raw := defaultSeed
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		raw = b
	}

	var data SeedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &data, nil
}

// Seed inserts seed rows into every table that is still empty. Tables that
// already hold rows are left alone so operators keep their edits.
func Seed(database *DB, data *SeedData, log *zap.Logger) error {
	return database.Transaction(func(tx *gorm.DB) error {
		steps := []struct {
			name  string
			model interface{}
			rows  func() (interface{}, int)
		}{
			{"media_types", &MediaType{}, func() (interface{}, int) {
				out := make([]MediaType, 0, len(data.MediaTypes))
				for _, s := range data.MediaTypes {
					out = append(out, MediaType{Name: s.Name, SortOrder: s.SortOrder})
				}
				return &out, len(out)
			}},
			{"media_conditions", &MediaCondition{}, func() (interface{}, int) {
				out := make([]MediaCondition, 0, len(data.MediaConditions))
				for _, s := range data.MediaConditions {
					out = append(out, MediaCondition{Name: s.Name, SortOrder: s.SortOrder})
				}
				return &out, len(out)
			}},
			{"genres", &Genre{}, func() (interface{}, int) {
				out := make([]Genre, 0, len(data.Genres))
				for _, s := range data.Genres {
					out = append(out, Genre{Name: s.Name, SortOrder: s.SortOrder})
				}
				return &out, len(out)
			}},
			{"publishers", &Publisher{}, func() (interface{}, int) {
				out := make([]Publisher, 0, len(data.Publishers))
				for _, s := range data.Publishers {
					out = append(out, Publisher{Name: s.Name})
				}
				return &out, len(out)
			}},
			{"bookcases", &Bookcase{}, func() (interface{}, int) {
				out := make([]Bookcase, 0, len(data.Bookcases))
				for _, s := range data.Bookcases {
					out = append(out, Bookcase{Name: s.Name, SortOrder: s.SortOrder})
				}
				return &out, len(out)
			}},
			{"participant_statuses", &ParticipantStatus{}, func() (interface{}, int) {
				out := make([]ParticipantStatus, 0, len(data.ParticipantStatuses))
				for _, s := range data.ParticipantStatuses {
					out = append(out, ParticipantStatus{
						Name:                s.Name,
						TransactionType:     strPtr(s.TransactionType),
						ExtendedDescription: strPtr(s.ExtendedDescription),
						SortOrder:           s.SortOrder,
					})
				}
				return &out, len(out)
			}},
			{"creators", &Creator{}, func() (interface{}, int) {
				out := make([]Creator, 0, len(data.Creators))
				for _, s := range data.Creators {
					out = append(out, Creator{FirstName: strPtr(s.FirstName), MiddleName: strPtr(s.MiddleName), LastName: strPtr(s.LastName)})
				}
				return &out, len(out)
			}},
			{"participants", &Participant{}, func() (interface{}, int) {
				out := make([]Participant, 0, len(data.Participants))
				for _, s := range data.Participants {
					out = append(out, Participant{FirstName: strPtr(s.FirstName), LastName: strPtr(s.LastName)})
				}
				return &out, len(out)
			}},
		}

		for _, step := range steps {
			inserted, err := seedTable(tx, step.model, step.rows)
			if err != nil {
				return fmt.Errorf("seed %s: %w", step.name, err)
			}
			if inserted > 0 {
				log.Info("Seeded lookup table", zap.String("table", step.name), zap.Int64("rows", inserted))
			}
		}

		// Shelves reference bookcases by name, so they go last
		inserted, err := seedShelves(tx, data.Shelves)
		if err != nil {
			return fmt.Errorf("seed shelves: %w", err)
		}
		if inserted > 0 {
			log.Info("Seeded lookup table", zap.String("table", "shelves"), zap.Int64("rows", inserted))
		}
		return nil
	})
}

func seedTable(tx *gorm.DB, model interface{}, rows func() (interface{}, int)) (int64, error) {
	var count int64
	if err := tx.Model(model).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	values, n := rows()
	if n == 0 {
		return 0, nil
	}
	res := tx.Create(values)
	return res.RowsAffected, res.Error
}

func seedShelves(tx *gorm.DB, shelves []seedShelf) (int64, error) {
	var count int64
	if err := tx.Model(&Shelf{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 || len(shelves) == 0 {
		return 0, nil
	}

	rows := make([]Shelf, 0, len(shelves))
	for _, s := range shelves {
		shelf := Shelf{Name: s.Name}
		if s.Bookcase != "" {
			var bookcase Bookcase
			if err := tx.Where("LOWER(name) = LOWER(?)", s.Bookcase).First(&bookcase).Error; err != nil {
				return 0, fmt.Errorf("bookcase %q: %w", s.Bookcase, err)
			}
			shelf.BookcaseID = &bookcase.ID
		}
		rows = append(rows, shelf)
	}

	res := tx.Create(&rows)
	return res.RowsAffected, res.Error
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
