package repo

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/pkg/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *db.DB {
	database, err := db.Connect(db.Options{Driver: "sqlite", DSN: "file::memory:?_foreign_keys=on"})
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(database))

	data, err := db.LoadSeed("")
	require.NoError(t, err)
	require.NoError(t, db.Seed(database, data, zap.NewNop()))

	t.Cleanup(func() { database.Close(zap.NewNop()) })
	return database
}

func testLogger() *zap.Logger {
	return logger.NewLogger("test", "error")
}

func ptr[T any](v T) *T {
	return &v
}

// seedCreators inserts creators with ids 1..n
func seedCreators(t *testing.T, database *db.DB, n int) {
	for i := 1; i <= n; i++ {
		c := db.Creator{ID: i, FirstName: ptr("Author"), LastName: ptr(string(rune('A' + i - 1)))}
		require.NoError(t, database.Create(&c).Error)
	}
}

// seedGenres inserts genres with ids 1..n
func seedGenres(t *testing.T, database *db.DB, n int) {
	for i := 1; i <= n; i++ {
		g := db.Genre{ID: i, Name: "Genre " + string(rune('A'+i-1))}
		require.NoError(t, database.Create(&g).Error)
	}
}

var associationTables = map[string]bool{
	"publication_creators": true,
	"publication_genres":   true,
	"publication_keywords": true,
}

// writeCounter counts association rows inserted or deleted through gorm
type writeCounter struct {
	mu      sync.Mutex
	inserts int64
	deletes int64
}

func (w *writeCounter) total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inserts + w.deletes
}

func (w *writeCounter) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inserts, w.deletes = 0, 0
}

func countAssociationWrites(t *testing.T, database *db.DB) *writeCounter {
	w := &writeCounter{}
	count := func(field *int64) func(tx *gorm.DB) {
		return func(tx *gorm.DB) {
			if tx.Error != nil || !associationTables[tx.Statement.Table] {
				return
			}
			w.mu.Lock()
			*field += tx.Statement.RowsAffected
			w.mu.Unlock()
		}
	}
	require.NoError(t, database.Callback().Create().After("gorm:create").Register("test:count_creates", count(&w.inserts)))
	require.NoError(t, database.Callback().Delete().After("gorm:delete").Register("test:count_deletes", count(&w.deletes)))
	return w
}

// failInsertsInto makes every insert into table fail with err
func failInsertsInto(t *testing.T, database *db.DB, table string, err error) {
	require.NoError(t, database.Callback().Create().Before("gorm:create").Register("test:fail_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			_ = tx.AddError(err)
		}
	}))
}

var errDiskFull = errors.New("disk I/O error")

// storedAssociations reads the association sets straight from the tables
func storedAssociations(t *testing.T, database *db.DB, pubID int) (creators, genres []int, keywords []string) {
	require.NoError(t, database.Model(&db.PublicationCreator{}).Where("publication_id = ?", pubID).Pluck("creator_id", &creators).Error)
	require.NoError(t, database.Model(&db.PublicationGenre{}).Where("publication_id = ?", pubID).Pluck("genre_id", &genres).Error)
	require.NoError(t, database.Model(&db.PublicationKeyWord{}).Where("publication_id = ?", pubID).Pluck("keyword", &keywords).Error)
	sort.Ints(creators)
	sort.Ints(genres)
	sort.Strings(keywords)
	return creators, genres, keywords
}

// inputFromView turns an edit view back into an update payload
func inputFromView(v *PublicationEditView) PublicationInput {
	return PublicationInput{
		ID:               v.ID,
		ExpectedVersion:  ptr(v.Version),
		Title:            v.Title,
		CatalogNumber:    v.CatalogNumber,
		Comments:         v.Comments,
		CoverPhotoLink:   v.CoverPhotoLink,
		Edition:          v.Edition,
		ISBN:             v.ISBN,
		Printing:         v.Printing,
		YearPublished:    v.YearPublished,
		InternalComments: v.InternalComments,
		Volume:           v.Volume,
		NumberOfVolumes:  v.NumberOfVolumes,
		Pages:            v.Pages,
		ConfidenceLevel:  v.ConfidenceLevel,
		ListPriceCents:   v.ListPriceCents,
		MediaConditionID: v.MediaConditionID,
		MediaTypeID:      v.MediaTypeID,
		PublisherID:      v.PublisherID,
		ShelfID:          v.ShelfID,
		CreatorIDs:       v.CreatorIDs(),
		GenreIDs:         v.GenreIDs(),
		Keywords:         append([]string(nil), v.Keywords...),
	}
}
