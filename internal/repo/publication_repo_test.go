package repo

import (
	"context"
	"testing"
	"time"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppliesDefaults(t *testing.T) {
	database := setupTestDB(t)
	repo := NewPublicationRepository(database, testLogger(), nil)
	captured := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	repo.now = func() time.Time { return captured }

	id, report, err := repo.Create(context.Background(), PublicationInput{Title: "  Letters from Fort Laramie  "})
	require.NoError(t, err)
	assert.False(t, report.Changed())

	var stored db.Publication
	require.NoError(t, database.First(&stored, id).Error)
	assert.Equal(t, "Letters from Fort Laramie", stored.Title)
	assert.Equal(t, DefaultMediaTypeID, *stored.MediaTypeID)
	assert.Equal(t, DefaultMediaConditionID, *stored.MediaConditionID)
	assert.Equal(t, DefaultVolume, *stored.Volume)
	assert.Equal(t, DefaultNumberOfVolumes, *stored.NumberOfVolumes)
	assert.Equal(t, DefaultConfidenceLevel, *stored.ConfidenceLevel)
	assert.Equal(t, DefaultShelfID, *stored.ShelfID)
	assert.Equal(t, 1, stored.Version)
	require.NotNil(t, stored.DateCaptured)
	assert.True(t, captured.Equal(*stored.DateCaptured))

	// Blank optional text is stored as NULL
	assert.Nil(t, stored.ISBN)
	assert.Nil(t, stored.Comments)
}

func TestCreateKeepsSuppliedValues(t *testing.T) {
	database := setupTestDB(t)
	repo := NewPublicationRepository(database, testLogger(), nil)

	id, _, err := repo.Create(context.Background(), PublicationInput{
		Title:            "Stockmen's Gazette",
		MediaTypeID:      ptr(2),
		MediaConditionID: ptr(3),
		Volume:           ptr(4),
		ConfidenceLevel:  ptr(0),
		YearPublished:    "circa 1885",
	})
	require.NoError(t, err)

	view, err := repo.GetForEdit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, *view.MediaTypeID)
	assert.Equal(t, "Periodical", view.MediaTypeName)
	assert.Equal(t, 3, *view.MediaConditionID)
	assert.Equal(t, 4, *view.Volume)
	assert.Equal(t, 0, *view.ConfidenceLevel)
	assert.Equal(t, "circa 1885", view.YearPublished)
	assert.Equal(t, "Unassigned-Unassigned", view.ShelfLocation)
}

func TestCreateValidation(t *testing.T) {
	database := setupTestDB(t)
	repo := NewPublicationRepository(database, testLogger(), nil)

	tests := []struct {
		name  string
		input PublicationInput
		field string
	}{
		{"missing title", PublicationInput{Title: "   "}, "title"},
		{"confidence above range", PublicationInput{Title: "x", ConfidenceLevel: ptr(101)}, "confidence_level"},
		{"negative pages", PublicationInput{Title: "x", Pages: ptr(-1)}, "pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := repo.Create(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.ValidationFailure))

			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Contains(t, appErr.Fields, tt.field)
		})
	}

	var count int64
	require.NoError(t, database.Model(&db.Publication{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateUnknownReferenceLeavesNothingBehind(t *testing.T) {
	database := setupTestDB(t)
	seedCreators(t, database, 2)
	repo := NewPublicationRepository(database, testLogger(), nil)

	_, _, err := repo.Create(context.Background(), PublicationInput{Title: "Orphan", CreatorIDs: []int{1, 99}})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	var count int64
	require.NoError(t, database.Model(&db.Publication{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, database.Model(&db.PublicationCreator{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateFailureRollsBackPublication(t *testing.T) {
	database := setupTestDB(t)
	seedCreators(t, database, 1)
	failInsertsInto(t, database, "publication_keywords", errDiskFull)
	repo := NewPublicationRepository(database, testLogger(), nil)

	_, _, err := repo.Create(context.Background(), PublicationInput{
		Title:      "Half Written",
		CreatorIDs: []int{1},
		Keywords:   []string{"ledger"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.TransientStoreFailure))
	assert.NotContains(t, err.Error(), errDiskFull.Error())

	var count int64
	require.NoError(t, database.Model(&db.Publication{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, database.Model(&db.PublicationCreator{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetForEditNotFound(t *testing.T) {
	repo := NewPublicationRepository(setupTestDB(t), testLogger(), nil)

	_, err := repo.GetForEdit(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestReconciliationWritesOnlyTheDelta(t *testing.T) {
	database := setupTestDB(t)
	seedCreators(t, database, 4)
	seedGenres(t, database, 2)
	repo := NewPublicationRepository(database, testLogger(), nil)
	ctx := context.Background()

	id, _, err := repo.Create(ctx, PublicationInput{
		Title:      "Range Ledger",
		CreatorIDs: []int{1, 2, 3},
		GenreIDs:   []int{1, 2},
		Keywords:   []string{"cattle", "brands"},
	})
	require.NoError(t, err)

	counter := countAssociationWrites(t, database)
	view, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)

	in := inputFromView(view)
	in.CreatorIDs = []int{2, 3, 4}
	in.GenreIDs = nil
	in.Keywords = []string{"brands", " drives ", "drives", "", "  "}

	updated, report, err := repo.Update(ctx, in)
	require.NoError(t, err)

	// |C\T| + |T\C| per relation: creators 1+1, genres 2+0, keywords 1+1
	assert.Equal(t, int64(6), counter.total())
	assert.Equal(t, int64(6), report.Writes())
	assert.Equal(t, []int{4}, report.Creators.Added)
	assert.Equal(t, []int{1}, report.Creators.Removed)
	assert.ElementsMatch(t, []int{1, 2}, report.Genres.Removed)
	assert.Equal(t, []string{"drives"}, report.Keywords.Added)
	assert.Equal(t, []string{"cattle"}, report.Keywords.Removed)

	creators, genres, keywords := storedAssociations(t, database, id)
	assert.Equal(t, []int{2, 3, 4}, creators)
	assert.Empty(t, genres)
	assert.Equal(t, []string{"brands", "drives"}, keywords)

	assert.ElementsMatch(t, []int{2, 3, 4}, updated.CreatorIDs())
	assert.Equal(t, view.Version+1, updated.Version)
}

func TestKeywordsAreCaseSensitive(t *testing.T) {
	database := setupTestDB(t)
	repo := NewPublicationRepository(database, testLogger(), nil)
	ctx := context.Background()

	id, _, err := repo.Create(ctx, PublicationInput{Title: "Brand Book", Keywords: []string{"Wyoming"}})
	require.NoError(t, err)

	view, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)
	in := inputFromView(view)
	in.Keywords = []string{"wyoming"}

	_, report, err := repo.Update(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"wyoming"}, report.Keywords.Added)
	assert.Equal(t, []string{"Wyoming"}, report.Keywords.Removed)
}

func TestFailedKeywordWriteRollsBackEveryRelation(t *testing.T) {
	database := setupTestDB(t)
	seedCreators(t, database, 2)
	seedGenres(t, database, 2)
	repo := NewPublicationRepository(database, testLogger(), nil)
	ctx := context.Background()

	id, _, err := repo.Create(ctx, PublicationInput{
		Title:      "Freight Manifests",
		CreatorIDs: []int{1},
		GenreIDs:   []int{1},
		Keywords:   []string{"rail"},
	})
	require.NoError(t, err)
	before, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)

	// Authors and genres are written before keywords in the same transaction
	failInsertsInto(t, database, "publication_keywords", errDiskFull)

	in := inputFromView(before)
	in.Title = "Freight Manifests, 1868"
	in.CreatorIDs = []int{1, 2}
	in.GenreIDs = []int{2}
	in.Keywords = []string{"rail", "freight"}

	_, _, err = repo.Update(ctx, in)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.TransientStoreFailure))

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.NotEmpty(t, appErr.CorrelationID)

	creators, genres, keywords := storedAssociations(t, database, id)
	assert.Equal(t, []int{1}, creators)
	assert.Equal(t, []int{1}, genres)
	assert.Equal(t, []string{"rail"}, keywords)

	after, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Version, after.Version)
}

func TestUnchangedSetsWriteNothing(t *testing.T) {
	database := setupTestDB(t)
	seedCreators(t, database, 2)
	seedGenres(t, database, 1)
	repo := NewPublicationRepository(database, testLogger(), nil)
	ctx := context.Background()

	id, _, err := repo.Create(ctx, PublicationInput{
		Title:      "Homestead Claims",
		CreatorIDs: []int{1, 2},
		GenreIDs:   []int{1},
		Keywords:   []string{"land", "claims"},
	})
	require.NoError(t, err)

	counter := countAssociationWrites(t, database)
	view, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)

	in := inputFromView(view)
	in.Comments = "Water damage on the back cover"
	_, report, err := repo.Update(ctx, in)
	require.NoError(t, err)

	assert.Zero(t, counter.total())
	assert.False(t, report.Changed())
}

func TestTrailDiariesScenario(t *testing.T) {
	database := setupTestDB(t)
	seedCreators(t, database, 7)
	seedGenres(t, database, 2)
	reg := prometheus.NewRegistry()
	repo := NewPublicationRepository(database, testLogger(), metrics.New(reg))
	ctx := context.Background()

	id, _, err := repo.Create(ctx, PublicationInput{Title: "Trail Diaries", CreatorIDs: []int{3}})
	require.NoError(t, err)

	view, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)
	in := inputFromView(view)
	in.CreatorIDs = []int{3, 7}
	in.GenreIDs = []int{2}
	in.Keywords = []string{"wyoming", "1860s"}

	updated, report, err := repo.Update(ctx, in)
	require.NoError(t, err)

	assert.Len(t, report.Creators.Added, 1)
	assert.Empty(t, report.Creators.Removed)
	assert.Len(t, report.Genres.Added, 1)
	assert.Len(t, report.Keywords.Added, 2)
	assert.Equal(t, int64(4), report.Writes())

	// Update returns the state re-read after commit
	assert.ElementsMatch(t, []int{3, 7}, updated.CreatorIDs())
	assert.Equal(t, "Author G", updated.Authors[len(updated.Authors)-1].FullName)
	assert.Equal(t, "G, Author", updated.Authors[len(updated.Authors)-1].SortName)

	fresh, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{3, 7}, fresh.CreatorIDs())
	assert.Equal(t, []int{2}, fresh.GenreIDs())
	assert.ElementsMatch(t, []string{"wyoming", "1860s"}, fresh.Keywords)
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	database := setupTestDB(t)
	repo := NewPublicationRepository(database, testLogger(), nil)
	ctx := context.Background()

	id, _, err := repo.Create(ctx, PublicationInput{Title: "Survey Notes"})
	require.NoError(t, err)
	view, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)

	first := inputFromView(view)
	first.Edition = "Second"
	_, _, err = repo.Update(ctx, first)
	require.NoError(t, err)

	// A second editor still holds the earlier version
	second := inputFromView(view)
	second.Edition = "Third"
	_, _, err = repo.Update(ctx, second)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ConcurrencyConflict))

	current, err := repo.GetForEdit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Second", current.Edition)
	assert.Equal(t, view.Version+1, current.Version)

	// Without an expected version the last commit wins
	second.ExpectedVersion = nil
	updated, _, err := repo.Update(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "Third", updated.Edition)
}

func TestUpdateMissingPublication(t *testing.T) {
	repo := NewPublicationRepository(setupTestDB(t), testLogger(), nil)

	_, _, err := repo.Update(context.Background(), PublicationInput{ID: 41, Title: "Ghost"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestDeletePublication(t *testing.T) {
	database := setupTestDB(t)
	seedCreators(t, database, 1)
	repo := NewPublicationRepository(database, testLogger(), nil)
	requests := NewRequestRepository(database, testLogger(), nil, ReprocessAllow)
	ctx := context.Background()

	free, _, err := repo.Create(ctx, PublicationInput{Title: "Duplicate Copy", CreatorIDs: []int{1}, Keywords: []string{"spare"}})
	require.NoError(t, err)
	requested, _, err := repo.Create(ctx, PublicationInput{Title: "Requested Copy"})
	require.NoError(t, err)

	_, err = requests.Submit(ctx, RequestSubmission{
		PublicationID:   requested,
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           "ada@example.org",
		ResearchPurpose: "Thesis",
	})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, free))
	creators, _, keywords := storedAssociations(t, database, free)
	assert.Empty(t, creators)
	assert.Empty(t, keywords)

	err = repo.Delete(ctx, requested)
	assert.True(t, apperr.IsKind(err, apperr.InUseConflict))

	err = repo.Delete(ctx, free)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}
