package repo

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/metrics"
	"github.com/bookstore/services/archive/internal/validator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Paging defaults for catalog search
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Sort keys accepted by Search
const (
	SortTitle  = "title"
	SortAuthor = "author"
	SortYear   = "year"
	SortType   = "type"
)

var sortColumns = map[string]string{
	SortTitle: "LOWER(publications.title)",
	SortAuthor: "(SELECT MIN(LOWER(COALESCE(c.last_name, ''))) FROM publication_creators pc " +
		"JOIN creators c ON c.id = pc.creator_id WHERE pc.publication_id = publications.id)",
	SortYear: "publications.year_published",
	SortType: "(SELECT LOWER(mt.name) FROM media_types mt WHERE mt.id = publications.media_type_id)",
}

// SearchCriteria filters the public catalog. Zero values mean no filter.
type SearchCriteria struct {
	Title         string
	CreatorID     int
	GenreID       int
	MediaTypeID   int
	Keyword       string
	Publisher     string
	YearPublished string
	ISBN          string
	YearFrom      *int
	YearTo        *int

	Sort       string
	Descending bool
	Page       int
	PageSize   int
}

func (c *SearchCriteria) normalize() error {
	c.Sort = strings.ToLower(strings.TrimSpace(c.Sort))
	if c.Sort == "" {
		c.Sort = SortTitle
	}
	if c.Page == 0 {
		c.Page = 1
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}

	v := validator.New()
	v.Check(c.Page > 0, "page", "must be greater than zero")
	v.Check(c.PageSize > 0 && c.PageSize <= MaxPageSize, "page_size", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	v.Check(validator.In(c.Sort, SortTitle, SortAuthor, SortYear, SortType), "sort", "must be one of title, author, year or type")
	v.Check(validator.Between(c.YearFrom, 0, 9999), "year_from", "must be a four digit year")
	v.Check(validator.Between(c.YearTo, 0, 9999), "year_to", "must be a four digit year")
	return v.Err()
}

// scope applies the filters to a publications query
func (c SearchCriteria) scope(tx *gorm.DB) *gorm.DB {
	if s := strings.TrimSpace(c.Title); s != "" {
		tx = tx.Where(`LOWER(publications.title) LIKE ? ESCAPE '\'`, contains(s))
	}
	if c.CreatorID > 0 {
		tx = tx.Where("EXISTS (SELECT 1 FROM publication_creators pc WHERE pc.publication_id = publications.id AND pc.creator_id = ?)", c.CreatorID)
	}
	if c.GenreID > 0 {
		tx = tx.Where("EXISTS (SELECT 1 FROM publication_genres pg WHERE pg.publication_id = publications.id AND pg.genre_id = ?)", c.GenreID)
	}
	if c.MediaTypeID > 0 {
		tx = tx.Where("publications.media_type_id = ?", c.MediaTypeID)
	}
	if s := strings.TrimSpace(c.Keyword); s != "" {
		tx = tx.Where(`EXISTS (SELECT 1 FROM publication_keywords pk WHERE pk.publication_id = publications.id AND LOWER(pk.keyword) LIKE ? ESCAPE '\')`, contains(s))
	}
	if s := strings.TrimSpace(c.Publisher); s != "" {
		tx = tx.Where(`publications.publisher_id IN (SELECT p.id FROM publishers p WHERE LOWER(p.name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(p.cross_ref, '')) LIKE ? ESCAPE '\')`,
			contains(s), contains(s))
	}
	if s := strings.TrimSpace(c.YearPublished); s != "" {
		tx = tx.Where("publications.year_published = ?", s)
	}
	if s := strings.TrimSpace(c.ISBN); s != "" {
		tx = tx.Where("publications.isbn = ?", s)
	}
	if c.YearFrom != nil || c.YearTo != nil {
		tx = tx.Scopes(numericYear)
		if c.YearFrom != nil {
			tx = tx.Where("publications.year_published >= ?", fmt.Sprintf("%04d", *c.YearFrom))
		}
		if c.YearTo != nil {
			tx = tx.Where("publications.year_published <= ?", fmt.Sprintf("%04d", *c.YearTo))
		}
	}
	return tx
}

// numericYear keeps publications whose year is exactly four digits
func numericYear(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Where("publications.year_published ~ '^[0-9]{4}$'")
	}
	return tx.Where("publications.year_published GLOB '[0-9][0-9][0-9][0-9]'")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// contains builds a LIKE pattern matching s literally. Queries using it
// declare ESCAPE '\'.
func contains(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// Metadata describes the page returned by Search
type Metadata struct {
	CurrentPage  int   `json:"current_page,omitempty"`
	PageSize     int   `json:"page_size,omitempty"`
	FirstPage    int   `json:"first_page,omitempty"`
	LastPage     int   `json:"last_page,omitempty"`
	TotalRecords int64 `json:"total_records"`
}

func calculateMetadata(totalRecords int64, page, pageSize int) Metadata {
	if totalRecords == 0 {
		return Metadata{}
	}
	return Metadata{
		CurrentPage:  page,
		PageSize:     pageSize,
		FirstPage:    1,
		LastPage:     int(math.Ceil(float64(totalRecords) / float64(pageSize))),
		TotalRecords: totalRecords,
	}
}

// PublicationSummary is a search hit
type PublicationSummary struct {
	ID              int      `json:"id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Genres          []string `json:"genres"`
	YearPublished   string   `json:"year_published,omitempty"`
	MediaType       string   `json:"media_type,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	Comments        string   `json:"comments,omitempty"`
	Volume          *int     `json:"volume,omitempty"`
	NumberOfVolumes *int     `json:"number_of_volumes,omitempty"`
	Pages           *int     `json:"pages,omitempty"`
	CoverPhotoLink  string   `json:"cover_photo_link,omitempty"`
}

// SearchResult is one page of search hits
type SearchResult struct {
	Items    []PublicationSummary `json:"items"`
	Metadata Metadata             `json:"metadata"`
}

// PublicationDetail is the public view of one publication. Internal comments
// and the edit version are left out.
type PublicationDetail struct {
	ID              int          `json:"id"`
	Title           string       `json:"title"`
	CatalogNumber   string       `json:"catalog_number,omitempty"`
	Comments        string       `json:"comments,omitempty"`
	CoverPhotoLink  string       `json:"cover_photo_link,omitempty"`
	Edition         string       `json:"edition,omitempty"`
	ISBN            string       `json:"isbn,omitempty"`
	Printing        string       `json:"printing,omitempty"`
	YearPublished   string       `json:"year_published,omitempty"`
	Volume          *int         `json:"volume,omitempty"`
	NumberOfVolumes *int         `json:"number_of_volumes,omitempty"`
	Pages           *int         `json:"pages,omitempty"`
	MediaType       string       `json:"media_type,omitempty"`
	MediaCondition  string       `json:"media_condition,omitempty"`
	Publisher       string       `json:"publisher,omitempty"`
	ShelfLocation   string       `json:"shelf_location,omitempty"`
	Authors         []CreatorRef `json:"authors"`
	Genres          []GenreRef   `json:"genres"`
	Keywords        []string     `json:"keywords"`
}

// CollectionStatistics summarises the catalog
type CollectionStatistics struct {
	TotalPublications int64            `json:"total_publications"`
	ByMediaType       map[string]int64 `json:"by_media_type"`
	EarliestYear      string           `json:"earliest_year,omitempty"`
	LatestYear        string           `json:"latest_year,omitempty"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// CatalogRepository answers read-only catalog queries
type CatalogRepository struct {
	db      *db.DB
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewCatalogRepository creates a new catalog repository. m may be nil.
func NewCatalogRepository(database *db.DB, logger *zap.Logger, m *metrics.Metrics) *CatalogRepository {
	return &CatalogRepository{
		db:      database,
		log:     logger,
		metrics: m,
	}
}

// Search returns a page of publications matching c
func (r *CatalogRepository) Search(ctx context.Context, c SearchCriteria) (*SearchResult, error) {
	if err := c.normalize(); err != nil {
		return nil, err
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&db.Publication{}).Scopes(c.scope).Count(&total).Error; err != nil {
		return nil, storeFailure(r.log, r.metrics, "search", err, "An error occurred while searching the catalog")
	}

	direction := " ASC"
	if c.Descending {
		direction = " DESC"
	}

	var rows []db.Publication
	err := r.db.WithContext(ctx).
		Scopes(c.scope).
		Preload("MediaType").
		Preload("Publisher").
		Preload("Creators", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		Preload("Creators.Creator").
		Preload("Genres", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		Preload("Genres.Genre").
		Order(sortColumns[c.Sort] + direction).
		Order("publications.id").
		Offset((c.Page - 1) * c.PageSize).
		Limit(c.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "search", err, "An error occurred while searching the catalog")
	}

	items := make([]PublicationSummary, 0, len(rows))
	for _, p := range rows {
		items = append(items, summaryOf(p))
	}
	return &SearchResult{Items: items, Metadata: calculateMetadata(total, c.Page, c.PageSize)}, nil
}

// GetDetail returns the public view of a publication
func (r *CatalogRepository) GetDetail(ctx context.Context, id int) (*PublicationDetail, error) {
	pub, err := loadPublication(r.db.WithContext(ctx), id)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFoundf("Publication %d was not found.", id)
		}
		return nil, storeFailure(r.log, r.metrics, "get_detail", err,
			"An error occurred while loading the publication", zap.Int("publication_id", id))
	}

	edit := editViewOf(pub)
	return &PublicationDetail{
		ID:              edit.ID,
		Title:           edit.Title,
		CatalogNumber:   edit.CatalogNumber,
		Comments:        edit.Comments,
		CoverPhotoLink:  edit.CoverPhotoLink,
		Edition:         edit.Edition,
		ISBN:            edit.ISBN,
		Printing:        edit.Printing,
		YearPublished:   edit.YearPublished,
		Volume:          edit.Volume,
		NumberOfVolumes: edit.NumberOfVolumes,
		Pages:           edit.Pages,
		MediaType:       edit.MediaTypeName,
		MediaCondition:  edit.MediaConditionName,
		Publisher:       edit.PublisherName,
		ShelfLocation:   edit.ShelfLocation,
		Authors:         edit.Authors,
		Genres:          edit.Genres,
		Keywords:        edit.Keywords,
	}, nil
}

// Keywords lists every distinct keyword in use
func (r *CatalogRepository) Keywords(ctx context.Context) ([]string, error) {
	keywords := []string{}
	err := r.db.WithContext(ctx).
		Model(&db.PublicationKeyWord{}).
		Distinct("keyword").
		Order("keyword").
		Pluck("keyword", &keywords).Error
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "keywords", err, "An error occurred while loading keywords")
	}
	return keywords, nil
}

// CollectionStatistics counts publications per media type and finds the
// earliest and latest four digit year.
func (r *CatalogRepository) CollectionStatistics(ctx context.Context) (*CollectionStatistics, error) {
	tx := r.db.WithContext(ctx)
	stats := &CollectionStatistics{GeneratedAt: time.Now().UTC()}

	byType, err := publicationsByMediaType(tx)
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "collection_statistics", err, "An error occurred while loading statistics")
	}
	stats.ByMediaType = byType
	for _, n := range byType {
		stats.TotalPublications += n
	}

	var years struct {
		Earliest *string
		Latest   *string
	}
	err = tx.Model(&db.Publication{}).
		Scopes(numericYear).
		Select("MIN(publications.year_published) AS earliest, MAX(publications.year_published) AS latest").
		Scan(&years).Error
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "collection_statistics", err, "An error occurred while loading statistics")
	}
	stats.EarliestYear, stats.LatestYear = str(years.Earliest), str(years.Latest)
	return stats, nil
}

// Snapshot feeds the catalog gauges
func (r *CatalogRepository) Snapshot(ctx context.Context) (metrics.Snapshot, error) {
	tx := r.db.WithContext(ctx)
	byType, err := publicationsByMediaType(tx)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	byStatus, err := requestCounts(tx)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	return metrics.Snapshot{PublicationsByMediaType: byType, RequestsByStatus: byStatus}, nil
}

func publicationsByMediaType(tx *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Name *string
		N    int64
	}
	err := tx.Model(&db.Publication{}).
		Select("media_types.name AS name, COUNT(*) AS n").
		Joins("LEFT JOIN media_types ON media_types.id = publications.media_type_id").
		Group("media_types.name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		name := str(row.Name)
		if name == "" {
			name = "Unknown"
		}
		counts[name] += row.N
	}
	return counts, nil
}

func summaryOf(p db.Publication) PublicationSummary {
	s := PublicationSummary{
		ID:              p.ID,
		Title:           p.Title,
		Authors:         make([]string, 0, len(p.Creators)),
		Genres:          make([]string, 0, len(p.Genres)),
		YearPublished:   str(p.YearPublished),
		Comments:        str(p.Comments),
		Volume:          p.Volume,
		NumberOfVolumes: p.NumberOfVolumes,
		Pages:           p.Pages,
		CoverPhotoLink:  str(p.CoverPhotoLink),
	}
	if p.MediaType != nil {
		s.MediaType = p.MediaType.Name
	}
	if p.Publisher != nil {
		s.Publisher = p.Publisher.DisplayName()
	}
	for _, pc := range p.Creators {
		if pc.Creator != nil {
			s.Authors = append(s.Authors, pc.Creator.FullName())
		}
	}
	for _, pg := range p.Genres {
		if pg.Genre != nil {
			s.Genres = append(s.Genres, pg.Genre.Name)
		}
	}
	return s
}
