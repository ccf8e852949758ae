package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/metrics"
	"github.com/bookstore/services/archive/internal/reconcile"
	"github.com/bookstore/services/archive/internal/validator"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Defaults applied to omitted fields when a publication is created
const (
	DefaultMediaConditionID = 5
	DefaultMediaTypeID      = 1
	DefaultVolume           = 1
	DefaultNumberOfVolumes  = 1
	DefaultConfidenceLevel  = 90
	DefaultShelfID          = 1
)

// PublicationInput carries the editable state of a publication
type PublicationInput struct {
	ID int `json:"id,omitempty"`

	// ExpectedVersion, when set, must match the stored version for an update
	// to proceed.
	ExpectedVersion *int `json:"expected_version,omitempty"`

	Title            string `json:"title"`
	CatalogNumber    string `json:"catalog_number,omitempty"`
	Comments         string `json:"comments,omitempty"`
	CoverPhotoLink   string `json:"cover_photo_link,omitempty"`
	Edition          string `json:"edition,omitempty"`
	ISBN             string `json:"isbn,omitempty"`
	Printing         string `json:"printing,omitempty"`
	YearPublished    string `json:"year_published,omitempty"`
	InternalComments string `json:"internal_comments,omitempty"`

	Volume          *int   `json:"volume,omitempty"`
	NumberOfVolumes *int   `json:"number_of_volumes,omitempty"`
	Pages           *int   `json:"pages,omitempty"`
	ConfidenceLevel *int   `json:"confidence_level,omitempty"`
	ListPriceCents  *int64 `json:"list_price_cents,omitempty"`

	MediaConditionID *int `json:"media_condition_id,omitempty"`
	MediaTypeID      *int `json:"media_type_id,omitempty"`
	PublisherID      *int `json:"publisher_id,omitempty"`
	ShelfID          *int `json:"shelf_id,omitempty"`

	CreatorIDs []int    `json:"creator_ids"`
	GenreIDs   []int    `json:"genre_ids"`
	Keywords   []string `json:"keywords"`
}

func (in PublicationInput) validate() error {
	v := validator.New()
	v.Check(validator.NotBlank(in.Title), "title", "must be provided")
	v.Check(validator.MaxChars(in.Title, 1000), "title", "must not be more than 1000 characters")
	v.Check(validator.MaxChars(in.YearPublished, 25), "year_published", "must not be more than 25 characters")
	v.Check(validator.MaxChars(in.ISBN, 50), "isbn", "must not be more than 50 characters")
	v.Check(validator.Between(in.ConfidenceLevel, 0, 100), "confidence_level", "must be between 0 and 100")
	v.Check(in.Volume == nil || *in.Volume >= 0, "volume", "must not be negative")
	v.Check(in.NumberOfVolumes == nil || *in.NumberOfVolumes >= 0, "number_of_volumes", "must not be negative")
	v.Check(in.Pages == nil || *in.Pages >= 0, "pages", "must not be negative")
	v.Check(in.ListPriceCents == nil || *in.ListPriceCents >= 0, "list_price_cents", "must not be negative")
	return v.Err()
}

func (in PublicationInput) target() reconcile.Target {
	return reconcile.Target{CreatorIDs: in.CreatorIDs, GenreIDs: in.GenreIDs, Keywords: in.Keywords}
}

// applyTo copies the scalar fields onto p. Blank strings become NULL in the
// model's save hook.
func (in PublicationInput) applyTo(p *db.Publication) {
	p.Title = in.Title
	p.CatalogNumber = &in.CatalogNumber
	p.Comments = &in.Comments
	p.CoverPhotoLink = &in.CoverPhotoLink
	p.Edition = &in.Edition
	p.ISBN = &in.ISBN
	p.Printing = &in.Printing
	p.YearPublished = &in.YearPublished
	p.InternalComments = &in.InternalComments
	p.Volume = in.Volume
	p.NumberOfVolumes = in.NumberOfVolumes
	p.Pages = in.Pages
	p.ConfidenceLevel = in.ConfidenceLevel
	p.ListPriceCents = in.ListPriceCents
	p.MediaConditionID = in.MediaConditionID
	p.MediaTypeID = in.MediaTypeID
	p.PublisherID = in.PublisherID
	p.ShelfID = in.ShelfID
}

func applyDefaults(p *db.Publication, now time.Time) {
	setDefault(&p.MediaConditionID, DefaultMediaConditionID)
	setDefault(&p.MediaTypeID, DefaultMediaTypeID)
	setDefault(&p.Volume, DefaultVolume)
	setDefault(&p.NumberOfVolumes, DefaultNumberOfVolumes)
	setDefault(&p.ConfidenceLevel, DefaultConfidenceLevel)
	setDefault(&p.ShelfID, DefaultShelfID)
	if p.DateCaptured == nil {
		p.DateCaptured = &now
	}
}

func setDefault(field **int, value int) {
	if *field == nil {
		*field = &value
	}
}

// CreatorRef is an author as shown on a publication
type CreatorRef struct {
	ID         int    `json:"id"`
	FirstName  string `json:"first_name,omitempty"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	FullName   string `json:"full_name"`
	SortName   string `json:"sort_name"`
}

// GenreRef is a genre as shown on a publication
type GenreRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// PublicationEditView is everything an edit form needs
type PublicationEditView struct {
	ID               int        `json:"id"`
	Version          int        `json:"version"`
	Title            string     `json:"title"`
	CatalogNumber    string     `json:"catalog_number,omitempty"`
	Comments         string     `json:"comments,omitempty"`
	CoverPhotoLink   string     `json:"cover_photo_link,omitempty"`
	Edition          string     `json:"edition,omitempty"`
	ISBN             string     `json:"isbn,omitempty"`
	Printing         string     `json:"printing,omitempty"`
	YearPublished    string     `json:"year_published,omitempty"`
	InternalComments string     `json:"internal_comments,omitempty"`
	Volume           *int       `json:"volume,omitempty"`
	NumberOfVolumes  *int       `json:"number_of_volumes,omitempty"`
	Pages            *int       `json:"pages,omitempty"`
	ConfidenceLevel  *int       `json:"confidence_level,omitempty"`
	ListPriceCents   *int64     `json:"list_price_cents,omitempty"`
	DateCaptured     *time.Time `json:"date_captured,omitempty"`

	MediaConditionID   *int   `json:"media_condition_id,omitempty"`
	MediaConditionName string `json:"media_condition_name,omitempty"`
	MediaTypeID        *int   `json:"media_type_id,omitempty"`
	MediaTypeName      string `json:"media_type_name,omitempty"`
	PublisherID        *int   `json:"publisher_id,omitempty"`
	PublisherName      string `json:"publisher_name,omitempty"`
	ShelfID            *int   `json:"shelf_id,omitempty"`
	ShelfLocation      string `json:"shelf_location,omitempty"`

	Authors  []CreatorRef `json:"authors"`
	Genres   []GenreRef   `json:"genres"`
	Keywords []string     `json:"keywords"`
}

// CreatorIDs lists the author ids in display order
func (v *PublicationEditView) CreatorIDs() []int {
	ids := make([]int, 0, len(v.Authors))
	for _, a := range v.Authors {
		ids = append(ids, a.ID)
	}
	return ids
}

// GenreIDs lists the genre ids in display order
func (v *PublicationEditView) GenreIDs() []int {
	ids := make([]int, 0, len(v.Genres))
	for _, g := range v.Genres {
		ids = append(ids, g.ID)
	}
	return ids
}

// PublicationRepository owns publications and the transaction boundary for
// edits spanning their association tables.
type PublicationRepository struct {
	db      *db.DB
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPublicationRepository creates a new publication repository. m may be nil.
func NewPublicationRepository(database *db.DB, logger *zap.Logger, m *metrics.Metrics) *PublicationRepository {
	return &PublicationRepository{
		db:      database,
		log:     logger,
		metrics: m,
		now:     time.Now,
	}
}

// GetForEdit loads a publication with its associations materialised
func (r *PublicationRepository) GetForEdit(ctx context.Context, id int) (*PublicationEditView, error) {
	pub, err := loadPublication(r.db.WithContext(ctx), id)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFoundf("Publication %d was not found.", id)
		}
		return nil, storeFailure(r.log, r.metrics, "get_publication", err,
			"An error occurred while loading the publication", zap.Int("publication_id", id))
	}
	return editViewOf(pub), nil
}

// Create inserts a publication with defaults for omitted fields and links its
// authors, genres and keywords in the same transaction.
func (r *PublicationRepository) Create(ctx context.Context, in PublicationInput) (int, reconcile.Report, error) {
	var report reconcile.Report
	if err := in.validate(); err != nil {
		return 0, report, err
	}

	var pub db.Publication
	in.applyTo(&pub)
	applyDefaults(&pub, r.now().UTC())
	pub.Version = 1

	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		if err := checkReferences(tx, &pub, in); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&pub).Error; err != nil {
			return fmt.Errorf("insert publication: %w", err)
		}

		var err error
		report, err = reconcile.Reconcile(ctx, associationsFor(tx), pub.ID, in.target())
		return err
	})
	if err != nil {
		return 0, reconcile.Report{}, storeFailure(r.log, r.metrics, "create_publication", err,
			"An error occurred while creating the publication", zap.String("title", in.Title))
	}

	r.metrics.RecordReconcile(report)
	r.log.Info("Publication created",
		zap.Int("publication_id", pub.ID),
		zap.String("title", pub.Title),
		zap.Int64("association_writes", report.Writes()),
	)
	return pub.ID, report, nil
}

// Update applies scalar changes and reconciles associations in one
// transaction, then returns the state as stored after commit.
func (r *PublicationRepository) Update(ctx context.Context, in PublicationInput) (*PublicationEditView, reconcile.Report, error) {
	var report reconcile.Report
	if err := in.validate(); err != nil {
		return nil, report, err
	}

	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		var pub db.Publication
		if err := tx.First(&pub, in.ID).Error; err != nil {
			if isNotFound(err) {
				return apperr.NotFoundf("Publication %d was not found.", in.ID)
			}
			return fmt.Errorf("load publication: %w", err)
		}

		loaded := pub.Version
		if in.ExpectedVersion != nil && *in.ExpectedVersion != loaded {
			return apperr.Conflictf("Publication %d was changed by someone else. Reload it and try again.", in.ID)
		}

		in.applyTo(&pub)
		if err := checkReferences(tx, &pub, in); err != nil {
			return err
		}
		pub.Version = loaded + 1

		res := tx.Model(&pub).
			Where("version = ?", loaded).
			Select("*").
			Omit(clause.Associations).
			Updates(&pub)
		if res.Error != nil {
			return fmt.Errorf("update publication: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("Publication %d was changed by someone else. Reload it and try again.", in.ID)
		}

		var err error
		report, err = reconcile.Reconcile(ctx, associationsFor(tx), pub.ID, in.target())
		return err
	})
	if err != nil {
		return nil, reconcile.Report{}, storeFailure(r.log, r.metrics, "update_publication", err,
			"An error occurred while updating the publication", zap.Int("publication_id", in.ID))
	}

	r.metrics.RecordReconcile(report)
	r.log.Info("Publication updated",
		zap.Int("publication_id", in.ID),
		zap.Int("creators_added", len(report.Creators.Added)),
		zap.Int("creators_removed", len(report.Creators.Removed)),
		zap.Int("genres_added", len(report.Genres.Added)),
		zap.Int("genres_removed", len(report.Genres.Removed)),
		zap.Int("keywords_added", len(report.Keywords.Added)),
		zap.Int("keywords_removed", len(report.Keywords.Removed)),
	)

	view, err := r.GetForEdit(ctx, in.ID)
	if err != nil {
		return nil, report, err
	}
	return view, report, nil
}

// Delete removes a publication and its association rows. Publications with
// transfer history or requests are kept.
func (r *PublicationRepository) Delete(ctx context.Context, id int) error {
	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		var pub db.Publication
		if err := tx.Select("id").First(&pub, id).Error; err != nil {
			if isNotFound(err) {
				return apperr.NotFoundf("Publication %d was not found.", id)
			}
			return err
		}

		for _, dep := range []struct {
			model interface{}
			what  string
		}{
			{&db.PublicationTransfer{}, "transfer records"},
			{&db.PublicationRequest{}, "requests"},
		} {
			var n int64
			if err := tx.Model(dep.model).Where("publication_id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return apperr.InUsef("Publication %d cannot be deleted because it has %s.", id, dep.what)
			}
		}

		for _, model := range []interface{}{&db.PublicationCreator{}, &db.PublicationGenre{}, &db.PublicationKeyWord{}} {
			if err := tx.Where("publication_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&db.Publication{}, id).Error
	})
	if err != nil {
		return storeFailure(r.log, r.metrics, "delete_publication", err,
			"An error occurred while deleting the publication", zap.Int("publication_id", id))
	}

	r.log.Info("Publication deleted", zap.Int("publication_id", id))
	return nil
}

// checkReferences verifies that every referenced lookup row exists
func checkReferences(tx *gorm.DB, pub *db.Publication, in PublicationInput) error {
	target := in.target().Normalize()

	missing, err := missingIDs(tx, &db.Creator{}, target.CreatorIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.NotFoundf("Author(s) %v were not found.", missing)
	}

	missing, err = missingIDs(tx, &db.Genre{}, target.GenreIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.NotFoundf("Genre(s) %v were not found.", missing)
	}

	for _, ref := range []struct {
		id    *int
		model interface{}
		label string
	}{
		{pub.MediaConditionID, &db.MediaCondition{}, "Media condition"},
		{pub.MediaTypeID, &db.MediaType{}, "Media type"},
		{pub.PublisherID, &db.Publisher{}, "Publisher"},
		{pub.ShelfID, &db.Shelf{}, "Shelf"},
	} {
		if ref.id == nil {
			continue
		}
		missing, err := missingIDs(tx, ref.model, []int{*ref.id})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return apperr.NotFoundf("%s %d was not found.", ref.label, *ref.id)
		}
	}
	return nil
}

func loadPublication(tx *gorm.DB, id int) (*db.Publication, error) {
	var pub db.Publication
	err := tx.
		Preload("MediaCondition").
		Preload("MediaType").
		Preload("Publisher").
		Preload("Shelf.Bookcase").
		Preload("Creators", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		Preload("Creators.Creator").
		Preload("Genres", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		Preload("Genres.Genre").
		Preload("KeyWords", func(q *gorm.DB) *gorm.DB { return q.Order("keyword") }).
		First(&pub, id).Error
	if err != nil {
		return nil, err
	}
	return &pub, nil
}

func editViewOf(p *db.Publication) *PublicationEditView {
	v := &PublicationEditView{
		ID:               p.ID,
		Version:          p.Version,
		Title:            p.Title,
		CatalogNumber:    str(p.CatalogNumber),
		Comments:         str(p.Comments),
		CoverPhotoLink:   str(p.CoverPhotoLink),
		Edition:          str(p.Edition),
		ISBN:             str(p.ISBN),
		Printing:         str(p.Printing),
		YearPublished:    str(p.YearPublished),
		InternalComments: str(p.InternalComments),
		Volume:           p.Volume,
		NumberOfVolumes:  p.NumberOfVolumes,
		Pages:            p.Pages,
		ConfidenceLevel:  p.ConfidenceLevel,
		ListPriceCents:   p.ListPriceCents,
		DateCaptured:     p.DateCaptured,
		MediaConditionID: p.MediaConditionID,
		MediaTypeID:      p.MediaTypeID,
		PublisherID:      p.PublisherID,
		ShelfID:          p.ShelfID,
		Authors:          make([]CreatorRef, 0, len(p.Creators)),
		Genres:           make([]GenreRef, 0, len(p.Genres)),
		Keywords:         make([]string, 0, len(p.KeyWords)),
	}

	if p.MediaCondition != nil {
		v.MediaConditionName = p.MediaCondition.Name
	}
	if p.MediaType != nil {
		v.MediaTypeName = p.MediaType.Name
	}
	if p.Publisher != nil {
		v.PublisherName = p.Publisher.DisplayName()
	}
	if p.Shelf != nil {
		v.ShelfLocation = p.Shelf.Location()
	}

	for _, pc := range p.Creators {
		if pc.Creator != nil {
			v.Authors = append(v.Authors, creatorRef(*pc.Creator))
		}
	}
	for _, pg := range p.Genres {
		if pg.Genre != nil {
			v.Genres = append(v.Genres, GenreRef{ID: pg.Genre.ID, Name: pg.Genre.Name})
		}
	}
	for _, k := range p.KeyWords {
		v.Keywords = append(v.Keywords, k.KeyWord)
	}
	return v
}

func creatorRef(c db.Creator) CreatorRef {
	return CreatorRef{
		ID:         c.ID,
		FirstName:  str(c.FirstName),
		MiddleName: str(c.MiddleName),
		LastName:   str(c.LastName),
		FullName:   c.FullName(),
		SortName:   c.SortName(),
	}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
