package db

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Publication is one catalogued item of the archive
type Publication struct {
	ID               int        `gorm:"primaryKey" json:"id"`
	Title            string     `gorm:"type:varchar(1000);not null;index:idx_publications_title" json:"title"`
	CatalogNumber    *string    `gorm:"type:varchar(255)" json:"catalog_number,omitempty"`
	Comments         *string    `gorm:"type:text" json:"comments,omitempty"`
	CoverPhotoLink   *string    `gorm:"type:varchar(255)" json:"cover_photo_link,omitempty"`
	Edition          *string    `gorm:"type:varchar(255)" json:"edition,omitempty"`
	ISBN             *string    `gorm:"column:isbn;type:varchar(50);index:idx_publications_isbn" json:"isbn,omitempty"`
	Volume           *int       `json:"volume,omitempty"`
	NumberOfVolumes  *int       `json:"number_of_volumes,omitempty"`
	Pages            *int       `json:"pages,omitempty"`
	Printing         *string    `gorm:"type:varchar(255)" json:"printing,omitempty"`
	YearPublished    *string    `gorm:"type:varchar(25);index:idx_publications_year" json:"year_published,omitempty"`
	ConfidenceLevel  *int       `json:"confidence_level,omitempty"`
	DateCaptured     *time.Time `json:"date_captured,omitempty"`
	InternalComments *string    `gorm:"type:text" json:"internal_comments,omitempty"`
	ListPriceCents   *int64     `json:"list_price_cents,omitempty"`
	MediaConditionID *int       `gorm:"index" json:"media_condition_id,omitempty"`
	MediaTypeID      *int       `gorm:"index" json:"media_type_id,omitempty"`
	PublisherID      *int       `gorm:"index" json:"publisher_id,omitempty"`
	ShelfID          *int       `gorm:"index" json:"shelf_id,omitempty"`
	Version          int        `gorm:"not null;default:1" json:"version"`
	UpdatedAt        time.Time  `json:"updated_at"`

	MediaCondition *MediaCondition      `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	MediaType      *MediaType           `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Publisher      *Publisher           `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Shelf          *Shelf               `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Creators       []PublicationCreator `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Genres         []PublicationGenre   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	KeyWords       []PublicationKeyWord `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Publication model
func (Publication) TableName() string {
	return "publications"
}

// BeforeSave stores blank strings as NULL
func (p *Publication) BeforeSave(tx *gorm.DB) error {
	p.Title = strings.TrimSpace(p.Title)
	nullBlank(&p.CatalogNumber, &p.Comments, &p.CoverPhotoLink, &p.Edition, &p.ISBN,
		&p.Printing, &p.YearPublished, &p.InternalComments)
	return nil
}

// Creator is an author of publications
type Creator struct {
	ID         int     `gorm:"primaryKey" json:"id"`
	FirstName  *string `gorm:"type:varchar(255)" json:"first_name,omitempty"`
	MiddleName *string `gorm:"type:varchar(255)" json:"middle_name,omitempty"`
	LastName   *string `gorm:"type:varchar(255);index" json:"last_name,omitempty"`
}

func (Creator) TableName() string {
	return "creators"
}

func (c *Creator) BeforeSave(tx *gorm.DB) error {
	nullBlank(&c.FirstName, &c.MiddleName, &c.LastName)
	return nil
}

// FullName joins the name parts with single spaces
func (c Creator) FullName() string {
	return strings.Join(strings.Fields(deref(c.FirstName)+" "+deref(c.MiddleName)+" "+deref(c.LastName)), " ")
}

// SortName renders "Last, First Middle"
func (c Creator) SortName() string {
	given := strings.Join(strings.Fields(deref(c.FirstName)+" "+deref(c.MiddleName)), " ")
	last := strings.TrimSpace(deref(c.LastName))
	switch {
	case last == "":
		return given
	case given == "":
		return last
	}
	return last + ", " + given
}

// Genre is a subject classification
type Genre struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	SortOrder *int   `json:"sort_order,omitempty"`
}

func (Genre) TableName() string {
	return "genres"
}

func (g *Genre) BeforeSave(tx *gorm.DB) error {
	g.Name = strings.TrimSpace(g.Name)
	return nil
}

// Publisher of a publication. CrossRef holds an alternate name used by
// external catalogues.
type Publisher struct {
	ID       int     `gorm:"primaryKey" json:"id"`
	Name     string  `gorm:"type:varchar(255);not null" json:"name"`
	CrossRef *string `gorm:"type:varchar(255)" json:"cross_ref,omitempty"`
}

func (Publisher) TableName() string {
	return "publishers"
}

func (p *Publisher) BeforeSave(tx *gorm.DB) error {
	p.Name = strings.TrimSpace(p.Name)
	nullBlank(&p.CrossRef)
	return nil
}

// DisplayName appends the cross reference when it adds information
func (p Publisher) DisplayName() string {
	if ref := deref(p.CrossRef); ref != "" && ref != p.Name {
		return p.Name + " (" + ref + ")"
	}
	return p.Name
}

type MediaType struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	SortOrder *int   `json:"sort_order,omitempty"`
}

func (MediaType) TableName() string {
	return "media_types"
}

func (m *MediaType) BeforeSave(tx *gorm.DB) error {
	m.Name = strings.TrimSpace(m.Name)
	return nil
}

type MediaCondition struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	SortOrder *int   `json:"sort_order,omitempty"`
}

func (MediaCondition) TableName() string {
	return "media_conditions"
}

func (m *MediaCondition) BeforeSave(tx *gorm.DB) error {
	m.Name = strings.TrimSpace(m.Name)
	return nil
}

// Bookcase groups shelves
type Bookcase struct {
	ID          int     `gorm:"primaryKey" json:"id"`
	Name        string  `gorm:"type:varchar(255);not null" json:"name"`
	Description *string `gorm:"type:varchar(1000)" json:"description,omitempty"`
	SortOrder   *int    `json:"sort_order,omitempty"`
}

func (Bookcase) TableName() string {
	return "bookcases"
}

func (b *Bookcase) BeforeSave(tx *gorm.DB) error {
	b.Name = strings.TrimSpace(b.Name)
	nullBlank(&b.Description)
	return nil
}

// Shelf is a storage location, optionally inside a bookcase
type Shelf struct {
	ID          int       `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description *string   `gorm:"type:varchar(1000)" json:"description,omitempty"`
	BookcaseID  *int      `gorm:"index" json:"bookcase_id,omitempty"`
	Bookcase    *Bookcase `gorm:"constraint:OnDelete:SET NULL" json:"-"`
}

func (Shelf) TableName() string {
	return "shelves"
}

func (s *Shelf) BeforeSave(tx *gorm.DB) error {
	s.Name = strings.TrimSpace(s.Name)
	nullBlank(&s.Description)
	return nil
}

// Location renders "{Bookcase}-{Shelf}". Bookcase must be loaded.
func (s Shelf) Location() string {
	if s.Bookcase == nil {
		return s.Name
	}
	return s.Bookcase.Name + "-" + s.Name
}

// PublicationCreator links a publication to one of its authors
type PublicationCreator struct {
	ID            int      `gorm:"primaryKey"`
	PublicationID int      `gorm:"not null;uniqueIndex:ux_publication_creators_pair,priority:1"`
	CreatorID     int      `gorm:"not null;uniqueIndex:ux_publication_creators_pair,priority:2;index"`
	Creator       *Creator `gorm:"constraint:OnDelete:CASCADE"`
}

func (PublicationCreator) TableName() string {
	return "publication_creators"
}

// PublicationGenre links a publication to a genre
type PublicationGenre struct {
	ID            int    `gorm:"primaryKey"`
	PublicationID int    `gorm:"not null;uniqueIndex:ux_publication_genres_pair,priority:1"`
	GenreID       int    `gorm:"not null;uniqueIndex:ux_publication_genres_pair,priority:2;index"`
	Genre         *Genre `gorm:"constraint:OnDelete:CASCADE"`
}

func (PublicationGenre) TableName() string {
	return "publication_genres"
}

// PublicationKeyWord is a free-text keyword attached to a publication
type PublicationKeyWord struct {
	ID            int    `gorm:"primaryKey"`
	PublicationID int    `gorm:"not null;uniqueIndex:ux_publication_keywords_pair,priority:1"`
	KeyWord       string `gorm:"column:keyword;type:varchar(255);not null;uniqueIndex:ux_publication_keywords_pair,priority:2;index"`
}

func (PublicationKeyWord) TableName() string {
	return "publication_keywords"
}

// Participant is a person in a publication's chain of custody
type Participant struct {
	ID          int     `gorm:"primaryKey" json:"id"`
	FirstName   *string `gorm:"type:varchar(255)" json:"first_name,omitempty"`
	LastName    *string `gorm:"type:varchar(255)" json:"last_name,omitempty"`
	AlsoKnownAs *string `gorm:"type:varchar(255)" json:"also_known_as,omitempty"`
}

func (Participant) TableName() string {
	return "participants"
}

func (p *Participant) BeforeSave(tx *gorm.DB) error {
	nullBlank(&p.FirstName, &p.LastName, &p.AlsoKnownAs)
	return nil
}

// ParticipantStatus is the role a participant plays in a transfer (donor, borrower, ...)
type ParticipantStatus struct {
	ID                  int     `gorm:"primaryKey" json:"id"`
	Name                string  `gorm:"type:varchar(255);not null" json:"name"`
	ExtendedDescription *string `gorm:"type:varchar(1000)" json:"extended_description,omitempty"`
	TransactionType     *string `gorm:"type:varchar(50)" json:"transaction_type,omitempty"`
	SortOrder           *int    `json:"sort_order,omitempty"`
}

func (ParticipantStatus) TableName() string {
	return "participant_statuses"
}

func (s *ParticipantStatus) BeforeSave(tx *gorm.DB) error {
	s.Name = strings.TrimSpace(s.Name)
	nullBlank(&s.ExtendedDescription, &s.TransactionType)
	return nil
}

// PublicationTransfer records a publication changing hands
type PublicationTransfer struct {
	ID                  int                `gorm:"primaryKey" json:"id"`
	ParticipantID       *int               `gorm:"index" json:"participant_id,omitempty"`
	PublicationID       *int               `gorm:"index" json:"publication_id,omitempty"`
	ParticipantStatusID *int               `gorm:"index" json:"participant_status_id,omitempty"`
	EstimatedValueCents *int64             `json:"estimated_value_cents,omitempty"`
	TransferDate        *time.Time         `json:"transfer_date,omitempty"`
	Participant         *Participant       `json:"-"`
	Publication         *Publication       `json:"-"`
	ParticipantStatus   *ParticipantStatus `json:"-"`
}

func (PublicationTransfer) TableName() string {
	return "publication_transfers"
}

// PublicationRequest is a visitor's borrow or abstract request
type PublicationRequest struct {
	ID              int          `gorm:"primaryKey" json:"id"`
	PublicationID   int          `gorm:"not null;index" json:"publication_id"`
	RequestType     string       `gorm:"type:varchar(50);not null;default:'Borrow'" json:"request_type"`
	FirstName       string       `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName        string       `gorm:"type:varchar(100);not null" json:"last_name"`
	Email           string       `gorm:"type:varchar(255);not null" json:"email"`
	Phone           *string      `gorm:"type:varchar(50)" json:"phone,omitempty"`
	ResearchPurpose string       `gorm:"type:text;not null" json:"research_purpose"`
	AdditionalInfo  *string      `gorm:"type:text" json:"additional_info,omitempty"`
	RequestDate     time.Time    `gorm:"not null;index:idx_publication_requests_date" json:"request_date"`
	Status          string       `gorm:"type:varchar(50);not null;default:'Pending';index:idx_publication_requests_status" json:"status"`
	ProcessedBy     *string      `gorm:"type:varchar(255)" json:"processed_by,omitempty"`
	ProcessedDate   *time.Time   `json:"processed_date,omitempty"`
	AdminNotes      *string      `gorm:"type:text" json:"admin_notes,omitempty"`
	Publication     *Publication `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
}

func (PublicationRequest) TableName() string {
	return "publication_requests"
}

// BeforeCreate stamps the request date
func (r *PublicationRequest) BeforeCreate(tx *gorm.DB) error {
	if r.RequestDate.IsZero() {
		r.RequestDate = time.Now().UTC()
	}
	return nil
}

func (r *PublicationRequest) BeforeSave(tx *gorm.DB) error {
	nullBlank(&r.Phone, &r.AdditionalInfo, &r.ProcessedBy, &r.AdminNotes)
	return nil
}

// Models lists every table owned by the service, in migration order
func Models() []interface{} {
	return []interface{}{
		&Genre{}, &MediaType{}, &MediaCondition{}, &Publisher{}, &Creator{},
		&Bookcase{}, &Shelf{}, &Participant{}, &ParticipantStatus{},
		&Publication{}, &PublicationCreator{}, &PublicationGenre{}, &PublicationKeyWord{},
		&PublicationTransfer{}, &PublicationRequest{},
	}
}

func nullBlank(fields ...**string) {
	for _, f := range fields {
		if *f == nil {
			continue
		}
		if v := strings.TrimSpace(**f); v == "" {
			*f = nil
		} else {
			*f = &v
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
