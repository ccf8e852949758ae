package repo

import (
	"strings"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/validator"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LookupItem is the editable shape shared by every lookup kind. Each kind
// reads the fields that apply to it; DisplayName and SortName are derived.
type LookupItem struct {
	ID              int    `json:"id"`
	Name            string `json:"name,omitempty"`
	SortOrder       *int   `json:"sort_order,omitempty"`
	Description     string `json:"description,omitempty"`
	BookcaseID      *int   `json:"bookcase_id,omitempty"`
	CrossRef        string `json:"cross_ref,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	MiddleName      string `json:"middle_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	AlsoKnownAs     string `json:"also_known_as,omitempty"`
	TransactionType string `json:"transaction_type,omitempty"`
	DisplayName     string `json:"display_name"`
	SortName        string `json:"sort_name,omitempty"`
}

// LookupKind is one of the reference tables managed by LookupRepository.
// The set is closed: only this package can implement it.
type LookupKind interface {
	// Slug is the kind's identifier in URLs and logs
	Slug() string
	// Label is the human readable singular name
	Label() string

	list(tx *gorm.DB) ([]LookupItem, error)
	get(tx *gorm.DB, id int) (LookupItem, error)
	validate(item LookupItem) error
	isDuplicate(tx *gorm.DB, item LookupItem, excludeID int) (bool, error)
	checkReferences(tx *gorm.DB, item LookupItem) error
	insert(tx *gorm.DB, item LookupItem) (int, error)
	update(tx *gorm.DB, item LookupItem) error
	isInUse(tx *gorm.DB, id int) (bool, error)
	remove(tx *gorm.DB, id int) (int64, error)
}

// The lookup kinds
var (
	Genre             LookupKind = newLookupKind("genres", "genre", genreCodec, sortedByName, nameUnique, usedBy(&db.PublicationGenre{}, "genre_id"))
	MediaType         LookupKind = newLookupKind("media-types", "media type", mediaTypeCodec, sortedByName, nameUnique, usedBy(&db.Publication{}, "media_type_id"))
	MediaCondition    LookupKind = newLookupKind("media-conditions", "media condition", mediaConditionCodec, sortedByName, nameUnique, usedBy(&db.Publication{}, "media_condition_id"))
	Publisher         LookupKind = newLookupKind("publishers", "publisher", publisherCodec, byName, nameUnique, usedBy(&db.Publication{}, "publisher_id"))
	Creator           LookupKind = newLookupKind("creators", "author", creatorCodec, byLastFirst, creatorUnique, usedBy(&db.PublicationCreator{}, "creator_id"))
	Bookcase          LookupKind = newLookupKind("bookcases", "bookcase", bookcaseCodec, sortedByName, nameUnique, usedBy(&db.Shelf{}, "bookcase_id"))
	Shelf             LookupKind = newLookupKind("shelves", "shelf", shelfCodec, byBookcaseThenName, shelfUnique, usedBy(&db.Publication{}, "shelf_id"))
	ParticipantStatus LookupKind = newLookupKind("participant-statuses", "participant status", participantStatusCodec, sortedByName, nameUnique, usedBy(&db.PublicationTransfer{}, "participant_status_id"))
	Participant       LookupKind = newLookupKind("participants", "participant", participantCodec, byLastFirst, participantUnique, usedBy(&db.PublicationTransfer{}, "participant_id"))
)

// LookupKinds lists every kind
func LookupKinds() []LookupKind {
	return []LookupKind{Genre, MediaType, MediaCondition, Publisher, Creator, Bookcase, Shelf, ParticipantStatus, Participant}
}

// ParseLookupKind resolves a kind from its slug
func ParseLookupKind(slug string) (LookupKind, bool) {
	for _, k := range LookupKinds() {
		if k.Slug() == slug {
			return k, true
		}
	}
	return nil, false
}

// rowCodec converts between a table row and LookupItem
type rowCodec[T any] struct {
	toItem   func(T) LookupItem
	fromItem func(*T, LookupItem)
	validate func(*validator.Validator, LookupItem)
	// references checks foreign keys carried by the item
	references func(tx *gorm.DB, item LookupItem) error
}

// ordering scopes a list query
type ordering func(tx *gorm.DB) *gorm.DB

// uniqueness scopes a query to rows that would collide with item
type uniqueness func(tx *gorm.DB, item LookupItem) *gorm.DB

// dependent is a table whose column references a lookup row
type dependent struct {
	model  interface{}
	column string
}

func usedBy(model interface{}, column string) []dependent {
	return []dependent{{model: model, column: column}}
}

type tableKind[T any] struct {
	slug, label string
	codec       rowCodec[T]
	order       ordering
	unique      uniqueness
	dependents  []dependent
}

func newLookupKind[T any](slug, label string, codec rowCodec[T], order ordering, unique uniqueness, dependents []dependent) LookupKind {
	return &tableKind[T]{slug: slug, label: label, codec: codec, order: order, unique: unique, dependents: dependents}
}

func (k *tableKind[T]) Slug() string  { return k.slug }
func (k *tableKind[T]) Label() string { return k.label }

func (k *tableKind[T]) list(tx *gorm.DB) ([]LookupItem, error) {
	var rows []T
	if err := k.order(tx.Model(new(T))).Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]LookupItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, k.codec.toItem(row))
	}
	return items, nil
}

func (k *tableKind[T]) get(tx *gorm.DB, id int) (LookupItem, error) {
	var row T
	if err := k.order(tx.Model(new(T))).Where(tableName[T]()+".id = ?", id).First(&row).Error; err != nil {
		return LookupItem{}, err
	}
	return k.codec.toItem(row), nil
}

func (k *tableKind[T]) validate(item LookupItem) error {
	v := validator.New()
	k.codec.validate(v, item)
	return v.Err()
}

func (k *tableKind[T]) isDuplicate(tx *gorm.DB, item LookupItem, excludeID int) (bool, error) {
	q := k.unique(tx.Model(new(T)), item)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	err := q.Count(&n).Error
	return n > 0, err
}

func (k *tableKind[T]) checkReferences(tx *gorm.DB, item LookupItem) error {
	if k.codec.references == nil {
		return nil
	}
	return k.codec.references(tx, item)
}

func (k *tableKind[T]) insert(tx *gorm.DB, item LookupItem) (int, error) {
	var row T
	k.codec.fromItem(&row, item)
	if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
		return 0, err
	}
	return k.codec.toItem(row).ID, nil
}

func (k *tableKind[T]) update(tx *gorm.DB, item LookupItem) error {
	var row T
	if err := tx.First(&row, item.ID).Error; err != nil {
		return err
	}
	k.codec.fromItem(&row, item)
	return tx.Omit(clause.Associations).Save(&row).Error
}

func (k *tableKind[T]) isInUse(tx *gorm.DB, id int) (bool, error) {
	for _, dep := range k.dependents {
		var n int64
		if err := tx.Model(dep.model).Where(dep.column+" = ?", id).Count(&n).Error; err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (k *tableKind[T]) remove(tx *gorm.DB, id int) (int64, error) {
	res := tx.Delete(new(T), id)
	return res.RowsAffected, res.Error
}

func tableName[T any]() string {
	var row T
	if t, ok := any(row).(interface{ TableName() string }); ok {
		return t.TableName()
	}
	return ""
}

// Orderings

func sortedByName(tx *gorm.DB) *gorm.DB {
	return tx.Order("CASE WHEN sort_order IS NULL THEN 1 ELSE 0 END").Order("sort_order").Order("LOWER(name)")
}

func byName(tx *gorm.DB) *gorm.DB {
	return tx.Order("LOWER(name)")
}

func byLastFirst(tx *gorm.DB) *gorm.DB {
	return tx.Order("LOWER(COALESCE(last_name, ''))").Order("LOWER(COALESCE(first_name, ''))")
}

func byBookcaseThenName(tx *gorm.DB) *gorm.DB {
	return tx.Select("shelves.*").
		Joins("LEFT JOIN bookcases ON bookcases.id = shelves.bookcase_id").
		Preload("Bookcase").
		Order("LOWER(COALESCE(bookcases.name, ''))").
		Order("LOWER(shelves.name)")
}

// Uniqueness rules

func nameUnique(tx *gorm.DB, item LookupItem) *gorm.DB {
	return tx.Where("LOWER(name) = LOWER(?)", strings.TrimSpace(item.Name))
}

func shelfUnique(tx *gorm.DB, item LookupItem) *gorm.DB {
	bookcase := 0
	if item.BookcaseID != nil {
		bookcase = *item.BookcaseID
	}
	return tx.Where("LOWER(name) = LOWER(?) AND COALESCE(bookcase_id, 0) = ?", strings.TrimSpace(item.Name), bookcase)
}

func creatorUnique(tx *gorm.DB, item LookupItem) *gorm.DB {
	return tx.Where(
		"LOWER(COALESCE(first_name, '')) = LOWER(?) AND LOWER(COALESCE(middle_name, '')) = LOWER(?) AND LOWER(COALESCE(last_name, '')) = LOWER(?)",
		strings.TrimSpace(item.FirstName), strings.TrimSpace(item.MiddleName), strings.TrimSpace(item.LastName),
	)
}

func participantUnique(tx *gorm.DB, item LookupItem) *gorm.DB {
	return tx.Where(
		"LOWER(COALESCE(first_name, '')) = LOWER(?) AND LOWER(COALESCE(last_name, '')) = LOWER(?)",
		strings.TrimSpace(item.FirstName), strings.TrimSpace(item.LastName),
	)
}

// Row codecs

func requireName(v *validator.Validator, item LookupItem) {
	v.Check(validator.NotBlank(item.Name), "name", "must be provided")
	v.Check(validator.MaxChars(item.Name, 255), "name", "must not be more than 255 characters")
}

func optional(s string) *string {
	return &s
}

var genreCodec = rowCodec[db.Genre]{
	toItem: func(g db.Genre) LookupItem {
		return LookupItem{ID: g.ID, Name: g.Name, SortOrder: g.SortOrder, DisplayName: g.Name}
	},
	fromItem: func(g *db.Genre, item LookupItem) {
		g.Name, g.SortOrder = item.Name, item.SortOrder
	},
	validate: requireName,
}

var mediaTypeCodec = rowCodec[db.MediaType]{
	toItem: func(m db.MediaType) LookupItem {
		return LookupItem{ID: m.ID, Name: m.Name, SortOrder: m.SortOrder, DisplayName: m.Name}
	},
	fromItem: func(m *db.MediaType, item LookupItem) {
		m.Name, m.SortOrder = item.Name, item.SortOrder
	},
	validate: requireName,
}

var mediaConditionCodec = rowCodec[db.MediaCondition]{
	toItem: func(m db.MediaCondition) LookupItem {
		return LookupItem{ID: m.ID, Name: m.Name, SortOrder: m.SortOrder, DisplayName: m.Name}
	},
	fromItem: func(m *db.MediaCondition, item LookupItem) {
		m.Name, m.SortOrder = item.Name, item.SortOrder
	},
	validate: requireName,
}

var publisherCodec = rowCodec[db.Publisher]{
	toItem: func(p db.Publisher) LookupItem {
		return LookupItem{ID: p.ID, Name: p.Name, CrossRef: str(p.CrossRef), DisplayName: p.DisplayName()}
	},
	fromItem: func(p *db.Publisher, item LookupItem) {
		p.Name, p.CrossRef = item.Name, optional(item.CrossRef)
	},
	validate: requireName,
}

var creatorCodec = rowCodec[db.Creator]{
	toItem: func(c db.Creator) LookupItem {
		ref := creatorRef(c)
		return LookupItem{
			ID: c.ID, FirstName: ref.FirstName, MiddleName: ref.MiddleName, LastName: ref.LastName,
			DisplayName: ref.FullName, SortName: ref.SortName,
		}
	},
	fromItem: func(c *db.Creator, item LookupItem) {
		c.FirstName, c.MiddleName, c.LastName = optional(item.FirstName), optional(item.MiddleName), optional(item.LastName)
	},
	validate: func(v *validator.Validator, item LookupItem) {
		v.Check(validator.NotBlank(item.FirstName+item.MiddleName+item.LastName), "last_name", "at least one name must be provided")
		for field, value := range map[string]string{"first_name": item.FirstName, "middle_name": item.MiddleName, "last_name": item.LastName} {
			v.Check(validator.MaxChars(value, 255), field, "must not be more than 255 characters")
		}
	},
}

var bookcaseCodec = rowCodec[db.Bookcase]{
	toItem: func(b db.Bookcase) LookupItem {
		return LookupItem{ID: b.ID, Name: b.Name, Description: str(b.Description), SortOrder: b.SortOrder, DisplayName: b.Name}
	},
	fromItem: func(b *db.Bookcase, item LookupItem) {
		b.Name, b.Description, b.SortOrder = item.Name, optional(item.Description), item.SortOrder
	},
	validate: requireName,
}

var shelfCodec = rowCodec[db.Shelf]{
	toItem: func(s db.Shelf) LookupItem {
		return LookupItem{ID: s.ID, Name: s.Name, Description: str(s.Description), BookcaseID: s.BookcaseID, DisplayName: s.Location()}
	},
	fromItem: func(s *db.Shelf, item LookupItem) {
		s.Name, s.Description, s.BookcaseID = item.Name, optional(item.Description), item.BookcaseID
		s.Bookcase = nil
	},
	validate: requireName,
	references: func(tx *gorm.DB, item LookupItem) error {
		if item.BookcaseID == nil {
			return nil
		}
		missing, err := missingIDs(tx, &db.Bookcase{}, []int{*item.BookcaseID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return apperr.NotFoundf("Bookcase %d was not found.", *item.BookcaseID)
		}
		return nil
	},
}

var participantStatusCodec = rowCodec[db.ParticipantStatus]{
	toItem: func(s db.ParticipantStatus) LookupItem {
		return LookupItem{
			ID: s.ID, Name: s.Name, Description: str(s.ExtendedDescription),
			TransactionType: str(s.TransactionType), SortOrder: s.SortOrder, DisplayName: s.Name,
		}
	},
	fromItem: func(s *db.ParticipantStatus, item LookupItem) {
		s.Name, s.SortOrder = item.Name, item.SortOrder
		s.ExtendedDescription, s.TransactionType = optional(item.Description), optional(item.TransactionType)
	},
	validate: requireName,
}

var participantCodec = rowCodec[db.Participant]{
	toItem: func(p db.Participant) LookupItem {
		name := strings.TrimSpace(str(p.FirstName) + " " + str(p.LastName))
		return LookupItem{
			ID: p.ID, FirstName: str(p.FirstName), LastName: str(p.LastName),
			AlsoKnownAs: str(p.AlsoKnownAs), DisplayName: name,
		}
	},
	fromItem: func(p *db.Participant, item LookupItem) {
		p.FirstName, p.LastName, p.AlsoKnownAs = optional(item.FirstName), optional(item.LastName), optional(item.AlsoKnownAs)
	},
	validate: func(v *validator.Validator, item LookupItem) {
		v.Check(validator.NotBlank(item.FirstName+item.LastName), "last_name", "a first or last name must be provided")
	},
}
