package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LookupRepository manages the reference tables publications point at
type LookupRepository struct {
	db      *db.DB
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewLookupRepository creates a new lookup repository. m may be nil.
func NewLookupRepository(database *db.DB, logger *zap.Logger, m *metrics.Metrics) *LookupRepository {
	return &LookupRepository{
		db:      database,
		log:     logger,
		metrics: m,
	}
}

// List returns every row of kind in its display order
func (r *LookupRepository) List(ctx context.Context, kind LookupKind) ([]LookupItem, error) {
	items, err := kind.list(r.db.WithContext(ctx))
	if err != nil {
		return nil, r.fail(kind, "list", err)
	}
	return items, nil
}

// Get returns a single row of kind
func (r *LookupRepository) Get(ctx context.Context, kind LookupKind, id int) (*LookupItem, error) {
	item, err := kind.get(r.db.WithContext(ctx), id)
	if err != nil {
		if isNotFound(err) {
			return nil, r.notFound(kind, id)
		}
		return nil, r.fail(kind, "get", err)
	}
	return &item, nil
}

// Add inserts item and returns its id. Names that collide with an existing
// row fail with DuplicateConflict.
func (r *LookupRepository) Add(ctx context.Context, kind LookupKind, item LookupItem) (int, error) {
	if err := kind.validate(item); err != nil {
		return 0, err
	}

	var id int
	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		if err := kind.checkReferences(tx, item); err != nil {
			return err
		}
		dup, err := kind.isDuplicate(tx, item, 0)
		if err != nil {
			return err
		}
		if dup {
			return r.duplicate(kind, item)
		}

		id, err = kind.insert(tx, item)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a race with a concurrent insert
			return r.duplicate(kind, item)
		}
		return err
	})
	if err != nil {
		return 0, r.fail(kind, "add", err)
	}

	r.log.Info("Lookup added", zap.String("kind", kind.Slug()), zap.Int("id", id))
	return id, nil
}

// Update rewrites the row identified by item.ID
func (r *LookupRepository) Update(ctx context.Context, kind LookupKind, item LookupItem) error {
	if err := kind.validate(item); err != nil {
		return err
	}

	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		if err := kind.checkReferences(tx, item); err != nil {
			return err
		}
		dup, err := kind.isDuplicate(tx, item, item.ID)
		if err != nil {
			return err
		}
		if dup {
			return r.duplicate(kind, item)
		}

		err = kind.update(tx, item)
		switch {
		case isNotFound(err):
			return r.notFound(kind, item.ID)
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return r.duplicate(kind, item)
		}
		return err
	})
	if err != nil {
		return r.fail(kind, "update", err)
	}

	r.log.Info("Lookup updated", zap.String("kind", kind.Slug()), zap.Int("id", item.ID))
	return nil
}

// Delete removes a row that nothing references
func (r *LookupRepository) Delete(ctx context.Context, kind LookupKind, id int) error {
	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		if _, err := kind.get(tx, id); err != nil {
			if isNotFound(err) {
				return r.notFound(kind, id)
			}
			return err
		}

		used, err := kind.isInUse(tx, id)
		if err != nil {
			return err
		}
		if used {
			return r.inUse(kind, id)
		}

		_, err = kind.remove(tx, id)
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return r.inUse(kind, id)
		}
		return err
	})
	if err != nil {
		return r.fail(kind, "delete", err)
	}

	r.log.Info("Lookup deleted", zap.String("kind", kind.Slug()), zap.Int("id", id))
	return nil
}

// IsInUse reports whether any publication, association or transfer row
// references the row. Mutations re-check on their own.
func (r *LookupRepository) IsInUse(ctx context.Context, kind LookupKind, id int) (bool, error) {
	used, err := kind.isInUse(r.db.WithContext(ctx), id)
	if err != nil {
		return false, r.fail(kind, "in_use", err)
	}
	return used, nil
}

// CheckDuplicate reports whether item collides with a row other than excludeID
func (r *LookupRepository) CheckDuplicate(ctx context.Context, kind LookupKind, item LookupItem, excludeID int) (bool, error) {
	dup, err := kind.isDuplicate(r.db.WithContext(ctx), item, excludeID)
	if err != nil {
		return false, r.fail(kind, "check_duplicate", err)
	}
	return dup, nil
}

func (r *LookupRepository) duplicate(kind LookupKind, item LookupItem) error {
	r.metrics.LookupRejected(kind.Slug(), "duplicate")
	return apperr.Duplicatef("%s %q already exists.", capitalize(kind.Label()), describe(kind, item))
}

func (r *LookupRepository) inUse(kind LookupKind, id int) error {
	r.metrics.LookupRejected(kind.Slug(), "in_use")
	return apperr.InUsef("This %s is in use and cannot be deleted.", kind.Label())
}

func (r *LookupRepository) notFound(kind LookupKind, id int) error {
	return apperr.NotFoundf("%s %d was not found.", capitalize(kind.Label()), id)
}

func (r *LookupRepository) fail(kind LookupKind, op string, err error) error {
	return storeFailure(r.log, r.metrics, "lookup_"+op, err,
		"An error occurred while saving the "+kind.Label(), zap.String("kind", kind.Slug()))
}

func describe(kind LookupKind, item LookupItem) string {
	switch kind {
	case Creator:
		return strings.Join(strings.Fields(item.FirstName+" "+item.MiddleName+" "+item.LastName), " ")
	case Participant:
		return strings.Join(strings.Fields(item.FirstName+" "+item.LastName), " ")
	}
	return strings.TrimSpace(item.Name)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
