package repo

import (
	"context"

	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/reconcile"
	"gorm.io/gorm"
)

// idRelation stores publication links of row type T keyed by the id in column
type idRelation[T any] struct {
	tx     *gorm.DB
	column string
	row    func(publicationID, id int) T
}

func (r idRelation[T]) Current(ctx context.Context, publicationID int) ([]int, error) {
	var (
		model T
		ids   []int
	)
	err := r.tx.WithContext(ctx).Model(&model).
		Where("publication_id = ?", publicationID).
		Order(r.column).
		Pluck(r.column, &ids).Error
	return ids, err
}

func (r idRelation[T]) Remove(ctx context.Context, publicationID int, ids []int) (int64, error) {
	var model T
	res := r.tx.WithContext(ctx).
		Where("publication_id = ? AND "+r.column+" IN ?", publicationID, ids).
		Delete(&model)
	return res.RowsAffected, res.Error
}

func (r idRelation[T]) Add(ctx context.Context, publicationID int, ids []int) (int64, error) {
	rows := make([]T, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, r.row(publicationID, id))
	}
	res := r.tx.WithContext(ctx).Create(&rows)
	return res.RowsAffected, res.Error
}

// keywordRelation stores free-text keywords
type keywordRelation struct {
	tx *gorm.DB
}

func (r keywordRelation) Current(ctx context.Context, publicationID int) ([]string, error) {
	var keywords []string
	err := r.tx.WithContext(ctx).Model(&db.PublicationKeyWord{}).
		Where("publication_id = ?", publicationID).
		Order("keyword").
		Pluck("keyword", &keywords).Error
	return keywords, err
}

func (r keywordRelation) Remove(ctx context.Context, publicationID int, keywords []string) (int64, error) {
	res := r.tx.WithContext(ctx).
		Where("publication_id = ? AND keyword IN ?", publicationID, keywords).
		Delete(&db.PublicationKeyWord{})
	return res.RowsAffected, res.Error
}

func (r keywordRelation) Add(ctx context.Context, publicationID int, keywords []string) (int64, error) {
	rows := make([]db.PublicationKeyWord, 0, len(keywords))
	for _, k := range keywords {
		rows = append(rows, db.PublicationKeyWord{PublicationID: publicationID, KeyWord: k})
	}
	res := r.tx.WithContext(ctx).Create(&rows)
	return res.RowsAffected, res.Error
}

// associationsFor binds the three publication relations to tx
func associationsFor(tx *gorm.DB) reconcile.Relations {
	return reconcile.Relations{
		Creators: idRelation[db.PublicationCreator]{
			tx:     tx,
			column: "creator_id",
			row: func(publicationID, id int) db.PublicationCreator {
				return db.PublicationCreator{PublicationID: publicationID, CreatorID: id}
			},
		},
		Genres: idRelation[db.PublicationGenre]{
			tx:     tx,
			column: "genre_id",
			row: func(publicationID, id int) db.PublicationGenre {
				return db.PublicationGenre{PublicationID: publicationID, GenreID: id}
			},
		},
		Keywords: keywordRelation{tx: tx},
	}
}
