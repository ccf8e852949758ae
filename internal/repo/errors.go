package repo

import (
	"errors"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// storeFailure passes business errors through and turns everything else into
// a logged TransientStoreFailure.
func storeFailure(log *zap.Logger, m *metrics.Metrics, operation string, err error, message string, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	m.StoreFailure(operation)
	return apperr.Internal(log, err, message, append(fields, zap.String("operation", operation))...)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// missingIDs returns the ids with no row in model's table
func missingIDs(tx *gorm.DB, model interface{}, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var found []int
	if err := tx.Model(model).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}

	have := make(map[int]bool, len(found))
	for _, id := range found {
		have[id] = true
	}

	var missing []int
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
