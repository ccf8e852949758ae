package repo

import (
	"context"
	"strings"
	"time"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/metrics"
	"github.com/bookstore/services/archive/internal/validator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransferInput records a publication changing hands
type TransferInput struct {
	PublicationID       int        `json:"publication_id"`
	ParticipantID       int        `json:"participant_id"`
	ParticipantStatusID int        `json:"participant_status_id"`
	EstimatedValueCents *int64     `json:"estimated_value_cents,omitempty"`
	TransferDate        *time.Time `json:"transfer_date,omitempty"`
}

func (in TransferInput) validate() error {
	v := validator.New()
	v.Check(in.PublicationID > 0, "publication_id", "must be provided")
	v.Check(in.ParticipantID > 0, "participant_id", "must be provided")
	v.Check(in.ParticipantStatusID > 0, "participant_status_id", "must be provided")
	v.Check(in.EstimatedValueCents == nil || *in.EstimatedValueCents >= 0, "estimated_value_cents", "must not be negative")
	return v.Err()
}

// TransferView is one entry of a publication's provenance
type TransferView struct {
	ID                  int        `json:"id"`
	PublicationID       int        `json:"publication_id"`
	ParticipantID       int        `json:"participant_id"`
	ParticipantName     string     `json:"participant_name"`
	ParticipantStatusID int        `json:"participant_status_id"`
	Status              string     `json:"status"`
	EstimatedValueCents *int64     `json:"estimated_value_cents,omitempty"`
	TransferDate        *time.Time `json:"transfer_date,omitempty"`
}

// TransferRepository keeps the chain of custody of publications
type TransferRepository struct {
	db      *db.DB
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewTransferRepository creates a new transfer repository. m may be nil.
func NewTransferRepository(database *db.DB, logger *zap.Logger, m *metrics.Metrics) *TransferRepository {
	return &TransferRepository{
		db:      database,
		log:     logger,
		metrics: m,
	}
}

// Record adds a transfer after checking every referenced row exists
func (r *TransferRepository) Record(ctx context.Context, in TransferInput) (int, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	row := db.PublicationTransfer{
		PublicationID:       &in.PublicationID,
		ParticipantID:       &in.ParticipantID,
		ParticipantStatusID: &in.ParticipantStatusID,
		EstimatedValueCents: in.EstimatedValueCents,
		TransferDate:        in.TransferDate,
	}

	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		for _, ref := range []struct {
			id    int
			model interface{}
			label string
		}{
			{in.PublicationID, &db.Publication{}, "Publication"},
			{in.ParticipantID, &db.Participant{}, "Participant"},
			{in.ParticipantStatusID, &db.ParticipantStatus{}, "Participant status"},
		} {
			missing, err := missingIDs(tx, ref.model, []int{ref.id})
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return apperr.NotFoundf("%s %d was not found.", ref.label, ref.id)
			}
		}
		return tx.Omit("Participant", "Publication", "ParticipantStatus").Create(&row).Error
	})
	if err != nil {
		return 0, storeFailure(r.log, r.metrics, "record_transfer", err,
			"An error occurred while recording the transfer", zap.Int("publication_id", in.PublicationID))
	}

	r.log.Info("Transfer recorded",
		zap.Int("transfer_id", row.ID),
		zap.Int("publication_id", in.PublicationID),
		zap.Int("participant_id", in.ParticipantID),
	)
	return row.ID, nil
}

// ListForPublication returns a publication's transfers, oldest first
func (r *TransferRepository) ListForPublication(ctx context.Context, publicationID int) ([]TransferView, error) {
	var rows []db.PublicationTransfer
	err := r.db.WithContext(ctx).
		Preload("Participant").
		Preload("ParticipantStatus").
		Where("publication_id = ?", publicationID).
		Order("CASE WHEN transfer_date IS NULL THEN 1 ELSE 0 END").
		Order("transfer_date").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "list_transfers", err,
			"An error occurred while loading transfers", zap.Int("publication_id", publicationID))
	}

	views := make([]TransferView, 0, len(rows))
	for _, t := range rows {
		v := TransferView{
			ID:                  t.ID,
			EstimatedValueCents: t.EstimatedValueCents,
			TransferDate:        t.TransferDate,
		}
		if t.PublicationID != nil {
			v.PublicationID = *t.PublicationID
		}
		if t.ParticipantID != nil {
			v.ParticipantID = *t.ParticipantID
		}
		if t.ParticipantStatusID != nil {
			v.ParticipantStatusID = *t.ParticipantStatusID
		}
		if t.Participant != nil {
			v.ParticipantName = strings.TrimSpace(str(t.Participant.FirstName) + " " + str(t.Participant.LastName))
		}
		if t.ParticipantStatus != nil {
			v.Status = t.ParticipantStatus.Name
		}
		views = append(views, v)
	}
	return views, nil
}
