package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/metrics"
	"github.com/bookstore/services/archive/internal/validator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Request types a visitor can submit
const (
	RequestTypeBorrow   = "Borrow"
	RequestTypeAbstract = "Abstract"
)

// RequestSubmission is what a visitor fills in
type RequestSubmission struct {
	PublicationID   int    `json:"publication_id"`
	RequestType     string `json:"request_type"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	ResearchPurpose string `json:"research_purpose"`
	AdditionalInfo  string `json:"additional_info,omitempty"`
}

func (s *RequestSubmission) validate() error {
	s.RequestType = strings.TrimSpace(s.RequestType)
	if s.RequestType == "" {
		s.RequestType = RequestTypeBorrow
	}
	s.Email = strings.TrimSpace(s.Email)

	v := validator.New()
	v.Check(s.PublicationID > 0, "publication_id", "must be provided")
	v.Check(validator.In(s.RequestType, RequestTypeBorrow, RequestTypeAbstract), "request_type", "must be Borrow or Abstract")
	v.Check(validator.NotBlank(s.FirstName), "first_name", "must be provided")
	v.Check(validator.MaxChars(s.FirstName, 100), "first_name", "must not be more than 100 characters")
	v.Check(validator.NotBlank(s.LastName), "last_name", "must be provided")
	v.Check(validator.MaxChars(s.LastName, 100), "last_name", "must not be more than 100 characters")
	v.Check(validator.NotBlank(s.Email), "email", "must be provided")
	v.Check(validator.Matches(s.Email, validator.EmailRX), "email", "must be a valid email address")
	v.Check(validator.MaxChars(s.Phone, 50), "phone", "must not be more than 50 characters")
	v.Check(validator.NotBlank(s.ResearchPurpose), "research_purpose", "must be provided")
	return v.Err()
}

// ProcessCommand is a staff decision on a request
type ProcessCommand struct {
	RequestID   int
	Action      RequestAction
	ProcessedBy string
	Notes       string
}

// RequestView is a request with the title of the publication it is for
type RequestView struct {
	ID               int        `json:"id"`
	PublicationID    int        `json:"publication_id"`
	PublicationTitle string     `json:"publication_title"`
	RequestType      string     `json:"request_type"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone,omitempty"`
	ResearchPurpose  string     `json:"research_purpose"`
	AdditionalInfo   string     `json:"additional_info,omitempty"`
	RequestDate      time.Time  `json:"request_date"`
	Status           string     `json:"status"`
	ProcessedBy      string     `json:"processed_by,omitempty"`
	ProcessedDate    *time.Time `json:"processed_date,omitempty"`
	AdminNotes       string     `json:"admin_notes,omitempty"`
}

// RequesterName joins the requester's first and last name
func (v RequestView) RequesterName() string {
	return strings.TrimSpace(v.FirstName + " " + v.LastName)
}

// RequestStatistics summarises the request queue
type RequestStatistics struct {
	Total                 int64            `json:"total"`
	ByStatus              map[string]int64 `json:"by_status"`
	AverageProcessingDays float64          `json:"average_processing_days"`
}

// RequestRepository stores publication requests and applies staff decisions
type RequestRepository struct {
	db      *db.DB
	log     *zap.Logger
	metrics *metrics.Metrics
	policy  ReprocessPolicy
	now     func() time.Time
}

// NewRequestRepository creates a new request repository. m may be nil.
func NewRequestRepository(database *db.DB, logger *zap.Logger, m *metrics.Metrics, policy ReprocessPolicy) *RequestRepository {
	return &RequestRepository{
		db:      database,
		log:     logger,
		metrics: m,
		policy:  policy,
		now:     time.Now,
	}
}

// Submit records a new request in Pending
func (r *RequestRepository) Submit(ctx context.Context, in RequestSubmission) (*RequestView, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	req := db.PublicationRequest{
		PublicationID:   in.PublicationID,
		RequestType:     in.RequestType,
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		Email:           in.Email,
		Phone:           &in.Phone,
		ResearchPurpose: strings.TrimSpace(in.ResearchPurpose),
		AdditionalInfo:  &in.AdditionalInfo,
		RequestDate:     r.now().UTC(),
		Status:          string(StatusPending),
	}

	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		missing, err := missingIDs(tx, &db.Publication{}, []int{in.PublicationID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return apperr.NotFoundf("Publication %d was not found.", in.PublicationID)
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "submit_request", err,
			"An error occurred while submitting your request", zap.Int("publication_id", in.PublicationID))
	}

	r.metrics.RequestTransition(string(StatusPending))
	r.log.Info("Request submitted",
		zap.Int("request_id", req.ID),
		zap.Int("publication_id", req.PublicationID),
		zap.String("request_type", req.RequestType),
	)
	return r.Get(ctx, req.ID)
}

// Process applies a staff decision and stamps who made it and when
func (r *RequestRepository) Process(ctx context.Context, cmd ProcessCommand) (*RequestView, error) {
	if strings.TrimSpace(cmd.ProcessedBy) == "" {
		return nil, apperr.Invalid(map[string]string{"processed_by": "must be provided"})
	}

	var (
		from RequestStatus
		to   RequestStatus
	)
	err := r.db.InTx(ctx, func(tx *gorm.DB) error {
		var req db.PublicationRequest
		if err := tx.First(&req, cmd.RequestID).Error; err != nil {
			if isNotFound(err) {
				return apperr.NotFoundf("Request %d was not found.", cmd.RequestID)
			}
			return fmt.Errorf("load request: %w", err)
		}

		from = RequestStatus(req.Status)
		var err error
		to, err = r.policy.Transition(from, cmd.Action)
		if err != nil {
			return err
		}

		processedAt := r.now().UTC()
		req.Status = string(to)
		req.ProcessedBy = &cmd.ProcessedBy
		req.ProcessedDate = &processedAt
		req.AdminNotes = &cmd.Notes
		return tx.Model(&req).
			Select("status", "processed_by", "processed_date", "admin_notes").
			Updates(&req).Error
	})
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "process_request", err,
			"An error occurred while processing the request", zap.Int("request_id", cmd.RequestID))
	}

	r.metrics.RequestTransition(string(to))
	r.log.Info("Request processed",
		zap.Int("request_id", cmd.RequestID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("processed_by", cmd.ProcessedBy),
	)
	return r.Get(ctx, cmd.RequestID)
}

// Get returns one request
func (r *RequestRepository) Get(ctx context.Context, id int) (*RequestView, error) {
	var req db.PublicationRequest
	err := r.db.WithContext(ctx).Preload("Publication").First(&req, id).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFoundf("Request %d was not found.", id)
		}
		return nil, storeFailure(r.log, r.metrics, "get_request", err,
			"An error occurred while loading the request", zap.Int("request_id", id))
	}
	view := requestViewOf(req)
	return &view, nil
}

// ListByStatus returns requests newest first, optionally filtered by status
func (r *RequestRepository) ListByStatus(ctx context.Context, status *RequestStatus) ([]RequestView, error) {
	q := r.db.WithContext(ctx).Preload("Publication").Order("request_date DESC").Order("id DESC")
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}

	var rows []db.PublicationRequest
	if err := q.Find(&rows).Error; err != nil {
		return nil, storeFailure(r.log, r.metrics, "list_requests", err,
			"An error occurred while loading requests")
	}

	views := make([]RequestView, 0, len(rows))
	for _, row := range rows {
		views = append(views, requestViewOf(row))
	}
	return views, nil
}

// Pending returns the requests awaiting a decision
func (r *RequestRepository) Pending(ctx context.Context) ([]RequestView, error) {
	status := StatusPending
	return r.ListByStatus(ctx, &status)
}

// Statistics counts requests by status and averages the time to a decision
func (r *RequestRepository) Statistics(ctx context.Context) (*RequestStatistics, error) {
	stats := &RequestStatistics{ByStatus: make(map[string]int64)}
	for _, s := range RequestStatuses() {
		stats.ByStatus[string(s)] = 0
	}

	counts, err := requestCounts(r.db.WithContext(ctx))
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "request_statistics", err,
			"An error occurred while loading request statistics")
	}
	for status, n := range counts {
		stats.ByStatus[status] = n
		stats.Total += n
	}

	var processed []db.PublicationRequest
	err = r.db.WithContext(ctx).
		Select("request_date", "processed_date").
		Where("processed_date IS NOT NULL").
		Find(&processed).Error
	if err != nil {
		return nil, storeFailure(r.log, r.metrics, "request_statistics", err,
			"An error occurred while loading request statistics")
	}
	if len(processed) > 0 {
		var total time.Duration
		for _, p := range processed {
			total += p.ProcessedDate.Sub(p.RequestDate)
		}
		stats.AverageProcessingDays = total.Hours() / 24 / float64(len(processed))
	}
	return stats, nil
}

func requestCounts(tx *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := tx.Model(&db.PublicationRequest{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

func requestViewOf(req db.PublicationRequest) RequestView {
	v := RequestView{
		ID:              req.ID,
		PublicationID:   req.PublicationID,
		RequestType:     req.RequestType,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Phone:           str(req.Phone),
		ResearchPurpose: req.ResearchPurpose,
		AdditionalInfo:  str(req.AdditionalInfo),
		RequestDate:     req.RequestDate,
		Status:          req.Status,
		ProcessedBy:     str(req.ProcessedBy),
		ProcessedDate:   req.ProcessedDate,
		AdminNotes:      str(req.AdminNotes),
	}
	if req.Publication != nil {
		v.PublicationTitle = req.Publication.Title
	}
	return v
}
