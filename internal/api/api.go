// Package api is the HTTP transport of the archive service.
package api

import (
	"compress/flate"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bookstore/services/archive/internal/events"
	"github.com/bookstore/services/archive/internal/reconcile"
	"github.com/bookstore/services/archive/internal/repo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("archive/api")

// PublicationStore is the editing side of the catalog
type PublicationStore interface {
	GetForEdit(ctx context.Context, id int) (*repo.PublicationEditView, error)
	Create(ctx context.Context, in repo.PublicationInput) (int, reconcile.Report, error)
	Update(ctx context.Context, in repo.PublicationInput) (*repo.PublicationEditView, reconcile.Report, error)
	Delete(ctx context.Context, id int) error
}

// LookupStore manages the reference tables
type LookupStore interface {
	List(ctx context.Context, kind repo.LookupKind) ([]repo.LookupItem, error)
	Get(ctx context.Context, kind repo.LookupKind, id int) (*repo.LookupItem, error)
	Add(ctx context.Context, kind repo.LookupKind, item repo.LookupItem) (int, error)
	Update(ctx context.Context, kind repo.LookupKind, item repo.LookupItem) error
	Delete(ctx context.Context, kind repo.LookupKind, id int) error
	IsInUse(ctx context.Context, kind repo.LookupKind, id int) (bool, error)
	CheckDuplicate(ctx context.Context, kind repo.LookupKind, item repo.LookupItem, excludeID int) (bool, error)
}

// RequestStore takes visitor requests and staff decisions
type RequestStore interface {
	Submit(ctx context.Context, in repo.RequestSubmission) (*repo.RequestView, error)
	Process(ctx context.Context, cmd repo.ProcessCommand) (*repo.RequestView, error)
	Get(ctx context.Context, id int) (*repo.RequestView, error)
	ListByStatus(ctx context.Context, status *repo.RequestStatus) ([]repo.RequestView, error)
	Pending(ctx context.Context) ([]repo.RequestView, error)
	Statistics(ctx context.Context) (*repo.RequestStatistics, error)
}

// TransferStore is the provenance ledger
type TransferStore interface {
	Record(ctx context.Context, in repo.TransferInput) (int, error)
	ListForPublication(ctx context.Context, publicationID int) ([]repo.TransferView, error)
}

// CatalogReader answers public catalog queries
type CatalogReader interface {
	Search(ctx context.Context, c repo.SearchCriteria) (*repo.SearchResult, error)
	GetDetail(ctx context.Context, id int) (*repo.PublicationDetail, error)
	Keywords(ctx context.Context) ([]string, error)
	CollectionStatistics(ctx context.Context) (*repo.CollectionStatistics, error)
}

// Pinger reports whether the database answers
type Pinger interface {
	Ping() error
}

// Stores groups the stores served by the API
type Stores struct {
	Publications PublicationStore
	Lookups      LookupStore
	Requests     RequestStore
	Transfers    TransferStore
	Catalog      CatalogReader
}

// Options tunes the transport
type Options struct {
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	NotifyTimeout  time.Duration

	// Metrics is served on /metrics when set
	Metrics http.Handler
}

// API routes HTTP requests to the stores and announces changes through the notifier
type API struct {
	stores   Stores
	notifier events.Notifier
	db       Pinger
	log      *zap.Logger
	opts     Options
	limiter  *ipRateLimiter
	router   chi.Router
	inflight sync.WaitGroup
}

// New builds the API and its router
func New(stores Stores, notifier events.Notifier, database Pinger, log *zap.Logger, opts Options) *API {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	a := &API{
		stores:   stores,
		notifier: notifier,
		db:       database,
		log:      log,
		opts:     opts,
		limiter:  newIPRateLimiter(opts.RateLimit, opts.RateBurst),
	}
	a.router = a.routes()
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Wait blocks until every notification started by a handler has finished
func (a *API) Wait() {
	a.inflight.Wait()
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(correlate)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   a.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)
	r.Use(middleware.NewCompressor(flate.DefaultCompression, "application/json").Handler)
	r.Use(otelchi.Middleware("archive", otelchi.WithChiRoutes(r)))
	r.Use(identify)

	r.Get("/healthz", a.health)
	if a.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/publications", a.searchPublications)
		r.Get("/publications/{id}", a.publicationDetail)
		r.Get("/keywords", a.keywords)
		r.Get("/statistics", a.collectionStatistics)
		r.Get("/lookups/{kind}", a.listLookups)
		// Visitors reach us through the proxy, so key the limiter on the forwarded address
		r.With(middleware.RealIP, a.limiter.middleware).Post("/requests", a.submitRequest)

		r.Route("/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(requireRole(StaffOrAdmin))

				r.Get("/publications/{id}", a.editPublication)
				r.Post("/publications", a.createPublication)
				r.Put("/publications/{id}", a.updatePublication)
				r.Get("/publications/{id}/transfers", a.listTransfers)
				r.Post("/transfers", a.recordTransfer)

				r.Get("/requests", a.listRequests)
				r.Get("/requests/pending", a.pendingRequests)
				r.Get("/requests/statistics", a.requestStatistics)
				r.Get("/requests/{id}", a.getRequest)
				r.Post("/requests/{id}/process", a.processRequest)

				r.Get("/lookups/{kind}/{id}", a.getLookup)
				r.Get("/lookups/{kind}/{id}/in-use", a.lookupInUse)
				r.Post("/lookups/{kind}/duplicate", a.lookupDuplicate)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(AdminOnly))

				r.Delete("/publications/{id}", a.deletePublication)
				r.Post("/lookups/{kind}", a.addLookup)
				r.Put("/lookups/{kind}/{id}", a.updateLookup)
				r.Delete("/lookups/{kind}/{id}", a.deleteLookup)
			})
		})
	})

	return r
}

// correlate carries the chi request id into the store and event layers
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(events.WithCorrelationID(r.Context(), id)))
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("correlation_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", time.Since(start)),
		}
		if ww.Status() >= http.StatusInternalServerError {
			a.log.Error("HTTP request failed", fields...)
			return
		}
		a.log.Info("HTTP request completed", fields...)
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Ping(); err != nil {
		a.log.Error("Database health check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unhealthy: database connection failed"))
		return
	}

	if !a.notifier.IsHealthy() {
		a.log.Error("Event broker health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unhealthy: event broker connection failed"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

// notify runs send in the background. Failures are logged and never reach
// the caller, whose change is already committed.
func (a *API) notify(ctx context.Context, event string, send func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.NotifyTimeout)
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		defer cancel()
		if err := send(ctx); err != nil {
			a.log.Warn("Failed to publish event",
				zap.String("event_type", event),
				zap.String("correlation_id", events.CorrelationID(ctx)),
				zap.Error(err),
			)
		}
	}()
}
