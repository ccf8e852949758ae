// Package metrics exposes Prometheus instrumentation for the archive service.
package metrics

import (
	"context"
	"time"

	"github.com/bookstore/services/archive/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "archive"

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	associationWrites  *prometheus.CounterVec
	requestTransitions *prometheus.CounterVec
	storeFailures      *prometheus.CounterVec
	lookupRejections   *prometheus.CounterVec
}

// New registers the service counters on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		associationWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "association_writes_total",
			Help:      "Publication association rows inserted or deleted by reconciliation.",
		}, []string{"relation", "op"}),
		requestTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Publication request status changes by resulting status.",
		}, []string{"status"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Unexpected store failures by operation.",
		}, []string{"operation"}),
		lookupRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_rejections_total",
			Help:      "Lookup mutations rejected as duplicate or in use.",
		}, []string{"kind", "reason"}),
	}

	reg.MustRegister(m.associationWrites, m.requestTransitions, m.storeFailures, m.lookupRejections)
	return m
}

// RecordReconcile counts the rows written by a committed reconciliation
func (m *Metrics) RecordReconcile(r reconcile.Report) {
	if m == nil {
		return
	}
	m.addWrites("creators", len(r.Creators.Added), len(r.Creators.Removed))
	m.addWrites("genres", len(r.Genres.Added), len(r.Genres.Removed))
	m.addWrites("keywords", len(r.Keywords.Added), len(r.Keywords.Removed))
}

func (m *Metrics) addWrites(relation string, added, removed int) {
	if added > 0 {
		m.associationWrites.WithLabelValues(relation, "add").Add(float64(added))
	}
	if removed > 0 {
		m.associationWrites.WithLabelValues(relation, "remove").Add(float64(removed))
	}
}

func (m *Metrics) RequestTransition(status string) {
	if m == nil {
		return
	}
	m.requestTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) StoreFailure(operation string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) LookupRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.lookupRejections.WithLabelValues(kind, reason).Inc()
}

// Snapshot is a point-in-time view of the catalog used for gauges
type Snapshot struct {
	PublicationsByMediaType map[string]int64
	RequestsByStatus        map[string]int64
}

// SnapshotFunc loads a Snapshot from the store
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// CatalogCollector queries the store on every scrape
type CatalogCollector struct {
	load    SnapshotFunc
	timeout time.Duration
	log     *zap.Logger

	publications *prometheus.Desc
	requests     *prometheus.Desc
}

// NewCatalogCollector creates a collector backed by load
func NewCatalogCollector(load SnapshotFunc, log *zap.Logger) *CatalogCollector {
	return &CatalogCollector{
		load:    load,
		timeout: 5 * time.Second,
		log:     log,
		publications: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "publications"),
			"Catalogued publications by media type.",
			[]string{"media_type"}, nil,
		),
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests"),
			"Publication requests by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *CatalogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.publications
	ch <- c.requests
}

func (c *CatalogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snap, err := c.load(ctx)
	if err != nil {
		c.log.Warn("Failed to load catalog snapshot for metrics", zap.Error(err))
		return
	}

	for mediaType, n := range snap.PublicationsByMediaType {
		ch <- prometheus.MustNewConstMetric(c.publications, prometheus.GaugeValue, float64(n), mediaType)
	}
	for status, n := range snap.RequestsByStatus {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.GaugeValue, float64(n), status)
	}
}
