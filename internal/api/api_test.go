package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/db"
	"github.com/bookstore/services/archive/internal/events"
	"github.com/bookstore/services/archive/internal/reconcile"
	"github.com/bookstore/services/archive/internal/repo"
	"github.com/matryer/is"
	"go.uber.org/zap"
)

// recordingNotifier keeps the event types it was asked to send
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []string
	notices []events.RequestNotice
	err     error
	healthy bool
}

func (n *recordingNotifier) record(eventType string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, eventType)
	return n.err
}

func (n *recordingNotifier) PublicationCreated(ctx context.Context, c events.PublicationChange) error {
	return n.record(events.EventPublicationCreated)
}

func (n *recordingNotifier) PublicationUpdated(ctx context.Context, c events.PublicationChange) error {
	return n.record(events.EventPublicationUpdated)
}

func (n *recordingNotifier) PublicationDeleted(ctx context.Context, id int) error {
	return n.record(events.EventPublicationDeleted)
}

func (n *recordingNotifier) RequestSubmitted(ctx context.Context, r events.RequestNotice) error {
	n.mu.Lock()
	n.notices = append(n.notices, r)
	n.mu.Unlock()
	return n.record(events.EventRequestSubmitted)
}

func (n *recordingNotifier) RequestProcessed(ctx context.Context, r events.RequestNotice) error {
	n.mu.Lock()
	n.notices = append(n.notices, r)
	n.mu.Unlock()
	return n.record(events.EventRequestProcessed)
}

func (n *recordingNotifier) IsHealthy() bool { return n.healthy }

func (n *recordingNotifier) Close() error { return nil }

// sentEvents returns the event types in sorted order. Notifications run
// concurrently, so arrival order is not meaningful.
func (n *recordingNotifier) sentEvents() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	sent := append([]string(nil), n.sent...)
	sort.Strings(sent)
	return sent
}

func (n *recordingNotifier) noticeWithStatus(status string) (events.RequestNotice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.notices {
		if notice.Status == status {
			return notice, true
		}
	}
	return events.RequestNotice{}, false
}

type testAPI struct {
	*API
	notifier *recordingNotifier
}

func newTestAPI(t *testing.T, policy repo.ReprocessPolicy, opts Options) *testAPI {
	database, err := db.Connect(db.Options{Driver: "sqlite", DSN: "file::memory:?_foreign_keys=on"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatal(err)
	}
	data, err := db.LoadSeed("")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Seed(database, data, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close(zap.NewNop()) })

	log := zap.NewNop()
	stores := Stores{
		Publications: repo.NewPublicationRepository(database, log, nil),
		Lookups:      repo.NewLookupRepository(database, log, nil),
		Requests:     repo.NewRequestRepository(database, log, nil, policy),
		Transfers:    repo.NewTransferRepository(database, log, nil),
		Catalog:      repo.NewCatalogRepository(database, log, nil),
	}
	if opts.RateLimit == 0 {
		opts.RateLimit, opts.RateBurst = 100, 100
	}

	n := &recordingNotifier{healthy: true}
	return &testAPI{API: New(stores, n, database, log, opts), notifier: n}
}

func actorHeaders(id, name, roles string) http.Header {
	h := http.Header{}
	h.Set(headerActorID, id)
	h.Set(headerActorName, name)
	h.Set(headerActorRoles, roles)
	return h
}

var (
	adminActor = actorHeaders("u-1", "Ada Admin", "Admin")
	staffActor = actorHeaders("u-2", "Sam Staff", "Staff")
)

func (a *testAPI) call(method, path, body string, headers http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		req.Header[key] = values
	}

	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)
	return w
}

func decodeResult(is *is.I, w *httptest.ResponseRecorder) apperr.Result {
	var res apperr.Result
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &res)) // body must be a Result
	return res
}

// mustAddLookup creates a lookup row through the admin API and returns its id
func (a *testAPI) mustAddLookup(is *is.I, kind, body string) int {
	w := a.call(http.MethodPost, "/api/admin/lookups/"+kind, body, adminActor)
	is.Equal(w.Code, http.StatusCreated) // lookup must be created
	res := decodeResult(is, w)
	is.True(res.AffectedID != nil)
	return *res.AffectedID
}

func (a *testAPI) mustCreatePublication(is *is.I, body string) int {
	w := a.call(http.MethodPost, "/api/admin/publications", body, staffActor)
	is.Equal(w.Code, http.StatusCreated) // publication must be created
	res := decodeResult(is, w)
	is.True(res.Success)
	return *res.AffectedID
}

func TestRoleChecks(t *testing.T) {
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	inactiveAdmin := actorHeaders("u-3", "Old Admin", "Admin")
	inactiveAdmin.Set(headerActorActive, "false")

	tests := []struct {
		name    string
		method  string
		path    string
		headers http.Header
		want    int
	}{
		{"no actor", http.MethodGet, "/api/admin/requests", nil, http.StatusUnauthorized},
		{"public role", http.MethodGet, "/api/admin/requests", actorHeaders("u-4", "Pat", "Public"), http.StatusForbidden},
		{"staff reads requests", http.MethodGet, "/api/admin/requests", staffActor, http.StatusOK},
		{"role names ignore case", http.MethodGet, "/api/admin/requests", actorHeaders("u-5", "Lee", "staff, public"), http.StatusOK},
		{"staff cannot delete lookups", http.MethodDelete, "/api/admin/lookups/genres/1", staffActor, http.StatusForbidden},
		{"inactive admin", http.MethodGet, "/api/admin/requests", inactiveAdmin, http.StatusForbidden},
		{"public catalog needs no actor", http.MethodGet, "/api/publications", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			w := a.call(tt.method, tt.path, "", tt.headers)
			is.Equal(w.Code, tt.want)
		})
	}
}

func TestStatusForKinds(t *testing.T) {
	is := is.New(t)

	is.Equal(statusFor(apperr.NotFoundf("gone")), http.StatusNotFound)
	is.Equal(statusFor(apperr.Duplicatef("twice")), http.StatusConflict)
	is.Equal(statusFor(apperr.InUsef("busy")), http.StatusConflict)
	is.Equal(statusFor(apperr.Invalid(map[string]string{"title": "must be provided"})), http.StatusUnprocessableEntity)
	is.Equal(statusFor(apperr.Conflictf("stale")), http.StatusConflict)
	is.Equal(statusFor(apperr.InvalidTransitionf("done")), http.StatusConflict)
	is.Equal(statusFor(apperr.Internal(zap.NewNop(), errors.New("disk full"), "try later")), http.StatusServiceUnavailable)
	is.Equal(statusFor(fmt.Errorf("wrapped: %w", apperr.NotFoundf("gone"))), http.StatusNotFound)
	is.Equal(statusFor(errors.New("plain")), http.StatusInternalServerError)
}

func TestLookupLifecycle(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	id := a.mustAddLookup(is, "genres", `{"name":"Western History"}`)

	w := a.call(http.MethodPost, "/api/admin/lookups/genres", `{"name":"western HISTORY"}`, adminActor)
	is.Equal(w.Code, http.StatusConflict) // case-insensitive duplicate
	res := decodeResult(is, w)
	is.True(!res.Success)
	is.Equal(res.Kind, apperr.DuplicateConflict.String())
	is.Equal(res.Message, `Genre "western HISTORY" already exists.`)

	w = a.call(http.MethodPost, "/api/admin/lookups/genres/duplicate", fmt.Sprintf(`{"id":%d,"name":"WESTERN history"}`, id), staffActor)
	is.Equal(w.Code, http.StatusOK)
	var dup struct {
		Duplicate bool `json:"duplicate"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &dup))
	is.True(!dup.Duplicate) // a row is not its own duplicate

	w = a.call(http.MethodGet, "/api/lookups/genres", "", nil)
	is.Equal(w.Code, http.StatusOK)
	var list struct {
		Kind  string            `json:"kind"`
		Items []repo.LookupItem `json:"items"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &list))
	is.Equal(list.Kind, "genres")
	is.Equal(len(list.Items), 1)
	is.Equal(list.Items[0].Name, "Western History")

	w = a.call(http.MethodPut, fmt.Sprintf("/api/admin/lookups/genres/%d", id), `{"name":"Frontier History"}`, adminActor)
	is.Equal(w.Code, http.StatusOK)

	w = a.call(http.MethodGet, "/api/lookups/bindings", "", nil)
	is.Equal(w.Code, http.StatusNotFound) // unknown kind

	w = a.call(http.MethodDelete, fmt.Sprintf("/api/admin/lookups/genres/%d", id), "", adminActor)
	is.Equal(w.Code, http.StatusOK)
	w = a.call(http.MethodDelete, fmt.Sprintf("/api/admin/lookups/genres/%d", id), "", adminActor)
	is.Equal(w.Code, http.StatusNotFound)
}

func TestDuplicateCreatorOverHTTP(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	a.mustAddLookup(is, "creators", `{"first_name":"Grace","middle_name":"Raymond","last_name":"Hebard"}`)

	w := a.call(http.MethodPost, "/api/admin/lookups/creators", `{"first_name":"grace","middle_name":"raymond","last_name":"HEBARD"}`, adminActor)
	is.Equal(w.Code, http.StatusConflict) // same full name ignoring case
	res := decodeResult(is, w)
	is.Equal(res.Kind, apperr.DuplicateConflict.String())
	is.Equal(res.Message, `Author "grace raymond HEBARD" already exists.`)

	w = a.call(http.MethodPost, "/api/admin/lookups/creators", `{"first_name":"Alice","last_name":"Hebard"}`, adminActor)
	is.Equal(w.Code, http.StatusCreated) // shared last name is fine
}

func TestPublisherInUseOverHTTP(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	publisherID := a.mustAddLookup(is, "publishers", `{"name":"Caxton Printers"}`)
	pubID := a.mustCreatePublication(is, fmt.Sprintf(`{"title":"Range Notes","publisher_id":%d}`, publisherID))

	w := a.call(http.MethodGet, fmt.Sprintf("/api/admin/lookups/publishers/%d/in-use", publisherID), "", staffActor)
	is.Equal(w.Code, http.StatusOK)
	is.Equal(strings.TrimSpace(w.Body.String()), `{"in_use":true}`)

	w = a.call(http.MethodDelete, fmt.Sprintf("/api/admin/lookups/publishers/%d", publisherID), "", adminActor)
	is.Equal(w.Code, http.StatusConflict)
	is.Equal(decodeResult(is, w).Kind, apperr.InUseConflict.String())

	w = a.call(http.MethodPut, fmt.Sprintf("/api/admin/publications/%d", pubID), `{"title":"Range Notes"}`, staffActor)
	is.Equal(w.Code, http.StatusOK)

	w = a.call(http.MethodDelete, fmt.Sprintf("/api/admin/lookups/publishers/%d", publisherID), "", adminActor)
	is.Equal(w.Code, http.StatusOK) // no longer referenced
}

func TestTrailDiariesOverHTTP(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	first := a.mustAddLookup(is, "creators", `{"first_name":"Author","last_name":"C"}`)
	second := a.mustAddLookup(is, "creators", `{"first_name":"Author","last_name":"G"}`)
	genre := a.mustAddLookup(is, "genres", `{"name":"Travel"}`)

	id := a.mustCreatePublication(is, fmt.Sprintf(`{"title":"Trail Diaries","creator_ids":[%d]}`, first))

	w := a.call(http.MethodGet, fmt.Sprintf("/api/admin/publications/%d", id), "", staffActor)
	is.Equal(w.Code, http.StatusOK)
	var edit struct {
		Publication repo.PublicationEditView `json:"publication"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &edit))
	is.Equal(edit.Publication.Version, 1)

	body := fmt.Sprintf(`{"title":"Trail Diaries","expected_version":%d,"creator_ids":[%d,%d],"genre_ids":[%d],"keywords":["wyoming","1860s"]}`,
		edit.Publication.Version, first, second, genre)
	w = a.call(http.MethodPut, fmt.Sprintf("/api/admin/publications/%d", id), body, staffActor)
	is.Equal(w.Code, http.StatusOK)

	var updated struct {
		Success    bool `json:"success"`
		AffectedID *int `json:"affected_id"`
		Data       struct {
			Publication  repo.PublicationEditView `json:"publication"`
			Associations reconcile.Report         `json:"associations"`
		} `json:"data"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &updated))
	is.True(updated.Success)
	is.Equal(*updated.AffectedID, id)
	is.Equal(updated.Data.Associations.Writes(), int64(4)) // one creator, one genre, two keywords
	is.Equal(updated.Data.Publication.Version, 2)
	is.Equal(len(updated.Data.Publication.Authors), 2)

	// The same body again is stale
	w = a.call(http.MethodPut, fmt.Sprintf("/api/admin/publications/%d", id), body, staffActor)
	is.Equal(w.Code, http.StatusConflict)
	is.Equal(decodeResult(is, w).Kind, apperr.ConcurrencyConflict.String())

	w = a.call(http.MethodGet, fmt.Sprintf("/api/publications/%d", id), "", nil)
	is.Equal(w.Code, http.StatusOK)
	var detail struct {
		Publication repo.PublicationDetail `json:"publication"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &detail))
	is.Equal(len(detail.Publication.Keywords), 2)

	a.Wait()
	is.Equal(a.notifier.sentEvents(), []string{events.EventPublicationCreated, events.EventPublicationUpdated})
}

func TestRequestTriageOverHTTP(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessReject, Options{})

	pubID := a.mustCreatePublication(is, `{"title":"Trail Diaries"}`)

	w := a.call(http.MethodPost, "/api/requests", fmt.Sprintf(`{
		"publication_id": %d,
		"first_name": "Mari",
		"last_name": "Sandoz",
		"email": "mari@example.org",
		"research_purpose": "Family history"
	}`, pubID), nil)
	is.Equal(w.Code, http.StatusCreated)
	requestID := *decodeResult(is, w).AffectedID

	w = a.call(http.MethodGet, "/api/admin/requests/pending", "", staffActor)
	is.Equal(w.Code, http.StatusOK)
	var pending struct {
		Requests []repo.RequestView `json:"requests"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &pending))
	is.Equal(len(pending.Requests), 1)
	is.Equal(pending.Requests[0].RequestType, repo.RequestTypeBorrow)

	path := fmt.Sprintf("/api/admin/requests/%d/process", requestID)
	w = a.call(http.MethodPost, path, `{"action":"approve","notes":"Reading room, Tuesday"}`, staffActor)
	is.Equal(w.Code, http.StatusOK)
	res := decodeResult(is, w)
	is.Equal(res.Message, "Request Approved.")

	w = a.call(http.MethodGet, fmt.Sprintf("/api/admin/requests/%d", requestID), "", staffActor)
	var got struct {
		Request repo.RequestView `json:"request"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &got))
	is.Equal(got.Request.Status, string(repo.StatusApproved))
	is.Equal(got.Request.ProcessedBy, "Sam Staff") // taken from the actor

	// The reject policy refuses a second decision
	w = a.call(http.MethodPost, path, `{"action":"Deny"}`, staffActor)
	is.Equal(w.Code, http.StatusConflict)
	is.Equal(decodeResult(is, w).Kind, apperr.InvalidStateTransition.String())

	w = a.call(http.MethodPost, path, `{"action":"Shelve"}`, staffActor)
	is.Equal(w.Code, http.StatusUnprocessableEntity)

	w = a.call(http.MethodGet, "/api/admin/requests?status=bogus", "", staffActor)
	is.Equal(w.Code, http.StatusUnprocessableEntity)

	a.Wait()
	is.Equal(a.notifier.sentEvents(), []string{events.EventPublicationCreated, events.EventRequestProcessed, events.EventRequestSubmitted})
	notice, ok := a.notifier.noticeWithStatus(string(repo.StatusApproved))
	is.True(ok) // the decision must be announced
	is.Equal(notice.Email, "mari@example.org")
	is.Equal(notice.PublicationTitle, "Trail Diaries")
	is.Equal(notice.ProcessedBy, "Sam Staff")
}

func TestNotificationFailureKeepsTheChange(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{})
	a.notifier.err = errors.New("broker unreachable")

	id := a.mustCreatePublication(is, `{"title":"Survey Notes"}`)
	a.Wait()

	w := a.call(http.MethodGet, fmt.Sprintf("/api/publications/%d", id), "", nil)
	is.Equal(w.Code, http.StatusOK)
}

func TestRejectsMalformedInput(t *testing.T) {
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		field  string
	}{
		{"unknown field", http.MethodPost, "/api/admin/publications", `{"title":"x","colour":"red"}`, "body"},
		{"two documents", http.MethodPost, "/api/admin/publications", `{"title":"x"}{"title":"y"}`, "body"},
		{"empty body", http.MethodPost, "/api/admin/publications", "", "body"},
		{"wrong type", http.MethodPost, "/api/admin/publications", `{"title":7}`, "title"},
		{"blank title", http.MethodPost, "/api/admin/publications", `{"title":"  "}`, "title"},
		{"bad id", http.MethodGet, "/api/admin/publications/abc", "", "id"},
		{"bad page size", http.MethodGet, "/api/publications?page_size=500", "", "page_size"},
		{"non numeric filter", http.MethodGet, "/api/publications?genre_id=travel", "", "genre_id"},
		{"bad order", http.MethodGet, "/api/publications?order=sideways", "", "order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			w := a.call(tt.method, tt.path, tt.body, staffActor)
			is.Equal(w.Code, http.StatusUnprocessableEntity)
			res := decodeResult(is, w)
			is.Equal(res.Kind, apperr.ValidationFailure.String())
			_, ok := res.Errors[tt.field]
			is.True(ok) // error must name the field
		})
	}
}

func TestSearchOverHTTP(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	a.mustCreatePublication(is, `{"title":"Trail Diaries","year_published":"1867","keywords":["Wyoming"]}`)
	a.mustCreatePublication(is, `{"title":"Range Notes","year_published":"1902"}`)
	a.mustCreatePublication(is, `{"title":"Survey Notes","year_published":"c. 1880"}`)

	w := a.call(http.MethodGet, "/api/publications?title=notes&order=desc", "", nil)
	is.Equal(w.Code, http.StatusOK)
	var page struct {
		Publications []repo.PublicationSummary `json:"publications"`
		Metadata     repo.Metadata             `json:"metadata"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &page))
	is.Equal(page.Metadata.TotalRecords, int64(2))
	is.Equal(page.Publications[0].Title, "Survey Notes")

	w = a.call(http.MethodGet, "/api/publications?year_from=1860&year_to=1890", "", nil)
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &page))
	is.Equal(page.Metadata.TotalRecords, int64(1)) // "c. 1880" is not a numeric year
	is.Equal(page.Publications[0].Title, "Trail Diaries")

	w = a.call(http.MethodGet, "/api/keywords", "", nil)
	is.Equal(strings.TrimSpace(w.Body.String()), `{"keywords":["Wyoming"]}`)
}

func TestSubmitRequestIsRateLimited(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		w := a.call(http.MethodPost, "/api/requests", `{}`, nil)
		is.Equal(w.Code, http.StatusUnprocessableEntity) // allowed through to validation
	}

	w := a.call(http.MethodPost, "/api/requests", `{}`, nil)
	is.Equal(w.Code, http.StatusTooManyRequests)
	is.Equal(w.Header().Get("Retry-After"), "1")

	// Reads are not limited
	w = a.call(http.MethodGet, "/api/publications", "", nil)
	is.Equal(w.Code, http.StatusOK)
}

func TestRateLimitKeysOnForwardedAddress(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{RateLimit: 0.001, RateBurst: 1})

	from := func(ip string) http.Header {
		h := http.Header{}
		h.Set("X-Forwarded-For", ip)
		return h
	}

	w := a.call(http.MethodPost, "/api/requests", `{}`, from("198.51.100.7"))
	is.Equal(w.Code, http.StatusUnprocessableEntity)
	w = a.call(http.MethodPost, "/api/requests", `{}`, from("198.51.100.7"))
	is.Equal(w.Code, http.StatusTooManyRequests) // same visitor

	// Every call shares the proxy's remote address, yet another visitor has its own bucket
	w = a.call(http.MethodPost, "/api/requests", `{}`, from("203.0.113.9"))
	is.Equal(w.Code, http.StatusUnprocessableEntity)
}

func TestHealth(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t, repo.ReprocessAllow, Options{})

	w := a.call(http.MethodGet, "/healthz", "", nil)
	is.Equal(w.Code, http.StatusOK)
	is.True(w.Header().Get("X-Request-ID") != "") // every response carries its request id

	a.notifier.healthy = false
	w = a.call(http.MethodGet, "/healthz", "", nil)
	is.Equal(w.Code, http.StatusServiceUnavailable)
}
