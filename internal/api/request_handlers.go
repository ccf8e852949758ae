package api

import (
	"context"
	"net/http"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/events"
	"github.com/bookstore/services/archive/internal/repo"
)

// processBody is a staff decision as sent by the admin screens
type processBody struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

func noticeOf(v *repo.RequestView) events.RequestNotice {
	return events.RequestNotice{
		RequestID:        v.ID,
		PublicationID:    v.PublicationID,
		PublicationTitle: v.PublicationTitle,
		RequesterName:    v.RequesterName(),
		Email:            v.Email,
		RequestType:      v.RequestType,
		Status:           v.Status,
		ProcessedBy:      v.ProcessedBy,
		Notes:            v.AdminNotes,
	}
}

func (a *API) submitRequest(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "submit-request")
	defer func() { endSpan(span, err) }()

	var in repo.RequestSubmission
	if err = readJSON(w, r, &in); err != nil {
		a.fail(w, r, err)
		return
	}

	view, err := a.stores.Requests.Submit(ctx, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	notice := noticeOf(view)
	a.notify(ctx, events.EventRequestSubmitted, func(ctx context.Context) error {
		return a.notifier.RequestSubmitted(ctx, notice)
	})

	writeJSON(w, http.StatusCreated, apperr.Succeeded("Your request has been submitted.", view.ID, nil))
}

func (a *API) processRequest(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "process-request")
	defer func() { endSpan(span, err) }()

	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var body processBody
	if err = readJSON(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	action, ok := repo.ParseRequestAction(body.Action)
	if !ok {
		action = repo.RequestAction(body.Action)
	}
	actor, _ := ActorFrom(ctx)

	view, err := a.stores.Requests.Process(ctx, repo.ProcessCommand{
		RequestID:   id,
		Action:      action,
		ProcessedBy: actor.DisplayName(),
		Notes:       body.Notes,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	notice := noticeOf(view)
	a.notify(ctx, events.EventRequestProcessed, func(ctx context.Context) error {
		return a.notifier.RequestProcessed(ctx, notice)
	})

	writeJSON(w, http.StatusOK, apperr.Succeeded("Request "+view.Status+".", view.ID, view))
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "retrieve-request-by-id")
	defer func() { endSpan(span, err) }()

	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	view, err := a.stores.Requests.Get(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"request": view})
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "list-requests")
	defer func() { endSpan(span, err) }()

	var status *repo.RequestStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, ok := repo.ParseRequestStatus(s)
		if !ok {
			err = apperr.Invalid(map[string]string{"status": "is not a known request status"})
			a.fail(w, r, err)
			return
		}
		status = &parsed
	}

	views, err := a.stores.Requests.ListByStatus(ctx, status)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"requests": views})
}

func (a *API) pendingRequests(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "list-pending-requests")
	defer func() { endSpan(span, err) }()

	views, err := a.stores.Requests.Pending(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"requests": views})
}

func (a *API) requestStatistics(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "retrieve-request-statistics")
	defer func() { endSpan(span, err) }()

	stats, err := a.stores.Requests.Statistics(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"statistics": stats})
}
