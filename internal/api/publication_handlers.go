package api

import (
	"context"
	"net/http"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/events"
	"github.com/bookstore/services/archive/internal/repo"
)

func (a *API) editPublication(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "retrieve-publication-for-edit")
	defer func() { endSpan(span, err) }()

	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	view, err := a.stores.Publications.GetForEdit(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"publication": view})
}

func (a *API) createPublication(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "create-publication")
	defer func() { endSpan(span, err) }()

	var in repo.PublicationInput
	if err = readJSON(w, r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	in.ID = 0

	id, report, err := a.stores.Publications.Create(ctx, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	change := events.PublicationChange{ID: id, Title: in.Title, Version: 1, Changes: &report}
	a.notify(ctx, events.EventPublicationCreated, func(ctx context.Context) error {
		return a.notifier.PublicationCreated(ctx, change)
	})

	writeJSON(w, http.StatusCreated, apperr.Succeeded("Publication created.", id, report))
}

func (a *API) updatePublication(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "update-publication")
	defer func() { endSpan(span, err) }()

	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var in repo.PublicationInput
	if err = readJSON(w, r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	in.ID = id

	view, report, err := a.stores.Publications.Update(ctx, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	change := events.PublicationChange{ID: view.ID, Title: view.Title, Version: view.Version, Changes: &report}
	a.notify(ctx, events.EventPublicationUpdated, func(ctx context.Context) error {
		return a.notifier.PublicationUpdated(ctx, change)
	})

	writeJSON(w, http.StatusOK, apperr.Succeeded("Publication updated.", view.ID, envelope{
		"publication":  view,
		"associations": report,
	}))
}

func (a *API) deletePublication(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "delete-publication")
	defer func() { endSpan(span, err) }()

	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err = a.stores.Publications.Delete(ctx, id); err != nil {
		a.fail(w, r, err)
		return
	}

	a.notify(ctx, events.EventPublicationDeleted, func(ctx context.Context) error {
		return a.notifier.PublicationDeleted(ctx, id)
	})

	writeJSON(w, http.StatusOK, apperr.Succeeded("Publication deleted.", id, nil))
}
