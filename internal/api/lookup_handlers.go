package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/repo"
	"github.com/go-chi/chi/v5"
)

func readKindParam(r *http.Request) (repo.LookupKind, error) {
	slug := chi.URLParam(r, "kind")
	kind, ok := repo.ParseLookupKind(slug)
	if !ok {
		return nil, apperr.NotFoundf("There is no lookup list named %q.", slug)
	}
	return kind, nil
}

func sentenceCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (a *API) listLookups(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "list-lookups")
	defer func() { endSpan(span, err) }()

	kind, err := readKindParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	items, err := a.stores.Lookups.List(ctx, kind)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"kind": kind.Slug(), "items": items})
}

func (a *API) getLookup(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "retrieve-lookup-by-id")
	defer func() { endSpan(span, err) }()

	kind, err := readKindParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	item, err := a.stores.Lookups.Get(ctx, kind, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"kind": kind.Slug(), "item": item})
}

func (a *API) addLookup(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "add-lookup")
	defer func() { endSpan(span, err) }()

	kind, err := readKindParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var item repo.LookupItem
	if err = readJSON(w, r, &item); err != nil {
		a.fail(w, r, err)
		return
	}
	item.ID = 0

	id, err := a.stores.Lookups.Add(ctx, kind, item)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, apperr.Succeeded(fmt.Sprintf("%s added.", sentenceCase(kind.Label())), id, nil))
}

func (a *API) updateLookup(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "update-lookup")
	defer func() { endSpan(span, err) }()

	kind, err := readKindParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var item repo.LookupItem
	if err = readJSON(w, r, &item); err != nil {
		a.fail(w, r, err)
		return
	}
	item.ID = id

	if err = a.stores.Lookups.Update(ctx, kind, item); err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apperr.Succeeded(fmt.Sprintf("%s updated.", sentenceCase(kind.Label())), id, nil))
}

func (a *API) deleteLookup(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "delete-lookup")
	defer func() { endSpan(span, err) }()

	kind, err := readKindParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err = a.stores.Lookups.Delete(ctx, kind, id); err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apperr.Succeeded(fmt.Sprintf("%s deleted.", sentenceCase(kind.Label())), id, nil))
}

func (a *API) lookupInUse(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "check-lookup-in-use")
	defer func() { endSpan(span, err) }()

	kind, err := readKindParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	inUse, err := a.stores.Lookups.IsInUse(ctx, kind, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"in_use": inUse})
}

// lookupDuplicate checks a candidate before it is saved. The item's id, when
// set, is excluded so an unchanged edit is not its own duplicate.
func (a *API) lookupDuplicate(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "check-lookup-duplicate")
	defer func() { endSpan(span, err) }()

	kind, err := readKindParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var item repo.LookupItem
	if err = readJSON(w, r, &item); err != nil {
		a.fail(w, r, err)
		return
	}

	duplicate, err := a.stores.Lookups.CheckDuplicate(ctx, kind, item, item.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"duplicate": duplicate})
}
