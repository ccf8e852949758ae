package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bookstore/services/archive/internal/repo"
	"github.com/bookstore/services/archive/internal/validator"
)

func (a *API) searchPublications(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "search-publications")
	defer func() { endSpan(span, err) }()

	criteria, err := searchCriteriaFrom(r.URL.Query())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := a.stores.Catalog.Search(ctx, criteria)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"publications": result.Items, "metadata": result.Metadata})
}

func (a *API) publicationDetail(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "retrieve-publication-by-id")
	defer func() { endSpan(span, err) }()

	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	detail, err := a.stores.Catalog.GetDetail(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"publication": detail})
}

func (a *API) keywords(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "retrieve-keywords")
	defer func() { endSpan(span, err) }()

	keywords, err := a.stores.Catalog.Keywords(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"keywords": keywords})
}

func (a *API) collectionStatistics(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "retrieve-collection-statistics")
	defer func() { endSpan(span, err) }()

	stats, err := a.stores.Catalog.CollectionStatistics(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"statistics": stats})
}

// searchCriteriaFrom reads the search filters from the query string. Empty
// parameters are ignored; paging and sort defaults are left to the store.
func searchCriteriaFrom(qs url.Values) (repo.SearchCriteria, error) {
	v := validator.New()

	c := repo.SearchCriteria{
		Title:         qs.Get("title"),
		Keyword:       qs.Get("keyword"),
		Publisher:     qs.Get("publisher"),
		YearPublished: qs.Get("year"),
		ISBN:          qs.Get("isbn"),
		Sort:          qs.Get("sort"),
		CreatorID:     readInt(qs, "creator_id", v),
		GenreID:       readInt(qs, "genre_id", v),
		MediaTypeID:   readInt(qs, "media_type_id", v),
		Page:          readInt(qs, "page", v),
		PageSize:      readInt(qs, "page_size", v),
		YearFrom:      readOptionalInt(qs, "year_from", v),
		YearTo:        readOptionalInt(qs, "year_to", v),
	}

	switch strings.ToLower(qs.Get("order")) {
	case "", "asc":
	case "desc":
		c.Descending = true
	default:
		v.AddError("order", "must be asc or desc")
	}

	return c, v.Err()
}

func readInt(qs url.Values, key string, v *validator.Validator) int {
	s := qs.Get(key)
	if s == "" {
		return 0
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		v.AddError(key, "must be an integer value")
		return 0
	}
	return i
}

func readOptionalInt(qs url.Values, key string, v *validator.Validator) *int {
	if qs.Get(key) == "" {
		return nil
	}
	i := readInt(qs, key, v)
	return &i
}
