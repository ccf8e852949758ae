package api

import (
	"net/http"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/bookstore/services/archive/internal/repo"
)

func (a *API) recordTransfer(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "record-transfer")
	defer func() { endSpan(span, err) }()

	var in repo.TransferInput
	if err = readJSON(w, r, &in); err != nil {
		a.fail(w, r, err)
		return
	}

	id, err := a.stores.Transfers.Record(ctx, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, apperr.Succeeded("Transfer recorded.", id, nil))
}

func (a *API) listTransfers(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, span := tracer.Start(r.Context(), "list-transfers")
	defer func() { endSpan(span, err) }()

	id, err := readIDParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	transfers, err := a.stores.Transfers.ListForPublication(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"transfers": transfers})
}
