package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/okian/guardian/internal/adapters/source"
	"github.com/okian/guardian/internal/domain/ingest"
	"github.com/okian/guardian/internal/domain/model"
)

// ReadingsHandler handles ingest requests.
type ReadingsHandler struct {
	deps    ReadingsDependencies
	maxBody int64
}

// NewReadingsHandler creates a new readings handler.
func NewReadingsHandler(deps ReadingsDependencies, maxBody int64) *ReadingsHandler {
	return &ReadingsHandler{deps: deps, maxBody: maxBody}
}

// HandlePostReadings handles POST /readings with a JSON object, array or
// {"readings": [...]} envelope.
func (h *ReadingsHandler) HandlePostReadings(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_readings"
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.bodyError(w, op, err)
		return
	}
	recs, err := source.DecodePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.ingest(w, r, op, "http", recs)
}

// HandlePostCSV handles POST /readings/csv in the wide or long layout.
func (h *ReadingsHandler) HandlePostCSV(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_readings_csv"
	recs, err := source.ParseCSV(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.bodyError(w, op, err)
		return
	}
	h.ingest(w, r, op, "http_csv", recs)
}

func (h *ReadingsHandler) bodyError(w http.ResponseWriter, op string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrTooLarge, err))
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
}

func (h *ReadingsHandler) ingest(w http.ResponseWriter, r *http.Request, op, src string, recs []model.RawRecord) {
	report, err := h.deps.Ingest(r.Context(), src, recs)
	switch {
	case errors.Is(err, ingest.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, "empty_batch", WrapKind(op, ErrBadRequest, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	status := http.StatusAccepted
	if report.Accepted == 0 && len(report.Rejected) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}
