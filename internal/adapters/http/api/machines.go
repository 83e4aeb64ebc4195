package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/guardian/internal/adapters/repository"
	"github.com/okian/guardian/internal/adapters/source"
)

const (
	defaultLimit    = 50
	defaultMaxLimit = 500
)

// MachinesHandler serves the dashboard read side.
type MachinesHandler struct {
	deps     MachinesDependencies
	maxLimit int
}

// NewMachinesHandler creates a new machines handler.
func NewMachinesHandler(deps MachinesDependencies, maxLimit int) *MachinesHandler {
	return &MachinesHandler{deps: deps, maxLimit: maxLimit}
}

// HandleList handles GET /machines?limit=N, ranked by latest risk score.
func (h *MachinesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_machines"
	n := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		n = v
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
		return
	}
	entries, err := h.deps.Machines(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleAssessments handles GET /machines/{id}/assessments?from&to.
func (h *MachinesHandler) HandleAssessments(w http.ResponseWriter, r *http.Request) {
	const op = "api.machine_assessments"
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	view, err := h.deps.MachineView(r.Context(), r.PathValue("id"), from, to)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, repository.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleEpisode handles GET /machines/{id}/episode.
func (h *MachinesHandler) HandleEpisode(w http.ResponseWriter, r *http.Request) {
	const op = "api.machine_episode"
	ep, err := h.deps.Episode(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	default:
		writeJSON(w, http.StatusOK, ep)
	}
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	return source.ParseTime(s)
}
