// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/guardian/internal/adapters/repository"
	service "github.com/okian/guardian/internal/app"
	"github.com/okian/guardian/internal/domain/ingest"
	"github.com/okian/guardian/internal/domain/model"
)

const defaultMaxBodyBytes = 16 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ReadingsDependencies
	MachinesDependencies
}

// ReadingsDependencies ingests batches.
type ReadingsDependencies interface {
	Ingest(ctx context.Context, source string, recs []model.RawRecord) (ingest.Report, error)
}

// MachinesDependencies exposes the dashboard read side.
type MachinesDependencies interface {
	Machines(ctx context.Context, n int) ([]repository.Entry, error)
	MachineView(ctx context.Context, machineID string, from, to time.Time) (service.MachineView, error)
	Episode(ctx context.Context, machineID string) (model.AlertEpisode, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	opsHandler      *OpsHandler
	readingsHandler *ReadingsHandler
	machinesHandler *MachinesHandler
	alerts          http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMaxBodyBytes caps ingest request bodies.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.readingsHandler.maxBody = n
		}
	}
}

// WithMaxLimit caps GET /machines?limit.
func WithMaxLimit(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.machinesHandler.maxLimit = n
		}
	}
}

// WithAlertStream mounts the websocket alert stream at /ws/alerts.
func WithAlertStream(h http.Handler) ServerOption {
	return func(s *Server) { s.alerts = h }
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		opsHandler:      NewOpsHandler(statsProvider),
		readingsHandler: NewReadingsHandler(deps, defaultMaxBodyBytes),
		machinesHandler: NewMachinesHandler(deps, defaultMaxLimit),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.opsHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.opsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /readings", MetricsMiddleware(s.readingsHandler.HandlePostReadings, "readings"))
	mux.HandleFunc("POST /readings/csv", MetricsMiddleware(s.readingsHandler.HandlePostCSV, "readings_csv"))
	mux.HandleFunc("GET /machines", MetricsMiddleware(s.machinesHandler.HandleList, "machines"))
	mux.HandleFunc("GET /machines/{id}/assessments", MetricsMiddleware(s.machinesHandler.HandleAssessments, "assessments"))
	mux.HandleFunc("GET /machines/{id}/episode", MetricsMiddleware(s.machinesHandler.HandleEpisode, "episode"))
	if s.alerts != nil {
		mux.Handle("/ws/alerts", s.alerts)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
