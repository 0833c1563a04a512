package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/resolver"
	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/desertthunder/hymnal/internal/tasks"
)

// RoleHeader is consulted when a request has no role query parameter.
const RoleHeader = "X-Role"

// Backend is the part of the engine the HTTP surface calls.
type Backend interface {
	GetAllSongs(ctx context.Context, role models.Role) resolver.Result
	GetSongsForCollection(ctx context.Context, id string, role models.Role) resolver.Result
	GetPaginatedSongs(ctx context.Context, pageSize int, cursor string) resolver.Page
	ForceRefresh(ctx context.Context, role models.Role, progress chan<- tasks.ProgressUpdate) (resolver.RefreshReport, error)
	ClearCache(ctx context.Context) error
	EmergencyReset(ctx context.Context, role models.Role, progress chan<- tasks.ProgressUpdate) (resolver.RefreshReport, error)
	HasRemoteChanged(ctx context.Context) bool
	GetCacheStatistics(ctx context.Context) models.CacheStatistics
}

// API serves song reads and cache maintenance as JSON.
type API struct {
	backend Backend
	mux     *http.ServeMux
	routes  []string
	logger  *log.Logger
}

// SongsResponse is the body of the song read endpoints.
type SongsResponse struct {
	Songs  []models.Song `json:"songs"`
	Count  int           `json:"count"`
	Online bool          `json:"online"`
	Source string        `json:"source"`
}

// PageResponse is the body of the paginated read endpoint.
type PageResponse struct {
	SongsResponse
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// RefreshResponse is the body of the refresh and reset endpoints.
type RefreshResponse struct {
	Collections int            `json:"collections"`
	Songs       int            `json:"songs"`
	Partitions  map[string]int `json:"partitions"`
	Failed      []string       `json:"failed,omitempty"`
}

// RunResponse is one recent refresh run in the statistics body.
type RunResponse struct {
	ID          string     `json:"id"`
	Sequence    int        `json:"sequence"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	Role        string     `json:"role,omitempty"`
	Collections int        `json:"collections"`
	Songs       int        `json:"songs"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatsResponse is the body of the statistics endpoint.
type StatsResponse struct {
	models.CacheStatistics
	Runs []RunResponse `json:"recent_runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewAPI builds the JSON handler over backend.
func NewAPI(backend Backend, logger *log.Logger) *API {
	a := &API{
		backend: backend,
		mux:     http.NewServeMux(),
		logger:  shared.WithLogger(logger, "component", "api"),
	}

	a.route("GET /health", a.health)
	a.route("GET /songs", a.allSongs)
	a.route("GET /songs/page", a.pagedSongs)
	a.route("GET /collections/{id}/songs", a.collectionSongs)
	a.route("GET /changes", a.changes)
	a.route("GET /stats", a.stats)
	a.route("POST /refresh", a.refresh)
	a.route("POST /reset", a.reset)
	a.route("DELETE /cache", a.clearCache)
	return a
}

// NewRouter returns a [BasicRouter] serving api behind the standard middleware stack
// followed by extra.
func NewRouter(api *API, logger *log.Logger, extra ...Middleware) *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recover(logger), RequestID(), Logging(logger))
	r.Use(extra...)
	r.Handler(api)
	return r
}

// Routes implements [Handler].
func (a *API) Routes() []string { return a.routes }

// ServeHTTP implements [http.Handler].
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.mux.ServeHTTP(w, r) }

func (a *API) route(pattern string, fn http.HandlerFunc) {
	a.routes = append(a.routes, pattern)
	a.mux.HandleFunc(pattern, fn)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) allSongs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, songsResponse(a.backend.GetAllSongs(r.Context(), roleOf(r))))
}

func (a *API) collectionSongs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, songsResponse(a.backend.GetSongsForCollection(r.Context(), id, roleOf(r))))
}

func (a *API) pagedSongs(w http.ResponseWriter, r *http.Request) {
	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, shared.ErrInvalidArgument)
			return
		}
		size = n
	}

	page := a.backend.GetPaginatedSongs(r.Context(), size, r.URL.Query().Get("cursor"))
	writeJSON(w, http.StatusOK, PageResponse{
		SongsResponse: SongsResponse{
			Songs:  page.Songs,
			Count:  len(page.Songs),
			Online: page.Online,
			Source: string(page.Source),
		},
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	})
}

func (a *API) changes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"changed": a.backend.HasRemoteChanged(r.Context())})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats := a.backend.GetCacheStatistics(r.Context())
	resp := StatsResponse{CacheStatistics: stats, Runs: make([]RunResponse, 0, len(stats.RecentRuns))}
	for _, run := range stats.RecentRuns {
		resp.Runs = append(resp.Runs, RunResponse{
			ID:          run.ID(),
			Sequence:    run.Sequence(),
			Trigger:     string(run.Trigger()),
			Status:      string(run.Status()),
			Role:        run.Role(),
			Collections: run.Collections(),
			Songs:       run.Songs(),
			Error:       run.ErrorMessage(),
			StartedAt:   run.StartedAt(),
			CompletedAt: run.CompletedAt(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	report, err := a.backend.ForceRefresh(r.Context(), roleOf(r), nil)
	a.writeReport(w, report, err)
}

func (a *API) reset(w http.ResponseWriter, r *http.Request) {
	report, err := a.backend.EmergencyReset(r.Context(), roleOf(r), nil)
	a.writeReport(w, report, err)
}

func (a *API) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.backend.ClearCache(r.Context()); err != nil {
		a.logger.Error("failed to clear cache", "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeReport(w http.ResponseWriter, report resolver.RefreshReport, err error) {
	if err != nil {
		a.logger.Warn("refresh failed", "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		Collections: report.Collections,
		Songs:       report.Songs,
		Partitions:  report.Partitions,
		Failed:      report.Failed,
	})
}

func songsResponse(res resolver.Result) SongsResponse {
	return SongsResponse{
		Songs:  res.Songs,
		Count:  len(res.Songs),
		Online: res.Online,
		Source: string(res.Source),
	}
}

func roleOf(r *http.Request) models.Role {
	if role := r.URL.Query().Get("role"); role != "" {
		return models.Role(role)
	}
	if role := r.Header.Get(RoleHeader); role != "" {
		return models.Role(role)
	}
	return models.RoleGuest
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrRefreshUnavailable), errors.Is(err, shared.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, shared.ErrRemoteRequest), errors.Is(err, shared.ErrTimeout):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrInvalidArgument), errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
