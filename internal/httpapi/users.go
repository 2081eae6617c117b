package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/report"
)

const defaultReportListLimit = 20

type memoriesResponse struct {
	UserID   string          `json:"user_id"`
	Query    string          `json:"query"`
	Memories []memory.Scored `json:"memories"`
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memories == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory retrieval not configured")
		return
	}
	userID := chi.URLParam(r, "id")
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "missing_query", "query parameter q is required")
		return
	}

	scored, err := s.deps.Memories.Retrieve(r.Context(), userID, query)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if scored == nil {
		scored = []memory.Scored{}
	}
	respondJSON(w, http.StatusOK, memoriesResponse{UserID: userID, Query: query, Memories: scored})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "reports not configured")
		return
	}
	userID := chi.URLParam(r, "id")

	kind := report.Kind(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind"))))
	if kind == "" {
		kind = report.KindLive
	}
	if kind != report.KindLive && kind != report.KindDaily {
		respondError(w, http.StatusBadRequest, "invalid_kind", "kind must be live or daily")
		return
	}

	limit := defaultReportListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	reports, err := s.deps.Reports.List(r.Context(), userID, kind, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if reports == nil {
		reports = []report.Report{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"kind":    kind,
		"reports": reports,
	})
}

func (s *Server) handleRunLiveReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "report scheduler not configured")
		return
	}
	userID := chi.URLParam(r, "id")
	rep, created, err := s.deps.Live.MaybeGenerate(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	body := map[string]any{"user_id": userID, "created": created}
	if created {
		body["report"] = rep
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleRunDailyReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Daily == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "daily reports not configured")
		return
	}
	userID := chi.URLParam(r, "id")

	day := s.deps.Daily.Yesterday()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := s.deps.Daily.ParseDay(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		day = parsed
	}

	rep, found, err := s.deps.Daily.Generate(r.Context(), userID, day)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	body := map[string]any{
		"user_id": userID,
		"date":    day.Format(report.DateLayout),
		"created": found,
	}
	if found {
		body["report"] = rep
	}
	respondJSON(w, http.StatusOK, body)
}
