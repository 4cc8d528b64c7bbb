package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rcliao/semantic-memory/internal/embedding"
	"github.com/rcliao/semantic-memory/internal/memory"
	"github.com/rcliao/semantic-memory/internal/model"
	"github.com/rcliao/semantic-memory/internal/store"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Detail string `json:"detail"`
}

type infoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type saveRequest struct {
	Text    *string  `json:"text"`
	Project string   `json:"project"`
	Tags    []string `json:"tags"`
}

type saveResponse struct {
	ID        string `json:"id"`
	Saved     bool   `json:"saved"`
	Duplicate bool   `json:"duplicate"`
	Reason    string `json:"reason"`
}

type searchResponse struct {
	Query   string                `json:"query"`
	Results []memory.SearchResult `json:"results"`
	Total   int                   `json:"total"`
}

type archiveResponse struct {
	ID       string `json:"id"`
	Archived bool   `json:"archived"`
}

type memoryResponse struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	ContentHash string   `json:"content_hash"`
	Project     string   `json:"project,omitempty"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	Archived    bool     `json:"archived"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP statuses. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, memory.ErrTextTooLong):
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "memory not found"})
	case errors.Is(err, store.ErrDuplicate):
		writeJSON(w, http.StatusConflict, errorResponse{Detail: "an active memory with the same text already exists"})
	case errors.Is(err, embedding.ErrModelUnavailable):
		s.logger.Error("embedding unavailable", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "embedding model unavailable"})
	default:
		s.logger.Error("request failed", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal server error"})
	}
}

func (s *Server) handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, infoResponse{Name: "Memory System", Version: s.version})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
	}
}

func (s *Server) handleSave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid JSON body: " + err.Error()})
			return
		}
		if req.Text == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "text is required"})
			return
		}

		res, err := s.svc.Save(r.Context(), memory.SaveParams{
			Text:    *req.Text,
			Project: req.Project,
			Tags:    req.Tags,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, saveResponse{
			ID:        res.ID,
			Saved:     true,
			Duplicate: res.WasDuplicate,
			Reason:    res.Reason,
		})
	}
}

func (s *Server) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := q.Get("q")
		if query == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "query parameter q is required"})
			return
		}

		params := memory.SearchParams{Query: query, Project: q.Get("project")}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Detail: fmt.Sprintf("invalid limit %q", v)})
				return
			}
			params.Limit = n
		}
		if v := q.Get("threshold"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < -1 || f > 1 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Detail: fmt.Sprintf("invalid threshold %q", v)})
				return
			}
			params.Threshold = &f
		}

		results, err := s.svc.Search(r.Context(), params)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, searchResponse{Query: query, Results: results, Total: len(results)})
	}
}

func (s *Server) handleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toMemoryResponse(m))
	}
}

func (s *Server) handleArchive(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var err error
		if archived {
			err = s.svc.Archive(r.Context(), id)
		} else {
			err = s.svc.Unarchive(r.Context(), id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, archiveResponse{ID: id, Archived: archived})
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.svc.Stats(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		st.DBPath = ""
		writeJSON(w, http.StatusOK, st)
	}
}

func toMemoryResponse(m *model.Memory) memoryResponse {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return memoryResponse{
		ID:          m.ID,
		Text:        m.Text,
		ContentHash: m.ContentHash,
		Project:     m.Project,
		Tags:        tags,
		CreatedAt:   model.FormatTimestamp(m.CreatedAt),
		UpdatedAt:   model.FormatTimestamp(m.UpdatedAt),
		Archived:    m.Archived,
	}
}
