package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/agent"
	"github.com/rowanlabs/rowan/internal/catalog"
)

type submitQueryRequest struct {
	Prompt   string `json:"prompt"`
	FileInfo string `json:"file_info,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	runID, err := s.Manager.Submit(r.Context(), req.Prompt, req.FileInfo, req.APIKey, req.RunID)
	switch {
	case errors.Is(err, agent.ErrRunBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, agent.ErrUnknownRun):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("submit query failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	runs, err := s.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := s.Store.GetRun(r.Context(), runID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "run not found: "+runID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRegisterDataset(w http.ResponseWriter, r *http.Request) {
	var ds catalog.Dataset
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if ds.Title == "" || ds.FileName == "" {
		writeError(w, http.StatusBadRequest, "title and file_name are required")
		return
	}
	out, err := s.Catalog.Register(r.Context(), ds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dataset_id")
	ds, err := s.Catalog.Get(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "dataset not found: "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dataset_id")
	err := s.Catalog.Delete(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "dataset not found: "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

type indexRequest struct {
	Roots []string `json:"roots"`
}

func (s *Server) handleIndexFiles(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Roots) == 0 {
		writeError(w, http.StatusBadRequest, "roots is required")
		return
	}
	n, err := s.Index.Index(r.Context(), req.Roots)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"indexed": n})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleSearchFiles(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	entries, err := s.Index.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Index.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleConfigKey lets trusted peers fetch this instance's resolved API key.
// Access requires the shared app token; without a configured token the
// endpoint is disabled entirely.
func (s *Server) handleConfigKey(w http.ResponseWriter, r *http.Request) {
	if s.AppToken == "" {
		writeError(w, http.StatusNotFound, "key sharing is not configured")
		return
	}
	if r.Header.Get("x-app-token") != s.AppToken {
		writeError(w, http.StatusUnauthorized, "invalid app token")
		return
	}
	cred, err := s.Keys.Resolve(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusNotFound, "no key available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"openai_api_key": cred.Key, "source": cred.Source})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
