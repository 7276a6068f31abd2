package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/pipeline"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// PipelineRequest is the body of POST /api/pipelines.
// ConfigJSON may be a JSON object or a string holding one.
type PipelineRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ConfigJSON  json.RawMessage `json:"config_json"`
}

// PipelineView is the list representation of a pipeline.
type PipelineView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Runtime     string `json:"runtime"`
	LastBuildID *int64 `json:"last_build_id,omitempty"`
}

// RunResponse is returned when a build has been queued.
type RunResponse struct {
	BuildID int64 `json:"build_id"`
}

func newPipelineView(p store.PipelineSummary, now time.Time) PipelineView {
	v := PipelineView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      "unknown",
		Runtime:     "N/A",
	}
	if b := p.LastBuild; b != nil {
		v.Status = string(b.Status)
		v.LastBuildID = &b.ID
		if b.StartedAt != nil {
			v.Runtime = formatRuntime(b.Runtime(now))
		}
	}
	return v
}

// formatRuntime renders whole minutes, e.g. "3 min".
func formatRuntime(d time.Duration) string {
	return fmt.Sprintf("%d min", int(d.Minutes()))
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.opts.Store.ListPipelines(r.Context())
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	now := time.Now()
	views := make([]PipelineView, 0, len(pipelines))
	for _, p := range pipelines {
		views = append(views, newPipelineView(p, now))
	}
	s.Success(w, http.StatusOK, views)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p, err := s.opts.Store.GetPipeline(r.Context(), id)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, p)
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req PipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.ConfigJSON) == 0 || string(req.ConfigJSON) == "null" {
		s.Error(w, r, http.StatusBadRequest, "name and config_json are required")
		return
	}

	raw := string(req.ConfigJSON)
	var embedded string
	if err := json.Unmarshal(req.ConfigJSON, &embedded); err == nil {
		raw = embedded
	}
	def, err := pipeline.Parse(raw)
	if err != nil {
		s.Error(w, r, http.StatusBadRequest, "config_json is not a valid pipeline configuration")
		return
	}
	def.Name = req.Name
	def.Description = req.Description

	p, err := s.opts.Store.CreatePipeline(r.Context(), def)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusCreated, p)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.opts.Store.DeletePipeline(r.Context(), id); err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, map[string]string{"message": "Pipeline deleted"})
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if s.opts.Trigger == nil {
		s.Fail(w, r, errors.DaemonError("build execution is not available").Build())
		return
	}
	b, err := s.opts.Trigger.Run(r.Context(), id)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusAccepted, RunResponse{BuildID: b.ID})
}

// pathID parses the {id} URL parameter, answering 400 when it is not a positive integer.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.Error(w, r, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
