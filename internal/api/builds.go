package api

import (
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/buildrunner/internal/store"
)

const (
	defaultBuildLimit   = 50
	maxBuildLimit       = 500
	dashboardRecentLogs = 5
)

// LogView is one persisted log line as served to clients.
type LogView struct {
	StepIndex int       `json:"step_index"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DashboardView aggregates what the dashboard polls for.
type DashboardView struct {
	Pipelines  []PipelineView `json:"pipelines"`
	RecentLogs []LogView      `json:"recent_logs"`
}

func newLogViews(logs []store.BuildLog) []LogView {
	views := make([]LogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, LogView{StepIndex: l.StepIndex, Text: l.Text, Timestamp: l.Timestamp})
	}
	return views
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := defaultBuildLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.Error(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxBuildLimit)
	}
	builds, err := s.opts.Store.ListBuilds(r.Context(), limit)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	if builds == nil {
		builds = []store.Build{}
	}
	s.Success(w, http.StatusOK, builds)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	b, err := s.opts.Store.GetBuild(r.Context(), id)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, b)
}

func (s *Server) handleGetBuildLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.opts.Store.GetBuild(r.Context(), id); err != nil {
		s.Fail(w, r, err)
		return
	}
	logs, err := s.opts.Store.ListLogs(r.Context(), id)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, newLogViews(logs))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.opts.Store.ListPipelines(r.Context())
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	logs, err := s.opts.Store.RecentLogs(r.Context(), dashboardRecentLogs)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	now := time.Now()
	view := DashboardView{
		Pipelines:  make([]PipelineView, 0, len(pipelines)),
		RecentLogs: newLogViews(logs),
	}
	for _, p := range pipelines {
		view.Pipelines = append(view.Pipelines, newPipelineView(p, now))
	}
	s.Success(w, http.StatusOK, view)
}
