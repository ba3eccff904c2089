package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/qiita-spots/qtp-biom/internal/jobstore"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes local ops endpoints for the plugin: status, run history and
// a debug chart. It is not part of the platform protocol.
type Server struct {
	p     *Plugin
	store *jobstore.Store
}

// NewServer creates the ops server over the plugin and its run store.
func NewServer(p *Plugin, store *jobstore.Store) *Server {
	return &Server{p: p, store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the ops API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/rollup", s.showRollup)
	mux.HandleFunc("/debug/runs/chart", s.showRunsChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := map[string]interface{}{
		"plugin":  s.p.Name,
		"version": s.p.Version,
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

type runAPI struct {
	RunID      string  `json:"run_id"`
	JobID      string  `json:"job_id"`
	Command    string  `json:"command"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}

	apiRuns := make([]runAPI, len(runs))
	for i, run := range runs {
		apiRuns[i] = runAPI{
			RunID:     run.ID,
			JobID:     run.JobID,
			Command:   run.Command,
			Status:    run.Status,
			Error:     run.Error,
			StartedAt: run.StartedAt.Format(time.RFC3339),
		}
		if run.FinishedAt != nil {
			finished := run.FinishedAt.Format(time.RFC3339)
			apiRuns[i].FinishedAt = &finished
		}
	}

	if err := json.NewEncoder(w).Encode(apiRuns); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
		return
	}
}

func (s *Server) showRollup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rollup, err := s.store.RunRollup()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve rollup: %v", err))
		return
	}
	if err := json.NewEncoder(w).Encode(rollup); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write rollup")
		return
	}
}

// showRunsChart renders a quick bar chart (HTML) of run counts per command.
// Debugging-only endpoint; no auth.
func (s *Server) showRunsChart(w http.ResponseWriter, r *http.Request) {
	rollup, err := s.store.RunRollup()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve rollup: %v", err))
		return
	}

	commands := make([]string, len(rollup))
	runs := make([]opts.BarData, len(rollup))
	errs := make([]opts.BarData, len(rollup))
	for i, row := range rollup {
		commands[i] = row.Command
		runs[i] = opts.BarData{Value: row.Runs}
		errs[i] = opts.BarData{Value: row.Errors}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Plugin runs", Theme: "dark"}),
		charts.WithTitleOpts(opts.Title{Title: "Runs per command", Subtitle: fmt.Sprintf("plugin=%s %s", s.p.Name, s.p.Version)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(commands).
		AddSeries("runs", runs).
		AddSeries("errors", errs)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
