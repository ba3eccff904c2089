// Package servertest runs an in-process fake of the data-management platform
// for plugin tests: token issuance, job state, prep-template metadata, and
// artifact lookups. It captures heartbeats, step updates, and completion
// payloads so tests can assert on what the plugin reported.
package servertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"

	"github.com/qiita-spots/qtp-biom/internal/client"
	"github.com/qiita-spots/qtp-biom/internal/config"
)

// Credentials accepted by the fake authenticate endpoint.
const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"
)

// Completion is the completion payload a plugin posted for a job.
type Completion struct {
	Success   bool                  `json:"success"`
	Error     string                `json:"error"`
	Artifacts []client.ArtifactInfo `json:"artifacts"`
}

// Job is the fake server's view of one processing job.
type Job struct {
	ID         string
	Command    string
	Parameters client.Parameters
	Status     string
	Heartbeats int
	Steps      []string
	Completion *Completion
}

// Server is the fake platform. Zero-value fields are initialised by New.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	token      string
	expired    bool
	authCount  int
	jobs       map[string]*Job
	preps      map[string]map[string]map[string]string
	analyses   map[string]map[string]map[string]string
	artifacts  map[string]map[string][]string
	summaries  map[string]map[string]string
	nextPrepID int
	manifests  []client.PluginManifest
}

// New starts the fake platform on a local listener. The caller owns shutdown
// via Close (usually t.Cleanup).
func New() *Server {
	s := &Server{
		token:     uuid.NewString(),
		jobs:      make(map[string]*Job),
		preps:     make(map[string]map[string]map[string]string),
		analyses:  make(map[string]map[string]map[string]string),
		artifacts: make(map[string]map[string][]string),
		summaries: make(map[string]map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /qiita_db/authenticate/", s.handleAuthenticate)
	mux.HandleFunc("GET /qiita_db/jobs/{id}", s.handleJobInfo)
	mux.HandleFunc("POST /qiita_db/jobs/{id}/heartbeat/", s.handleHeartbeat)
	mux.HandleFunc("POST /qiita_db/jobs/{id}/step/", s.handleStep)
	mux.HandleFunc("POST /qiita_db/jobs/{id}/complete/", s.handleComplete)
	mux.HandleFunc("GET /qiita_db/prep_template/{id}/data/", s.handlePrepData)
	mux.HandleFunc("GET /qiita_db/analysis/{id}/metadata/", s.handleAnalysisMetadata)
	mux.HandleFunc("GET /qiita_db/artifacts/{id}/", s.handleArtifact)
	mux.HandleFunc("POST /qiita_db/artifacts/{id}/html_summary/", s.handleHTMLSummary)
	mux.HandleFunc("POST /qiita_db/plugins/", s.handleRegister)
	s.Server = httptest.NewServer(mux)
	return s
}

// Config returns a connection config pointing at the fake server.
func (s *Server) Config() *config.Config {
	return &config.Config{
		ServerURL:    s.URL,
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
	}
}

// AddJob registers a job and returns its id.
func (s *Server) AddJob(command string, params client.Parameters) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.jobs[id] = &Job{ID: id, Command: command, Parameters: params, Status: "running"}
	return id
}

// Job returns a copy of the job state, or nil when unknown.
func (s *Server) Job(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	cp.Steps = append([]string(nil), j.Steps...)
	if j.Completion != nil {
		c := *j.Completion
		cp.Completion = &c
	}
	return &cp
}

// AddPrepTemplate registers prep metadata (sample id -> column -> value) and
// returns the template id.
func (s *Server) AddPrepTemplate(data map[string]map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPrepID++
	id := fmt.Sprintf("%d", s.nextPrepID)
	s.preps[id] = data
	return id
}

// AddAnalysis registers analysis metadata (sample id -> column -> value) and
// returns the analysis id.
func (s *Server) AddAnalysis(data map[string]map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPrepID++
	id := fmt.Sprintf("%d", s.nextPrepID)
	s.analyses[id] = data
	return id
}

// AddArtifact registers an artifact's files (type -> paths) and returns its id.
func (s *Server) AddArtifact(files map[string][]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.artifacts[id] = files
	return id
}

// Manifests returns the plugin manifests posted to the registry endpoint.
func (s *Server) Manifests() []client.PluginManifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.PluginManifest(nil), s.manifests...)
}

// AuthCount returns how many times credentials were exchanged for a token.
func (s *Server) AuthCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCount
}

// ExpireToken invalidates the current token. The next authenticated request
// gets a token-expired error, forcing the client through re-authentication.
func (s *Server) ExpireToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = true
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PostFormValue("client_id") != ClientID || r.PostFormValue("client_secret") != ClientSecret {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_client",
			"error_description": "Oauth2 error: invalid client information",
		})
		return
	}
	s.authCount++
	s.token = uuid.NewString()
	s.expired = false
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": s.token,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// checkAuth reports whether the request carries the current token. It writes
// the error response itself when the check fails.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired || r.Header.Get("Authorization") != "Bearer "+s.token {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Oauth2 error: token has timed out",
		})
		return false
	}
	return true
}

func (s *Server) handleJobInfo(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[r.PathValue("id")]
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"command":    j.Command,
		"parameters": j.Parameters,
		"status":     j.Status,
		"msg":        "",
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[r.PathValue("id")]
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	j.Heartbeats++
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	var body struct {
		Step string `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[r.PathValue("id")]
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	j.Steps = append(j.Steps, body.Step)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	var c Completion
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[r.PathValue("id")]
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	j.Completion = &c
	if c.Success {
		j.Status = "success"
	} else {
		j.Status = "error"
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePrepData(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.preps[r.PathValue("id")]
	if !ok {
		http.Error(w, "unknown prep template", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func (s *Server) handleAnalysisMetadata(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.analyses[r.PathValue("id")]
	if !ok {
		http.Error(w, "unknown analysis", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(data)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	files, ok := s.artifacts[r.PathValue("id")]
	if !ok {
		http.Error(w, "unknown artifact", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"files": files})
}

func (s *Server) handleHTMLSummary(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := s.artifacts[id]; !ok {
		http.Error(w, "unknown artifact", http.StatusNotFound)
		return
	}
	s.summaries[id] = body
	w.WriteHeader(http.StatusOK)
}

// HTMLSummary returns the summary files posted for an artifact, or nil.
func (s *Server) HTMLSummary(id string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaries[id] == nil {
		return nil
	}
	cp := make(map[string]string, len(s.summaries[id]))
	for k, v := range s.summaries[id] {
		cp[k] = v
	}
	return cp
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	var m client.PluginManifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests = append(s.manifests, m)
	w.WriteHeader(http.StatusOK)
}
