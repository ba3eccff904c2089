package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiita-spots/qtp-biom/internal/client"
	"github.com/qiita-spots/qtp-biom/internal/config"
	"github.com/qiita-spots/qtp-biom/internal/servertest"
)

func newClient(t *testing.T, srv *servertest.Server) *client.Client {
	t.Helper()
	c, err := client.New(srv.Config())
	require.NoError(t, err)
	return c
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	c := newClient(t, srv)
	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, 1, srv.AuthCount())
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	c, err := client.New(&config.Config{
		ServerURL:    srv.URL,
		ClientID:     "wrong",
		ClientSecret: "wrong",
	})
	require.NoError(t, err)

	err = c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid client information")
}

func TestJobInfo(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	jobID := srv.AddJob("Validate", client.Parameters{
		"artifact_type": "BIOM",
		"template":      float64(1),
	})

	c := newClient(t, srv)
	info, err := c.JobInfo(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "Validate", info.Command)
	assert.Equal(t, "BIOM", info.Parameters.String("artifact_type"))
	assert.True(t, info.Parameters.Has("template"))
}

func TestHeartbeatAndSteps(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	jobID := srv.AddJob("Validate", client.Parameters{})
	c := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Heartbeat(ctx, jobID))
	require.NoError(t, c.Heartbeat(ctx, jobID))
	require.NoError(t, c.UpdateJobStep(ctx, jobID, "validating sample ids"))

	job := srv.Job(jobID)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Heartbeats)
	assert.Equal(t, []string{"validating sample ids"}, job.Steps)
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	jobID := srv.AddJob("Validate", client.Parameters{})
	c := newClient(t, srv)

	artifacts := []client.ArtifactInfo{{
		ArtifactType: "BIOM",
		Files: []client.FilePair{
			{Path: "/tmp/table.biom", Type: "biom"},
			{Path: "/tmp/index.html", Type: "html_summary"},
		},
	}}
	require.NoError(t, c.CompleteJob(context.Background(), jobID, true, artifacts, ""))

	job := srv.Job(jobID)
	require.NotNil(t, job.Completion)
	assert.True(t, job.Completion.Success)
	assert.Equal(t, "success", job.Status)
	assert.Equal(t, artifacts, job.Completion.Artifacts)
}

func TestTokenRenewal(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	jobID := srv.AddJob("Validate", client.Parameters{})
	c := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Heartbeat(ctx, jobID))
	srv.ExpireToken()
	require.NoError(t, c.Heartbeat(ctx, jobID))

	// First call authenticated once, the expired token forced a second pass.
	assert.Equal(t, 2, srv.AuthCount())
	assert.Equal(t, 2, srv.Job(jobID).Heartbeats)
}

func TestConcurrentRequestsWithRenewal(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	jobID := srv.AddJob("Validate", client.Parameters{})
	c := newClient(t, srv)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	// The job runner heartbeats from one goroutine while the command issues
	// its own requests; expiring the token mid-flight forces renewals under
	// that contention.
	const workers = 4
	const rounds = 10
	errc := make(chan error, workers*rounds)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				errc <- c.Heartbeat(ctx, jobID)
			}
		}()
	}
	for i := 0; i < rounds; i++ {
		srv.ExpireToken()
	}
	wg.Wait()
	close(errc)

	for err := range errc {
		require.NoError(t, err)
	}
	assert.Equal(t, workers*rounds, srv.Job(jobID).Heartbeats)
	assert.GreaterOrEqual(t, srv.AuthCount(), 2)
}

func TestPrepTemplateSampleInfo(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	prepID := srv.AddPrepTemplate(map[string]map[string]string{
		"1.SKB8.640193": {"run_prefix": "Sample1"},
	})

	c := newClient(t, srv)
	data, err := c.PrepTemplateSampleInfo(context.Background(), prepID)
	require.NoError(t, err)
	assert.Equal(t, "Sample1", data["1.SKB8.640193"]["run_prefix"])
}

func TestAnalysisInfo(t *testing.T) {
	t.Parallel()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	analysisID := srv.AddAnalysis(map[string]map[string]string{
		"1.SKB8.640193": {"sample_type": "stool"},
	})

	c := newClient(t, srv)
	data, err := c.AnalysisInfo(context.Background(), analysisID)
	require.NoError(t, err)
	assert.Equal(t, "stool", data["1.SKB8.640193"]["sample_type"])
}

func TestRetryOnServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /qiita_db/authenticate/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("GET /flaky", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := client.New(&config.Config{ServerURL: ts.URL, ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, c.Get(context.Background(), "/flaky", &out))
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /qiita_db/authenticate/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("GET /missing", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such thing", http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := client.New(&config.Config{ServerURL: ts.URL, ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)

	err = c.Get(context.Background(), "/missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFilePairJSON(t *testing.T) {
	t.Parallel()
	fp := client.FilePair{Path: "/tmp/t.biom", Type: "biom"}
	data, err := json.Marshal(fp)
	require.NoError(t, err)
	assert.JSONEq(t, `["/tmp/t.biom", "biom"]`, string(data))

	var got client.FilePair
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, fp, got)

	assert.Error(t, json.Unmarshal([]byte(`["only-one"]`), &got))
}
