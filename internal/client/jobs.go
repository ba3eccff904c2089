package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// Parameters are the per-job command parameters as stored by the platform.
// Values are heterogeneous (strings, numbers, nulls, embedded JSON strings),
// so typed access goes through the helper methods.
type Parameters map[string]interface{}

// String returns the string value for key, or "" when absent or not a string.
func (p Parameters) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Has reports whether key is present with a non-null value.
func (p Parameters) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Files decodes the "files" parameter, which the platform stores as a JSON
// string mapping file type to a list of paths.
func (p Parameters) Files() (map[string][]string, error) {
	raw := p.String("files")
	if raw == "" {
		return nil, fmt.Errorf("job parameters missing files")
	}
	files := make(map[string][]string)
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil, fmt.Errorf("failed to decode files parameter: %w", err)
	}
	return files, nil
}

// JobInfo is what the platform reports about a processing job.
type JobInfo struct {
	Command    string     `json:"command"`
	Parameters Parameters `json:"parameters"`
	Status     string     `json:"status"`
	Msg        string     `json:"msg"`
}

// JobInfo fetches the command name and parameters for a job.
func (c *Client) JobInfo(ctx context.Context, jobID string) (*JobInfo, error) {
	var info JobInfo
	if err := c.Get(ctx, "/qiita_db/jobs/"+jobID, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	return &info, nil
}

// Heartbeat tells the platform the job is still alive.
func (c *Client) Heartbeat(ctx context.Context, jobID string) error {
	return c.Post(ctx, "/qiita_db/jobs/"+jobID+"/heartbeat/", nil, nil)
}

// UpdateJobStep reports the human-readable step the job is currently on.
func (c *Client) UpdateJobStep(ctx context.Context, jobID, step string) error {
	return c.Post(ctx, "/qiita_db/jobs/"+jobID+"/step/", map[string]string{"step": step}, nil)
}

type completePayload struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Artifacts []ArtifactInfo `json:"artifacts,omitempty"`
}

// CompleteJob marks the job finished: successful with its output artifacts,
// or failed with an error message.
func (c *Client) CompleteJob(ctx context.Context, jobID string, success bool, artifacts []ArtifactInfo, errMsg string) error {
	payload := completePayload{Success: success, Error: errMsg, Artifacts: artifacts}
	if err := c.Post(ctx, "/qiita_db/jobs/"+jobID+"/complete/", payload, nil); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// PrepTemplateSampleInfo fetches the per-sample metadata of a prep template:
// sample id to column name to value.
func (c *Client) PrepTemplateSampleInfo(ctx context.Context, templateID string) (map[string]map[string]string, error) {
	var resp struct {
		Data map[string]map[string]string `json:"data"`
	}
	if err := c.Get(ctx, "/qiita_db/prep_template/"+templateID+"/data/", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch prep template %s: %w", templateID, err)
	}
	return resp.Data, nil
}

// AnalysisInfo fetches the per-sample metadata of an analysis. Unlike the
// prep-template endpoint the platform returns the mapping unwrapped.
func (c *Client) AnalysisInfo(ctx context.Context, analysisID string) (map[string]map[string]string, error) {
	data := make(map[string]map[string]string)
	if err := c.Get(ctx, "/qiita_db/analysis/"+analysisID+"/metadata/", &data); err != nil {
		return nil, fmt.Errorf("failed to fetch analysis %s: %w", analysisID, err)
	}
	return data, nil
}

// ArtifactFiles fetches the files attached to an existing artifact, keyed by
// file type.
func (c *Client) ArtifactFiles(ctx context.Context, artifactID string) (map[string][]string, error) {
	var resp struct {
		Files map[string][]string `json:"files"`
	}
	if err := c.Get(ctx, "/qiita_db/artifacts/"+artifactID+"/", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", artifactID, err)
	}
	return resp.Files, nil
}

// SetArtifactHTMLSummary attaches a generated HTML summary to an existing
// artifact.
func (c *Client) SetArtifactHTMLSummary(ctx context.Context, artifactID, indexPath, supportDir string) error {
	payload := map[string]string{"html": indexPath, "dir": supportDir}
	if err := c.Post(ctx, "/qiita_db/artifacts/"+artifactID+"/html_summary/", payload, nil); err != nil {
		return fmt.Errorf("failed to set html summary for artifact %s: %w", artifactID, err)
	}
	return nil
}

// CommandSpec is one command in the plugin manifest sent at registration.
type CommandSpec struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	RequiredParameters map[string]string `json:"required_parameters"`
}

// PluginManifest is the registration payload for a plugin.
type PluginManifest struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Description string        `json:"description"`
	Commands    []CommandSpec `json:"commands"`
}

// RegisterPlugin publishes the plugin manifest to the platform registry so its
// commands become available for processing jobs.
func (c *Client) RegisterPlugin(ctx context.Context, manifest PluginManifest) error {
	if err := c.Post(ctx, "/qiita_db/plugins/", manifest, nil); err != nil {
		return fmt.Errorf("failed to register plugin %s %s: %w", manifest.Name, manifest.Version, err)
	}
	return nil
}
