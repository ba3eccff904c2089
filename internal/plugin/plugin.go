// Package plugin ties the pieces together: it defines the plugin's command
// registry, executes processing jobs against the platform (with heartbeats),
// registers the plugin manifest, and serves the local ops endpoints.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qiita-spots/qtp-biom/internal/client"
	"github.com/qiita-spots/qtp-biom/internal/config"
	"github.com/qiita-spots/qtp-biom/internal/jobstore"
	"github.com/qiita-spots/qtp-biom/internal/monitoring"
	"github.com/qiita-spots/qtp-biom/internal/validate"
)

// Command names as registered with the platform.
const (
	CmdValidate        = "Validate"
	CmdGenerateSummary = "Generate HTML summary"
)

// CommandFunc runs one plugin command for a job. The returned artifacts are
// posted with the completion; a non-nil error fails the job with its message.
type CommandFunc func(ctx context.Context, cl *client.Client, jobID string, params client.Parameters, outDir string) ([]client.ArtifactInfo, error)

// Plugin is the qtp-biom plugin definition.
type Plugin struct {
	Name        string
	Version     string
	Description string

	// HeartbeatInterval controls how often a running job reports liveness.
	HeartbeatInterval time.Duration

	commands map[string]CommandFunc
	specs    []client.CommandSpec
	store    *jobstore.Store
}

// New builds the plugin with its command registry. store may be nil; run
// history is then not recorded.
func New(store *jobstore.Store) *Plugin {
	p := &Plugin{
		Name:              "BIOM type",
		Version:           "2.1.4",
		Description:       "The Biological Observation Matrix format",
		HeartbeatInterval: 30 * time.Second,
		commands:          make(map[string]CommandFunc),
		store:             store,
	}
	p.register(CmdValidate, "Validate and fix a new BIOM artifact", map[string]string{
		"template":      "prep_template",
		"files":         "string",
		"artifact_type": "string",
	}, validate.Validate)
	p.register(CmdGenerateSummary, "Generate the HTML summary of a BIOM artifact", map[string]string{
		"input_data": "artifact",
	}, generateHTMLSummary)
	return p
}

func (p *Plugin) register(name, description string, required map[string]string, fn CommandFunc) {
	p.commands[name] = fn
	p.specs = append(p.specs, client.CommandSpec{
		Name:               name,
		Description:        description,
		RequiredParameters: required,
	})
}

// Manifest returns the registration payload for this plugin.
func (p *Plugin) Manifest() client.PluginManifest {
	return client.PluginManifest{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Commands:    p.specs,
	}
}

// Register publishes the plugin manifest to the platform.
func (p *Plugin) Register(ctx context.Context, cfg *config.Config) error {
	cl, err := client.New(cfg)
	if err != nil {
		return err
	}
	return cl.RegisterPlugin(ctx, p.Manifest())
}

// Execute runs one processing job end to end: fetch the job, heartbeat while
// the command runs, and report completion or failure back to the platform.
// Command-level failures are reported to the platform and do not surface as
// an error here; only infrastructure failures do.
func (p *Plugin) Execute(ctx context.Context, cfg *config.Config, jobID, outDir string) error {
	cl, err := client.New(cfg)
	if err != nil {
		return err
	}

	info, err := cl.JobInfo(ctx, jobID)
	if err != nil {
		return err
	}

	// Heartbeat routine keeps the job alive on the platform while the
	// command runs.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cl.Heartbeat(hbCtx, jobID); err != nil {
			monitoring.Logf("heartbeat for job %s failed: %v", jobID, err)
		}
		ticker := time.NewTicker(p.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := cl.Heartbeat(hbCtx, jobID); err != nil {
					monitoring.Logf("heartbeat for job %s failed: %v", jobID, err)
				}
			}
		}
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	cmd, ok := p.commands[info.Command]
	if !ok {
		msg := fmt.Sprintf("Unknown command %q for plugin %s %s", info.Command, p.Name, p.Version)
		if err := cl.CompleteJob(ctx, jobID, false, nil, msg); err != nil {
			return err
		}
		return nil
	}

	var runID string
	if p.store != nil {
		runID, err = p.store.RecordStart(jobID, info.Command)
		if err != nil {
			monitoring.Logf("failed to record run start for job %s: %v", jobID, err)
		}
	}

	monitoring.Logf("running command %q for job %s", info.Command, jobID)
	artifacts, cmdErr := cmd(ctx, cl, jobID, info.Parameters, outDir)

	if p.store != nil && runID != "" {
		msg := ""
		if cmdErr != nil {
			msg = cmdErr.Error()
		}
		if err := p.store.RecordFinish(runID, msg); err != nil {
			monitoring.Logf("failed to record run finish for job %s: %v", jobID, err)
		}
	}

	if cmdErr != nil {
		monitoring.Logf("command %q for job %s failed: %v", info.Command, jobID, cmdErr)
		return cl.CompleteJob(ctx, jobID, false, nil, cmdErr.Error())
	}
	return cl.CompleteJob(ctx, jobID, true, artifacts, "")
}
