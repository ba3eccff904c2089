package plugin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qiita-spots/qtp-biom/internal/biom"
	"github.com/qiita-spots/qtp-biom/internal/client"
	"github.com/qiita-spots/qtp-biom/internal/summary"
)

// generateHTMLSummary implements the standalone summary command: fetch the
// artifact's biom file, render the summary, and attach it to the artifact.
// It produces no new artifacts of its own.
func generateHTMLSummary(ctx context.Context, cl *client.Client, jobID string, params client.Parameters, outDir string) ([]client.ArtifactInfo, error) {
	artifactID := idParam(params["input_data"])
	if artifactID == "" {
		return nil, fmt.Errorf("job parameters missing input_data")
	}

	files, err := cl.ArtifactFiles(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	bioms := files["biom"]
	if len(bioms) != 1 {
		return nil, fmt.Errorf("artifact %s has %d biom files, expected 1", artifactID, len(bioms))
	}

	table, err := biom.ParseFile(bioms[0])
	if err != nil {
		return nil, err
	}

	res, err := summary.Generate(table, outDir)
	if err != nil {
		return nil, err
	}

	if err := cl.SetArtifactHTMLSummary(ctx, artifactID, res.IndexPath, res.SupportPath); err != nil {
		return nil, err
	}
	return nil, nil
}

// idParam renders an id parameter the platform may send as a JSON number or
// a string.
func idParam(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
