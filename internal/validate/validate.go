// Package validate implements the Validate command for BIOM artifacts: it
// checks the feature table against the job's prep metadata, reconciles sample
// ids, cross-checks an optional representative sequence set, and assembles
// the artifact file list the platform expects.
package validate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/qiita-spots/qtp-biom/internal/biom"
	"github.com/qiita-spots/qtp-biom/internal/client"
	"github.com/qiita-spots/qtp-biom/internal/fasta"
	"github.com/qiita-spots/qtp-biom/internal/monitoring"
	"github.com/qiita-spots/qtp-biom/internal/summary"
)

// ArtifactType is the only artifact type this plugin validates.
const ArtifactType = "BIOM"

// RunPrefixColumn is the prep metadata column that maps raw sample ids to
// registered ones.
const RunPrefixColumn = "run_prefix"

// Error strings are part of the platform contract: they surface verbatim in
// the user interface and the platform's plugin tests assert on them, so they
// keep the original wording (including the "tabe" misspelling).
const (
	errNoMatch = "The sample ids in the BIOM table do not match the ones in the " +
		"prep information. Please, provide the column \"" + RunPrefixColumn + "\" in " +
		"the prep information to map the existing sample ids to the prep " +
		"information sample ids."
	errMissingSamplesFmt = "Your prep information is missing samples that are present in your BIOM table: %s"
	errExtraObsFmt       = "The representative set sequence file includes observations not found in the BIOM table: %s"
	errMissingObsFmt     = "The representative set sequence file is missing observation ids found in the BIOM tabe: %s"
)

// Validate runs the Validate command for one job. The returned error message
// is what the platform shows the user when validation fails.
func Validate(ctx context.Context, cl *client.Client, jobID string, params client.Parameters, outDir string) ([]client.ArtifactInfo, error) {
	if at := params.String("artifact_type"); at != ArtifactType {
		return nil, fmt.Errorf("Unknown artifact type %s. Supported types: %s", at, ArtifactType)
	}

	files, err := params.Files()
	if err != nil {
		return nil, err
	}
	bioms := files["biom"]
	if len(bioms) != 1 {
		return nil, fmt.Errorf("expected exactly one biom file, got %d", len(bioms))
	}
	biomPath := bioms[0]

	if err := cl.UpdateJobStep(ctx, jobID, "Collecting information from the platform"); err != nil {
		monitoring.Logf("failed to update job step for %s: %v", jobID, err)
	}

	table, err := biom.ParseFile(biomPath)
	if err != nil {
		return nil, err
	}
	if table.NumSamples() == 0 {
		return nil, errors.New("The BIOM table does not contain any sample")
	}

	// Analysis artifacts carry already-registered sample ids; only artifacts
	// bound to a prep template need reconciliation.
	if params.Has("template") {
		templateID := paramID(params["template"])
		metadata, err := cl.PrepTemplateSampleInfo(ctx, templateID)
		if err != nil {
			return nil, err
		}
		if err := cl.UpdateJobStep(ctx, jobID, "Validating sample ids"); err != nil {
			monitoring.Logf("failed to update job step for %s: %v", jobID, err)
		}
		mapping, err := reconcileSampleIDs(table.SampleIDs(), metadata)
		if err != nil {
			return nil, err
		}
		if mapping != nil {
			if err := table.RelabelSamples(mapping); err != nil {
				return nil, err
			}
			biomPath = filepath.Join(outDir, filepath.Base(biomPath))
			if err := table.WriteFile(biomPath); err != nil {
				return nil, err
			}
		}
	}

	artifactFiles := []client.FilePair{{Path: biomPath, Type: "biom"}}

	if fastas := files["preprocessed_fasta"]; len(fastas) > 0 {
		fastaPath := fastas[0]
		if err := checkRepresentativeSet(fastaPath, table.ObservationIDs()); err != nil {
			return nil, err
		}
		artifactFiles = append(artifactFiles, client.FilePair{Path: fastaPath, Type: "preprocessed_fasta"})
	}

	// A summary shipped with the upload is kept as-is; otherwise one is
	// generated from the table.
	if summaries := files["html_summary"]; len(summaries) > 0 {
		artifactFiles = append(artifactFiles, client.FilePair{Path: summaries[0], Type: "html_summary"})
		if dirs := files["html_summary_dir"]; len(dirs) > 0 {
			artifactFiles = append(artifactFiles, client.FilePair{Path: dirs[0], Type: "html_summary_dir"})
		}
	} else {
		if err := cl.UpdateJobStep(ctx, jobID, "Generating HTML summary"); err != nil {
			monitoring.Logf("failed to update job step for %s: %v", jobID, err)
		}
		res, err := summary.Generate(table, outDir)
		if err != nil {
			return nil, err
		}
		artifactFiles = append(artifactFiles,
			client.FilePair{Path: res.IndexPath, Type: "html_summary"},
			client.FilePair{Path: res.SupportPath, Type: "html_summary_dir"},
		)
	}

	return []client.ArtifactInfo{{ArtifactType: ArtifactType, Files: artifactFiles}}, nil
}

// reconcileSampleIDs decides how the table's sample ids line up with the prep
// metadata. It returns a nil mapping when the table can be used as is, a
// rename mapping when ids need rewriting, or the user-facing error when the
// table cannot be matched.
func reconcileSampleIDs(sampleIDs []string, metadata map[string]map[string]string) (map[string]string, error) {
	// Already registered ids: nothing to do.
	if subsetOf(sampleIDs, metadata) {
		return nil, nil
	}

	// Table ids missing only the study prefix: strip "<study>." from each
	// registered id and match on the remainder.
	stripped := make(map[string]string, len(metadata))
	for id := range metadata {
		if i := strings.Index(id, "."); i >= 0 {
			stripped[id[i+1:]] = id
		}
	}
	if mapping := matchAll(sampleIDs, stripped); mapping != nil {
		return mapping, nil
	}

	// Fall back to the run_prefix column when the prep info provides it.
	if !hasColumn(metadata, RunPrefixColumn) {
		return nil, errors.New(errNoMatch)
	}
	byPrefix := make(map[string]string, len(metadata))
	for id, cols := range metadata {
		if rp := cols[RunPrefixColumn]; rp != "" {
			byPrefix[rp] = id
		}
	}
	mapping := make(map[string]string, len(sampleIDs))
	var missing []string
	for _, sid := range sampleIDs {
		target, ok := byPrefix[sid]
		if !ok {
			missing = append(missing, sid)
			continue
		}
		mapping[sid] = target
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf(errMissingSamplesFmt, strings.Join(missing, ", "))
	}
	return mapping, nil
}

// checkRepresentativeSet verifies the fasta ids are exactly the table's
// observation ids.
func checkRepresentativeSet(fastaPath string, observationIDs []string) error {
	ids, err := fasta.IDs(fastaPath)
	if err != nil {
		return err
	}

	inTable := make(map[string]bool, len(observationIDs))
	for _, id := range observationIDs {
		inTable[id] = true
	}
	inFasta := make(map[string]bool, len(ids))
	var extra []string
	for _, id := range ids {
		inFasta[id] = true
		if !inTable[id] {
			extra = append(extra, id)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf(errExtraObsFmt, strings.Join(extra, ", "))
	}

	var missing []string
	for _, id := range observationIDs {
		if !inFasta[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf(errMissingObsFmt, strings.Join(missing, ", "))
	}
	return nil
}

func subsetOf(ids []string, metadata map[string]map[string]string) bool {
	for _, id := range ids {
		if _, ok := metadata[id]; !ok {
			return false
		}
	}
	return true
}

// matchAll maps every id through index, returning nil unless all ids match.
func matchAll(ids []string, index map[string]string) map[string]string {
	mapping := make(map[string]string, len(ids))
	for _, id := range ids {
		target, ok := index[id]
		if !ok {
			return nil
		}
		mapping[id] = target
	}
	return mapping
}

func hasColumn(metadata map[string]map[string]string, column string) bool {
	for _, cols := range metadata {
		if _, ok := cols[column]; ok {
			return true
		}
	}
	return false
}

// paramID renders a template or analysis id parameter, which the platform
// sends as either a JSON number or a string.
func paramID(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
