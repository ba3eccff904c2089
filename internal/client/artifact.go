package client

import (
	"encoding/json"
	"fmt"
)

// FilePair is one artifact member: a filesystem path plus the platform's file
// type label ("biom", "preprocessed_fasta", "html_summary", ...). On the wire
// it is a two-element array, matching how the platform represents filepath
// tuples.
type FilePair struct {
	Path string
	Type string
}

// MarshalJSON encodes the pair as ["path", "type"].
func (fp FilePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{fp.Path, fp.Type})
}

// UnmarshalJSON decodes ["path", "type"].
func (fp *FilePair) UnmarshalJSON(data []byte) error {
	var tuple []string
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("filepath tuple has %d elements, expected 2", len(tuple))
	}
	fp.Path, fp.Type = tuple[0], tuple[1]
	return nil
}

// ArtifactInfo describes one output artifact of a completed job.
type ArtifactInfo struct {
	// OutputName is the command output this artifact fills. Validate jobs
	// leave it empty: the platform already knows which artifact is being
	// validated.
	OutputName string `json:"output_name,omitempty"`

	ArtifactType string     `json:"artifact_type"`
	Files        []FilePair `json:"filepaths"`
}
