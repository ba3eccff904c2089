// Package biom reads and writes feature tables in the BIOM 1.0.0 JSON
// serialization (the "Biological Observation Matrix" interchange format) and
// provides the table operations the plugin needs: sample and observation id
// listings, per-sample totals, sample filtering and relabeling.
package biom

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Format is the format identifier required in every BIOM 1.0.0 document.
const Format = "Biological Observation Matrix 1.0.0"

// FormatURL accompanies Format in serialized tables.
const FormatURL = "http://biom-format.org"

// AxisEntry is one row or column descriptor: an id plus free-form metadata.
type AxisEntry struct {
	ID       string                 `json:"id"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Table is an observations x samples feature table. The matrix is held dense
// in memory; both sparse and dense documents parse into it and tables are
// always written back out sparse.
type Table struct {
	ID          string
	Type        string
	GeneratedBy string
	ElementType string

	observations []AxisEntry
	samples      []AxisEntry
	data         [][]float64 // observations x samples
}

// document is the wire layout of a BIOM 1.0.0 file.
type document struct {
	ID                interface{}     `json:"id"`
	Format            string          `json:"format"`
	FormatURL         string          `json:"format_url"`
	Type              string          `json:"type"`
	GeneratedBy       string          `json:"generated_by"`
	Date              string          `json:"date"`
	Rows              []AxisEntry     `json:"rows"`
	Columns           []AxisEntry     `json:"columns"`
	MatrixType        string          `json:"matrix_type"`
	MatrixElementType string          `json:"matrix_element_type"`
	Shape             []int           `json:"shape"`
	Data              [][]json.Number `json:"data"`
}

// New builds a table from explicit ids and a dense observations x samples
// matrix. It is mostly used by tests and by the summary generator.
func New(observationIDs, sampleIDs []string, data [][]float64) (*Table, error) {
	if len(data) != len(observationIDs) {
		return nil, fmt.Errorf("matrix has %d rows, expected %d", len(data), len(observationIDs))
	}
	t := &Table{
		Type:        "OTU table",
		GeneratedBy: "qtp-biom",
		ElementType: "float",
		data:        make([][]float64, len(observationIDs)),
	}
	for _, id := range observationIDs {
		t.observations = append(t.observations, AxisEntry{ID: id})
	}
	for _, id := range sampleIDs {
		t.samples = append(t.samples, AxisEntry{ID: id})
	}
	for i, row := range data {
		if len(row) != len(sampleIDs) {
			return nil, fmt.Errorf("matrix row %d has %d values, expected %d", i, len(row), len(sampleIDs))
		}
		t.data[i] = append([]float64(nil), row...)
	}
	if err := t.checkIDs(); err != nil {
		return nil, err
	}
	return t, nil
}

// Parse decodes a BIOM 1.0.0 document.
func Parse(r io.Reader) (*Table, error) {
	var doc document
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode biom document: %w", err)
	}

	if doc.Format != Format {
		return nil, fmt.Errorf("unsupported biom format %q", doc.Format)
	}
	if len(doc.Shape) != 2 {
		return nil, fmt.Errorf("invalid shape %v, expected two dimensions", doc.Shape)
	}
	nObs, nSamples := doc.Shape[0], doc.Shape[1]
	if len(doc.Rows) != nObs {
		return nil, fmt.Errorf("document has %d rows but shape says %d", len(doc.Rows), nObs)
	}
	if len(doc.Columns) != nSamples {
		return nil, fmt.Errorf("document has %d columns but shape says %d", len(doc.Columns), nSamples)
	}

	t := &Table{
		Type:         doc.Type,
		GeneratedBy:  doc.GeneratedBy,
		ElementType:  doc.MatrixElementType,
		observations: doc.Rows,
		samples:      doc.Columns,
		data:         make([][]float64, nObs),
	}
	if s, ok := doc.ID.(string); ok {
		t.ID = s
	}
	for i := range t.data {
		t.data[i] = make([]float64, nSamples)
	}

	switch doc.MatrixType {
	case "sparse":
		for i, triple := range doc.Data {
			if len(triple) != 3 {
				return nil, fmt.Errorf("sparse entry %d has %d fields, expected 3", i, len(triple))
			}
			row, err := triple[0].Int64()
			if err != nil {
				return nil, fmt.Errorf("sparse entry %d: bad row index: %v", i, err)
			}
			col, err := triple[1].Int64()
			if err != nil {
				return nil, fmt.Errorf("sparse entry %d: bad column index: %v", i, err)
			}
			val, err := triple[2].Float64()
			if err != nil {
				return nil, fmt.Errorf("sparse entry %d: bad value: %v", i, err)
			}
			if row < 0 || row >= int64(nObs) || col < 0 || col >= int64(nSamples) {
				return nil, fmt.Errorf("sparse entry %d out of range: (%d, %d) for shape [%d %d]", i, row, col, nObs, nSamples)
			}
			t.data[row][col] = val
		}
	case "dense":
		if len(doc.Data) != nObs {
			return nil, fmt.Errorf("dense matrix has %d rows but shape says %d", len(doc.Data), nObs)
		}
		for i, row := range doc.Data {
			if len(row) != nSamples {
				return nil, fmt.Errorf("dense row %d has %d values but shape says %d", i, len(row), nSamples)
			}
			for j, n := range row {
				val, err := n.Float64()
				if err != nil {
					return nil, fmt.Errorf("dense entry (%d, %d): bad value: %v", i, j, err)
				}
				t.data[i][j] = val
			}
		}
	default:
		return nil, fmt.Errorf("unsupported matrix_type %q", doc.MatrixType)
	}

	if err := t.checkIDs(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseFile decodes the BIOM document at path.
func ParseFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open biom file: %w", err)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse biom file %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) checkIDs() error {
	seen := make(map[string]bool, len(t.samples))
	for _, s := range t.samples {
		if seen[s.ID] {
			return fmt.Errorf("duplicate sample id %q", s.ID)
		}
		seen[s.ID] = true
	}
	seen = make(map[string]bool, len(t.observations))
	for _, o := range t.observations {
		if seen[o.ID] {
			return fmt.Errorf("duplicate observation id %q", o.ID)
		}
		seen[o.ID] = true
	}
	return nil
}

// SampleIDs returns the sample (column) ids in table order.
func (t *Table) SampleIDs() []string {
	ids := make([]string, len(t.samples))
	for i, s := range t.samples {
		ids[i] = s.ID
	}
	return ids
}

// ObservationIDs returns the observation (row) ids in table order.
func (t *Table) ObservationIDs() []string {
	ids := make([]string, len(t.observations))
	for i, o := range t.observations {
		ids[i] = o.ID
	}
	return ids
}

// NumSamples returns the sample count.
func (t *Table) NumSamples() int { return len(t.samples) }

// NumObservations returns the observation count.
func (t *Table) NumObservations() int { return len(t.observations) }

// SampleSums returns the per-sample value totals, aligned with SampleIDs.
func (t *Table) SampleSums() []float64 {
	sums := make([]float64, len(t.samples))
	for _, row := range t.data {
		for j, v := range row {
			sums[j] += v
		}
	}
	return sums
}

// FilterSamples drops every sample whose id is not in keep. Observation rows
// are preserved even when they become all-zero, so observation ids stay
// stable for downstream cross-checks.
func (t *Table) FilterSamples(keep map[string]bool) {
	var samples []AxisEntry
	var cols []int
	for j, s := range t.samples {
		if keep[s.ID] {
			samples = append(samples, s)
			cols = append(cols, j)
		}
	}
	data := make([][]float64, len(t.data))
	for i, row := range t.data {
		data[i] = make([]float64, len(cols))
		for k, j := range cols {
			data[i][k] = row[j]
		}
	}
	t.samples = samples
	t.data = data
}

// RelabelSamples renames samples according to mapping (old id to new id).
// Every current sample id must appear in the mapping and the renamed ids must
// stay unique.
func (t *Table) RelabelSamples(mapping map[string]string) error {
	renamed := make([]AxisEntry, len(t.samples))
	for i, s := range t.samples {
		newID, ok := mapping[s.ID]
		if !ok {
			return fmt.Errorf("no mapping for sample id %q", s.ID)
		}
		renamed[i] = AxisEntry{ID: newID, Metadata: s.Metadata}
	}
	old := t.samples
	t.samples = renamed
	if err := t.checkIDs(); err != nil {
		t.samples = old
		return err
	}
	return nil
}

// Write serialises the table as a sparse BIOM 1.0.0 document.
func (t *Table) Write(w io.Writer) error {
	doc := document{
		Format:            Format,
		FormatURL:         FormatURL,
		Type:              t.Type,
		GeneratedBy:       t.GeneratedBy,
		Date:              time.Now().UTC().Format("2006-01-02T15:04:05"),
		Rows:              t.observations,
		Columns:           t.samples,
		MatrixType:        "sparse",
		MatrixElementType: t.ElementType,
		Shape:             []int{len(t.observations), len(t.samples)},
		Data:              [][]json.Number{},
	}
	if t.ID != "" {
		doc.ID = t.ID
	}
	if doc.Type == "" {
		doc.Type = "OTU table"
	}
	if doc.MatrixElementType == "" {
		doc.MatrixElementType = "float"
	}
	for i, row := range t.data {
		for j, v := range row {
			if v == 0 {
				continue
			}
			doc.Data = append(doc.Data, []json.Number{
				json.Number(fmt.Sprintf("%d", i)),
				json.Number(fmt.Sprintf("%d", j)),
				json.Number(fmt.Sprintf("%g", v)),
			})
		}
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode biom document: %w", err)
	}
	return nil
}

// WriteFile serialises the table to path.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create biom file: %w", err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
