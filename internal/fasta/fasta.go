// Package fasta provides the minimal FASTA handling needed to cross-check a
// representative-sequence file against a feature table: reading the sequence
// identifiers.
package fasta

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// IDs scans a FASTA file and returns the sequence identifiers in file order.
// The identifier is the first whitespace-delimited token of each header line;
// the remainder of the header and the sequence data are ignored.
func IDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fasta file: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	// Sequence lines can be long; headers are what matter here.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !strings.HasPrefix(text, ">") {
			if len(ids) == 0 {
				return nil, fmt.Errorf("fasta file %s: sequence data before first header at line %d", path, line)
			}
			continue
		}
		header := strings.TrimPrefix(text, ">")
		id := strings.Fields(header)
		if len(id) == 0 {
			return nil, fmt.Errorf("fasta file %s: empty header at line %d", path, line)
		}
		ids = append(ids, id[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fasta file %s: %w", path, err)
	}
	return ids, nil
}
