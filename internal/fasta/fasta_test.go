package fasta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFasta(t *testing.T, contents string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "seqs.fna")
	require.NoError(t, os.WriteFile(fp, []byte(contents), 0o644))
	return fp
}

func TestIDs(t *testing.T) {
	t.Parallel()
	fp := writeFasta(t, ">O1 something\nACTG\n>O2\nATGC\n")

	ids, err := IDs(fp)
	require.NoError(t, err)
	assert.Equal(t, []string{"O1", "O2"}, ids)
}

func TestIDs_MultilineAndBlank(t *testing.T) {
	t.Parallel()
	fp := writeFasta(t, ">O1 desc here\nACTG\nACTG\n\n>O2\nAT\nGC\n")

	ids, err := IDs(fp)
	require.NoError(t, err)
	assert.Equal(t, []string{"O1", "O2"}, ids)
}

func TestIDs_SequenceBeforeHeader(t *testing.T) {
	t.Parallel()
	fp := writeFasta(t, "ACTG\n>O1\nACTG\n")

	_, err := IDs(fp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence data before first header")
}

func TestIDs_EmptyHeader(t *testing.T) {
	t.Parallel()
	fp := writeFasta(t, ">\nACTG\n")

	_, err := IDs(fp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty header")
}

func TestIDs_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := IDs(filepath.Join(t.TempDir(), "nope.fna"))
	assert.Error(t, err)
}
