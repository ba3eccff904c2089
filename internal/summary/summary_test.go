package summary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiita-spots/qtp-biom/internal/biom"
)

func TestComputeDepthStats(t *testing.T) {
	t.Parallel()
	stats := computeDepthStats([]float64{10, 20, 30, 40}, 5)

	assert.Equal(t, 4, stats.Samples)
	assert.Equal(t, 5, stats.Observations)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 40.0, stats.Max)
	assert.Equal(t, 25.0, stats.Mean)
	assert.InDelta(t, 20.0, stats.Median, 10.0)
	assert.Greater(t, stats.StdDev, 0.0)
}

func TestComputeDepthStats_Empty(t *testing.T) {
	t.Parallel()
	stats := computeDepthStats(nil, 0)
	assert.Equal(t, 0, stats.Samples)
	assert.Equal(t, 0.0, stats.Mean)
}

func TestComputeDepthStats_SingleSample(t *testing.T) {
	t.Parallel()
	stats := computeDepthStats([]float64{7}, 2)
	assert.Equal(t, 7.0, stats.Min)
	assert.Equal(t, 7.0, stats.Max)
	assert.Equal(t, 0.0, stats.StdDev)
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	table, err := biom.New(
		[]string{"O1", "O2"},
		[]string{"1.SKB8.640193", "1.SKD8.640184", "1.SKM9.640192"},
		[][]float64{{4, 2, 9}, {1, 8, 3}},
	)
	require.NoError(t, err)

	outDir := t.TempDir()
	res, err := Generate(table, outDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "index.html"), res.IndexPath)
	assert.Equal(t, filepath.Join(outDir, "support_files"), res.SupportPath)

	index, err := os.ReadFile(res.IndexPath)
	require.NoError(t, err)
	assert.Contains(t, string(index), "Feature table summary")
	assert.Contains(t, string(index), "<td>3</td>") // samples
	assert.Contains(t, string(index), "<td>2</td>") // features

	chart, err := os.ReadFile(filepath.Join(res.SupportPath, "sample_depths.html"))
	require.NoError(t, err)
	assert.Contains(t, string(chart), "echarts")
	assert.Contains(t, string(chart), "1.SKB8.640193")

	hist, err := os.Stat(filepath.Join(res.SupportPath, "depth_histogram.png"))
	require.NoError(t, err)
	assert.Greater(t, hist.Size(), int64(0))
}
