// Package summary renders the HTML summary artifact of a BIOM feature table:
// an index page with depth statistics, an interactive bar chart of per-sample
// sequence depths, and a static histogram under support_files.
package summary

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/qiita-spots/qtp-biom/internal/biom"
)

// File names the platform expects inside a summary artifact.
const (
	IndexFile      = "index.html"
	SupportDir     = "support_files"
	depthChartFile = "sample_depths.html"
	histogramFile  = "depth_histogram.png"
)

// Result points at the generated summary files.
type Result struct {
	IndexPath   string
	SupportPath string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Feature table summary</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #999; padding: 0.3em 0.8em; text-align: right; }
th { background: #eee; }
iframe { border: none; width: 100%; height: 520px; }
</style>
</head>
<body>
<h1>Feature table summary</h1>
<table>
<tr><th>Number of samples</th><td>{{.Stats.Samples}}</td></tr>
<tr><th>Number of features</th><td>{{.Stats.Observations}}</td></tr>
<tr><th>Minimum count</th><td>{{printf "%.2f" .Stats.Min}}</td></tr>
<tr><th>Maximum count</th><td>{{printf "%.2f" .Stats.Max}}</td></tr>
<tr><th>Median count</th><td>{{printf "%.2f" .Stats.Median}}</td></tr>
<tr><th>Mean count</th><td>{{printf "%.2f" .Stats.Mean}}</td></tr>
<tr><th>Standard deviation</th><td>{{printf "%.2f" .Stats.StdDev}}</td></tr>
</table>
<h2>Per-sample sequence depth</h2>
<iframe src="{{.ChartRelPath}}"></iframe>
<h2>Depth distribution</h2>
<img src="{{.HistRelPath}}" alt="depth histogram">
</body>
</html>
`))

// Generate writes the summary artifact for table into outDir: index.html plus
// a support_files directory holding the interactive chart and the histogram.
func Generate(table *biom.Table, outDir string) (*Result, error) {
	supportPath := filepath.Join(outDir, SupportDir)
	if err := os.MkdirAll(supportPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create support files dir: %w", err)
	}

	sums := table.SampleSums()
	stats := computeDepthStats(sums, table.NumObservations())

	chartPath := filepath.Join(supportPath, depthChartFile)
	if err := renderDepthChart(table.SampleIDs(), sums, chartPath); err != nil {
		return nil, err
	}

	histPath := filepath.Join(supportPath, histogramFile)
	if err := renderHistogram(sums, histPath); err != nil {
		return nil, err
	}

	indexPath := filepath.Join(outDir, IndexFile)
	f, err := os.Create(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	err = indexTemplate.Execute(f, struct {
		Stats        DepthStats
		ChartRelPath string
		HistRelPath  string
	}{
		Stats:        stats,
		ChartRelPath: filepath.Join(SupportDir, depthChartFile),
		HistRelPath:  filepath.Join(SupportDir, histogramFile),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render index file: %w", err)
	}

	return &Result{IndexPath: indexPath, SupportPath: supportPath}, nil
}

// renderDepthChart writes an echarts bar chart of per-sample depths.
func renderDepthChart(sampleIDs []string, sums []float64, path string) error {
	data := make([]opts.BarData, len(sums))
	for i, v := range sums {
		data[i] = opts.BarData{Value: v}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sample depths", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Per-sample sequence depth", Subtitle: fmt.Sprintf("samples=%d", len(sums))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Sample"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Count"}),
	)
	bar.SetXAxis(sampleIDs).AddSeries("depth", data)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()
	if err := bar.Render(f); err != nil {
		return fmt.Errorf("failed to render depth chart: %w", err)
	}
	return nil
}

// renderHistogram writes a PNG histogram of the depth distribution.
func renderHistogram(sums []float64, path string) error {
	p := plot.New()
	p.Title.Text = "Depth distribution"
	p.X.Label.Text = "Per-sample count"
	p.Y.Label.Text = "Samples"

	values := make(plotter.Values, len(sums))
	copy(values, sums)

	bins := 16
	if len(sums) < bins {
		bins = len(sums)
	}
	if bins < 1 {
		bins = 1
	}
	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(h)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save histogram: %w", err)
	}
	return nil
}
