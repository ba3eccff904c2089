package summary

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DepthStats summarises the per-sample sequence depths of a feature table.
type DepthStats struct {
	Samples      int
	Observations int
	Min          float64
	Max          float64
	Mean         float64
	Median       float64
	StdDev       float64
}

// computeDepthStats derives DepthStats from the per-sample totals.
func computeDepthStats(sums []float64, observations int) DepthStats {
	ds := DepthStats{Samples: len(sums), Observations: observations}
	if len(sums) == 0 {
		return ds
	}

	sorted := append([]float64(nil), sums...)
	sort.Float64s(sorted)

	ds.Min = sorted[0]
	ds.Max = sorted[len(sorted)-1]
	ds.Mean = stat.Mean(sorted, nil)
	ds.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if len(sorted) > 1 {
		ds.StdDev = stat.StdDev(sorted, nil)
	}
	return ds
}
