package eda

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

type correlationPair struct {
	ColumnA     string  `json:"column_a"`
	ColumnB     string  `json:"column_b"`
	Coefficient float64 `json:"coefficient"`
}

// correlationMatrix computes the full symmetric Pearson correlation matrix
// over every numeric column, plus the subset of pairs whose |r| clears
// threshold (SPEC_FULL §4.H interactions).
func correlationMatrix(numeric map[string][]float64, threshold float64) (Block, Block) {
	names := make([]string, 0, len(numeric))
	for name := range numeric {
		names = append(names, name)
	}
	sort.Strings(names)

	matrix := make(map[string]map[string]float64, len(names))
	var highPairs []correlationPair

	for i, a := range names {
		matrix[a] = map[string]float64{}
		for j, b := range names {
			var r float64
			switch {
			case i == j:
				r = 1
			case j < i:
				r = matrix[b][a]
			default:
				r = safeCorrelation(numeric[a], numeric[b])
			}
			matrix[a][b] = r
			if i < j && absFloat(r) >= threshold {
				highPairs = append(highPairs, correlationPair{ColumnA: a, ColumnB: b, Coefficient: r})
			}
		}
	}

	heatmap := Block{
		Title:    "Correlation heatmap",
		RenderAs: RenderHeatmap,
		Data:     map[string]any{"columns": names, "matrix": matrix},
	}
	high := Block{
		Title:       "Highly correlated pairs",
		RenderAs:    RenderTable,
		Data:        highPairs,
		Description: fmt.Sprintf("pairs with |r| >= %.2f", threshold),
	}
	return heatmap, high
}

func safeCorrelation(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 2 {
		return 0
	}
	r := stat.Correlation(x[:n], y[:n], nil)
	if r != r { // NaN: zero variance in one series
		return 0
	}
	return r
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// boxPlotBlocks builds box-plot blocks for up to 10 (numeric, categorical)
// combinations where the categorical column has <=20 distinct values and
// each shown category has >=5 samples (SPEC_FULL §4.H interactions).
func boxPlotBlocks(numeric map[string][]float64, rowCategorical map[string][]string) []Block {
	var blocks []Block
	for numName, numValues := range numeric {
		for catName, catValues := range rowCategorical {
			if len(blocks) >= 10 {
				return blocks
			}
			n := len(numValues)
			if len(catValues) < n {
				n = len(catValues)
			}
			groups := map[string][]float64{}
			for i := 0; i < n; i++ {
				groups[catValues[i]] = append(groups[catValues[i]], numValues[i])
			}
			if len(groups) > 20 {
				continue
			}
			data := map[string]any{}
			for cat, vals := range groups {
				if len(vals) < 5 {
					continue
				}
				data[cat] = quartileSummary(vals)
			}
			if len(data) == 0 {
				continue
			}
			blocks = append(blocks, Block{
				Title:    fmt.Sprintf("%s by %s", numName, catName),
				RenderAs: RenderBoxPlot,
				Data:     data,
			})
		}
	}
	return blocks
}

func quartileSummary(values []float64) map[string]float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return map[string]float64{
		"min":    sorted[0],
		"q1":     stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		"median": stat.Quantile(0.50, stat.LinInterp, sorted, nil),
		"q3":     stat.Quantile(0.75, stat.LinInterp, sorted, nil),
		"max":    sorted[len(sorted)-1],
	}
}
