package eda

import "fmt"

// AlertThresholds tunes when per-column stats escalate into an alert
// (SPEC_FULL §4.H alerts, §8 eda.* keys).
type AlertThresholds struct {
	HighCardinalityPct float64
	HighMissingPct     float64
	ErrorMissingPct    float64
	ConstantPct        float64
	HighZeroPct        float64
	HighSkewness       float64
	HighCorrelation    float64
	DuplicateRowPct    float64
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		HighCardinalityPct: 0.5,
		HighMissingPct:     0.1,
		ErrorMissingPct:    0.5,
		ConstantPct:        0.99,
		HighZeroPct:        0.5,
		HighSkewness:       2.0,
		HighCorrelation:    0.7,
		DuplicateRowPct:    0.05,
	}
}

// columnAlertInput is the minimal per-column summary alerts are derived
// from, independent of category (SPEC_FULL §4.H "derived from the
// per-column stats").
type columnAlertInput struct {
	Name           string
	DistinctPct    float64
	MissingPct     float64
	MostCommonPct  float64
	ZeroPct        float64
	Skewness       float64
	HasSkewness    bool
}

func buildAlerts(columns []columnAlertInput, highCorrelations []correlationPair, duplicateRowPct float64, th AlertThresholds) []Alert {
	var alerts []Alert
	for _, c := range columns {
		if c.DistinctPct >= th.HighCardinalityPct*100 {
			alerts = append(alerts, Alert{Column: c.Name, Severity: "warning", Message: fmt.Sprintf("high cardinality: %.1f%% distinct values", c.DistinctPct)})
		}
		if c.MissingPct >= th.ErrorMissingPct*100 {
			alerts = append(alerts, Alert{Column: c.Name, Severity: "error", Message: fmt.Sprintf("%.1f%% of values are missing", c.MissingPct)})
		} else if c.MissingPct >= th.HighMissingPct*100 {
			alerts = append(alerts, Alert{Column: c.Name, Severity: "warning", Message: fmt.Sprintf("%.1f%% of values are missing", c.MissingPct)})
		}
		if c.MostCommonPct >= th.ConstantPct*100 {
			alerts = append(alerts, Alert{Column: c.Name, Severity: "warning", Message: "column is constant or nearly constant"})
		}
		if c.ZeroPct >= th.HighZeroPct*100 {
			alerts = append(alerts, Alert{Column: c.Name, Severity: "info", Message: fmt.Sprintf("%.1f%% of values are zero", c.ZeroPct)})
		}
		if c.HasSkewness && absFloat(c.Skewness) >= th.HighSkewness {
			alerts = append(alerts, Alert{Column: c.Name, Severity: "info", Message: fmt.Sprintf("high skewness (%.2f)", c.Skewness)})
		}
	}
	for _, p := range highCorrelations {
		if absFloat(p.Coefficient) >= th.HighCorrelation {
			alerts = append(alerts, Alert{
				Severity: "info",
				Message:  fmt.Sprintf("%s and %s are highly correlated (r=%.2f)", p.ColumnA, p.ColumnB, p.Coefficient),
			})
		}
	}
	if duplicateRowPct >= th.DuplicateRowPct*100 {
		alerts = append(alerts, Alert{Severity: "warning", Message: fmt.Sprintf("%.1f%% of rows are duplicates", duplicateRowPct)})
	}
	return alerts
}
