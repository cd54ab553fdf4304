package models

import (
	"errors"
	"math"
	"time"
)

// HedgedGain is the normalized delta-hedged gain of one option series.
type HedgedGain struct {
	OptionKey

	DeltaGain    float64 `json:"delta_gain"`
	Increment1   float64 `json:"increment_1"`
	Increment2   float64 `json:"increment_2"`
	Increment3   float64 `json:"increment_3"`
	Scalar       float64 `json:"scalar"`
	Observations int     `json:"observations"`

	Degenerate bool   `json:"degenerate"`
	Reason     string `json:"reason,omitempty"`
}

// DecompositionStatus tells whether a volatility decomposition was computed.
type DecompositionStatus string

const (
	StatusDecomposed DecompositionStatus = "decomposed"
	StatusNoData     DecompositionStatus = "no_data"
	StatusFailed     DecompositionStatus = "failed"
)

// Decomposition splits the underlying's variance over the pre-maturity window
// into systematic and idiosyncratic parts. Numeric fields are only meaningful
// when Status is StatusDecomposed.
type Decomposition struct {
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	Observations int       `json:"observations"`

	SecurityVariance        float64 `json:"security_variance"`
	SecurityStdDev          float64 `json:"security_std_dev"`
	IdiosyncraticVolatility float64 `json:"idiosyncratic_volatility"`
	SystematicVolatility    float64 `json:"systematic_volatility"`
	SystematicPartPercent   float64 `json:"systematic_part_percent"`

	Status DecompositionStatus `json:"status"`
	Reason string              `json:"reason,omitempty"`
}

// DataUnavailable reports whether the row has no usable decomposition.
func (d *Decomposition) DataUnavailable() bool {
	return d.Status != StatusDecomposed
}

// Validate checks that a decomposed row is internally consistent.
func (d *Decomposition) Validate() error {
	switch d.Status {
	case StatusDecomposed:
	case StatusNoData, StatusFailed:
		return nil
	default:
		return errors.New("unknown decomposition status")
	}
	if d.WindowEnd.Before(d.WindowStart) {
		return errors.New("window end must be >= window start")
	}
	if d.Observations < 1 {
		return errors.New("decomposed row must have observations")
	}
	if d.SecurityVariance < 0 || d.SecurityStdDev < 0 || d.IdiosyncraticVolatility < 0 {
		return errors.New("variances must not be negative")
	}
	if math.Abs(d.SystematicVolatility+d.IdiosyncraticVolatility-d.SecurityVariance) > 1e-9*math.Max(1, d.SecurityVariance) {
		return errors.New("systematic + idiosyncratic must equal total variance")
	}
	return nil
}

// VolatilityRow is an option observation augmented with its decomposition.
type VolatilityRow struct {
	Observation
	Decomposition
}

// Joined pairs an option's hedged gain with its volatility decomposition.
type Joined struct {
	OptionKey
	DeltaGain float64 `json:"delta_gain"`
	Decomposition
}

// ColumnSummary holds descriptive statistics of one output column.
type ColumnSummary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P10    float64 `json:"p10"`
	P25    float64 `json:"p25"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// Coefficient is one fitted regression parameter.
type Coefficient struct {
	Term     string  `json:"term"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	TStat    float64 `json:"t_stat"`
	PValue   float64 `json:"p_value"`
}

// Regression is a fitted cross-sectional OLS model.
type Regression struct {
	Intercept    bool          `json:"intercept"`
	Coefficients []Coefficient `json:"coefficients"`
	N            int           `json:"n"`
	DFResid      int           `json:"df_resid"`
	RSquared     float64       `json:"r_squared"`
	AdjRSquared  float64       `json:"adj_r_squared"`
	RSS          float64       `json:"rss"`
}

// Coefficient returns the named term, if fitted.
func (r *Regression) Coefficient(term string) (Coefficient, bool) {
	for _, c := range r.Coefficients {
		if c.Term == term {
			return c, true
		}
	}
	return Coefficient{}, false
}

// Run is the complete output of one pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	OptionRows      int `json:"option_rows"`
	CleanedRows     int `json:"cleaned_rows"`
	RemovedOptions  int `json:"removed_options"`
	DegenerateCount int `json:"degenerate_count"`
	UnavailableRows int `json:"unavailable_rows"`

	HedgedGains      []HedgedGain    `json:"hedged_gains"`
	VolatilityRows   []VolatilityRow `json:"volatility_rows"`
	Joined           []Joined        `json:"joined"`
	Summary          []ColumnSummary `json:"summary"`
	WithIntercept    *Regression     `json:"with_intercept,omitempty"`
	WithoutIntercept *Regression     `json:"without_intercept,omitempty"`
}

// Validate checks run-level constraints.
func (r *Run) Validate() error {
	if r.ID == "" {
		return errors.New("run ID must not be empty")
	}
	if r.StartedAt.IsZero() {
		return errors.New("run start must be set")
	}
	if r.FinishedAt.Before(r.StartedAt) {
		return errors.New("finished at must be >= started at")
	}
	return nil
}
