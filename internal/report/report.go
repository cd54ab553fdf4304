// Package report joins hedged gains with volatility decompositions and
// produces the descriptive statistics and cross-sectional regressions.
package report

import (
	"errors"
	"math"
	"sort"

	"github.com/rewired-gh/hedgegain/internal/models"
)

// ErrTooFewRows is returned when a regression has no residual degrees of freedom.
var ErrTooFewRows = errors.New("too few complete rows for regression")

// Column names of the joined table, in report order.
const (
	ColDeltaGain     = "delta_gain"
	ColVariance      = "security_variance"
	ColStdDev        = "security_std_dev"
	ColIdiosyncratic = "idiosyncratic_volatility"
	ColSystematic    = "systematic_volatility"
	ColSystematicPct = "systematic_part_percent"
)

type column struct {
	name  string
	value func(j *models.Joined) (float64, bool)
}

func decomposed(f func(j *models.Joined) float64) func(j *models.Joined) (float64, bool) {
	return func(j *models.Joined) (float64, bool) {
		if j.DataUnavailable() {
			return 0, false
		}
		return f(j), true
	}
}

var columns = []column{
	{ColDeltaGain, func(j *models.Joined) (float64, bool) { return j.DeltaGain, true }},
	{ColVariance, decomposed(func(j *models.Joined) float64 { return j.SecurityVariance })},
	{ColStdDev, decomposed(func(j *models.Joined) float64 { return j.SecurityStdDev })},
	{ColIdiosyncratic, decomposed(func(j *models.Joined) float64 { return j.IdiosyncraticVolatility })},
	{ColSystematic, decomposed(func(j *models.Joined) float64 { return j.SystematicVolatility })},
	{ColSystematicPct, decomposed(func(j *models.Joined) float64 { return j.SystematicPartPercent })},
}

// Join pairs every non-degenerate hedged gain with the decomposition of its
// option's earliest observation. All rows of an option share security and
// maturity, hence the same window and decomposition.
func Join(gains []models.HedgedGain, rows []models.VolatilityRow) []models.Joined {
	earliest := make(map[models.OptionKey]int)
	for i := range rows {
		k := rows[i].Key()
		if j, ok := earliest[k]; !ok || rows[i].Date.Before(rows[j].Date) {
			earliest[k] = i
		}
	}

	joined := make([]models.Joined, 0, len(gains))
	for _, g := range gains {
		if g.Degenerate {
			continue
		}
		i, ok := earliest[g.OptionKey]
		if !ok {
			continue
		}
		joined = append(joined, models.Joined{
			OptionKey:     g.OptionKey,
			DeltaGain:     g.DeltaGain,
			Decomposition: rows[i].Decomposition,
		})
	}
	sort.Slice(joined, func(a, b int) bool { return joined[a].OptionKey.Less(joined[b].OptionKey) })
	return joined
}

// Describe summarizes each output column over the rows where it is available.
func Describe(joined []models.Joined) []models.ColumnSummary {
	out := make([]models.ColumnSummary, 0, len(columns))
	for _, col := range columns {
		var w welford
		var values []float64
		for i := range joined {
			v, ok := col.value(&joined[i])
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			w.add(v)
			values = append(values, v)
		}
		sort.Float64s(values)

		s := models.ColumnSummary{Column: col.name, Count: w.count}
		if w.count == 0 {
			nan := math.NaN()
			s.Mean, s.Std, s.Min, s.Max = nan, nan, nan, nan
			s.P10, s.P25, s.P50, s.P75, s.P90 = nan, nan, nan, nan, nan
		} else {
			s.Mean = w.mean
			s.Std = w.std()
			s.Min = w.min
			s.Max = w.max
			s.P10 = quantile(values, 0.10)
			s.P25 = quantile(values, 0.25)
			s.P50 = quantile(values, 0.50)
			s.P75 = quantile(values, 0.75)
			s.P90 = quantile(values, 0.90)
		}
		out = append(out, s)
	}
	return out
}

// quantile interpolates linearly between closest ranks, (n-1)p indexing.
// sorted must be ascending and non-empty.
func quantile(sorted []float64, p float64) float64 {
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
