// Package hedge computes discrete delta-hedged gains per option series.
//
// For a series sorted by date with mid prices C, deltas D, underlying closes S,
// day gaps n and annual rates r (in percent):
//
//	inc1   = C[last] - C[0]
//	inc2   = sum_{t<last} D[t] * (S[t+1] - S[t])
//	inc3   = sum_t n[t]/365 * r[t]/100 * (C[t] - D[t]*S[t])
//	scalar = D[0]*S[0] - C[0]
//	gain   = (inc1 - inc2 - inc3) / scalar
package hedge

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
)

// ErrDegenerateSeries is returned for series whose gain is undefined: no
// observations, a zero initial hedge capital or non-finite inputs.
var ErrDegenerateSeries = errors.New("degenerate option series")

type Config struct {
	DaysPerYear float64
}

func DefaultConfig() Config {
	return Config{DaysPerYear: 365}
}

type Engine struct {
	config Config
}

func New(config Config) *Engine {
	if config.DaysPerYear <= 0 {
		config.DaysPerYear = DefaultConfig().DaysPerYear
	}
	return &Engine{config: config}
}

// Compute returns the hedged gain of one option series. The input may be in
// any order and is not modified.
func (e *Engine) Compute(series []models.Observation) (models.HedgedGain, error) {
	if len(series) == 0 {
		return models.HedgedGain{}, fmt.Errorf("%w: empty series", ErrDegenerateSeries)
	}

	sorted := make([]models.Observation, len(series))
	copy(sorted, series)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	first, last := sorted[0], sorted[len(sorted)-1]
	g := models.HedgedGain{
		OptionKey:    first.Key(),
		Observations: len(sorted),
	}

	g.Increment1 = last.MidPrice - first.MidPrice
	for t := 0; t < len(sorted)-1; t++ {
		g.Increment2 += sorted[t].Delta * (sorted[t+1].ClosePrice - sorted[t].ClosePrice)
	}
	for _, o := range sorted {
		accrual := (o.DateDiff / e.config.DaysPerYear) * (o.InterestRate / 100)
		g.Increment3 += accrual * (o.MidPrice - o.Delta*o.ClosePrice)
	}
	g.Scalar = first.Delta*first.ClosePrice - first.MidPrice

	if !finite(g.Increment1, g.Increment2, g.Increment3, g.Scalar) {
		return g, fmt.Errorf("%w: non-finite input", ErrDegenerateSeries)
	}
	if g.Scalar == 0 {
		return g, fmt.Errorf("%w: zero initial hedge capital", ErrDegenerateSeries)
	}

	g.DeltaGain = (g.Increment1 - g.Increment2 - g.Increment3) / g.Scalar
	return g, nil
}

// ComputeAll groups observations by option key and returns exactly one row per
// key, ordered by key. Degenerate series are kept as flagged rows with a NaN
// gain so that downstream joins can tell them apart.
func (e *Engine) ComputeAll(obs []models.Observation) []models.HedgedGain {
	groups := make(map[models.OptionKey][]models.Observation)
	for _, o := range obs {
		k := o.Key()
		groups[k] = append(groups[k], o)
	}

	keys := make([]models.OptionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	gains := make([]models.HedgedGain, 0, len(keys))
	degenerate := 0
	for _, k := range keys {
		g, err := e.Compute(groups[k])
		if err != nil {
			degenerate++
			logger.Warn("Option %s: %v", k.OptionID, err)
			g.OptionKey = k
			g.DeltaGain = math.NaN()
			g.Degenerate = true
			g.Reason = err.Error()
		}
		gains = append(gains, g)
	}

	logger.Info("Computed delta-hedged gains for %d options (%d degenerate)", len(gains), degenerate)
	return gains
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
