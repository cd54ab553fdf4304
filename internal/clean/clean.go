// Package clean prepares raw option observations for the hedge and volatility
// engines: it keeps the pre-maturity window, removes option series with too
// many missing deltas and fills the remaining gaps per series.
package clean

import (
	"math"
	"sort"

	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
)

type Config struct {
	WindowDays  int
	MaxMissings int
}

func DefaultConfig() Config {
	return Config{
		WindowDays:  30,
		MaxMissings: 6,
	}
}

// Result is the cleaned table plus what was dropped on the way.
type Result struct {
	Observations []models.Observation
	InputRows    int
	OutOfWindow  int
	Filled       int
	Removed      []string // too many missing deltas
	Unresolved   []string // no known delta at all
}

type Cleaner struct {
	config Config
}

func New(config Config) *Cleaner {
	return &Cleaner{config: config}
}

// Clean runs the window filter, the series-removal rule and the fill, in that order.
func (c *Cleaner) Clean(obs []models.Observation) Result {
	res := Result{InputRows: len(obs)}

	windowed := FilterMaturityWindow(obs, c.config.WindowDays)
	res.OutOfWindow = len(obs) - len(windowed)
	logger.Info("Maturity window filter: %d -> %d rows", len(obs), len(windowed))

	kept, removed := DropExcessiveMissings(windowed, c.config.MaxMissings)
	res.Removed = removed
	logger.Info("Number of deleted options: %d", len(removed))

	filled, n, unresolved := FillMissingDeltas(kept)
	res.Filled = n
	res.Unresolved = unresolved
	if len(unresolved) > 0 {
		logger.Warn("Dropped %d options without any known delta", len(unresolved))
	}
	logger.Debug("Filled %d missing deltas", n)

	res.Observations = filled
	return res
}

// FilterMaturityWindow keeps rows dated between minus30 and maturity,
// inclusive. Rows without a minus30 value use maturity minus windowDays.
func FilterMaturityWindow(obs []models.Observation, windowDays int) []models.Observation {
	out := make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		start := o.Minus30
		if start.IsZero() {
			start = o.Maturity.AddDate(0, 0, -windowDays)
		}
		if o.Date.Before(start) || o.Date.After(o.Maturity) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// DropExcessiveMissings removes every option whose count of missing-delta rows
// exceeds maxMissings. An option with exactly maxMissings is kept.
func DropExcessiveMissings(obs []models.Observation, maxMissings int) ([]models.Observation, []string) {
	counts := make(map[string]int)
	for i := range obs {
		if obs[i].DeltaMissing() {
			counts[obs[i].OptionID]++
		}
	}

	drop := make(map[string]bool)
	for id, n := range counts {
		if n > maxMissings {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return obs, nil
	}

	out := make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		if !drop[o.OptionID] {
			out = append(out, o)
		}
	}
	return out, sortedKeys(drop)
}

// FillMissingDeltas replaces missing deltas with the previous known value of the
// same option by date, or the next known value when none precedes it. Options
// with no known delta are dropped and returned as unresolved. Row order is kept.
func FillMissingDeltas(obs []models.Observation) ([]models.Observation, int, []string) {
	out := make([]models.Observation, len(obs))
	copy(out, obs)

	groups := make(map[string][]int)
	for i := range out {
		groups[out[i].OptionID] = append(groups[out[i].OptionID], i)
	}

	filled := 0
	unresolved := make(map[string]bool)
	for id, idx := range groups {
		sort.SliceStable(idx, func(a, b int) bool {
			return out[idx[a]].Date.Before(out[idx[b]].Date)
		})

		last := math.NaN()
		for _, i := range idx {
			if out[i].DeltaMissing() {
				if !math.IsNaN(last) {
					out[i].Delta = last
					filled++
				}
				continue
			}
			last = out[i].Delta
		}
		if math.IsNaN(last) {
			unresolved[id] = true
			continue
		}

		next := math.NaN()
		for k := len(idx) - 1; k >= 0; k-- {
			i := idx[k]
			if out[i].DeltaMissing() {
				out[i].Delta = next
				filled++
				continue
			}
			next = out[i].Delta
		}
	}

	if len(unresolved) == 0 {
		return out, filled, nil
	}
	kept := out[:0]
	for _, o := range out {
		if !unresolved[o.OptionID] {
			kept = append(kept, o)
		}
	}
	return kept, filled, sortedKeys(unresolved)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
