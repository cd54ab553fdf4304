// Package volatility splits an underlying's return variance into systematic
// and idiosyncratic parts by regressing its returns on a market factor over a
// window ending a fixed number of days before the option's maturity.
package volatility

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
)

var (
	ErrUnknownSecurity    = errors.New("security has no return history")
	ErrMissingFactor      = errors.New("factor value missing for return date")
	ErrInsufficientData   = errors.New("too few observations for regression")
	ErrSingularRegression = errors.New("singular regression")
	ErrDuplicateReturn    = errors.New("duplicate return for security and date")
)

// minObservations is the smallest window the two-parameter fit can
// determine; with exactly two points the residuals are zero.
const minObservations = 2

type Config struct {
	WindowStartDays    int
	WindowEndDays      int
	ScaleIdiosyncratic bool
	Workers            int
}

func DefaultConfig() Config {
	return Config{
		WindowStartDays: 60,
		WindowEndDays:   30,
		Workers:         4,
	}
}

type Decomposer struct {
	returns *ReturnSeries
	factor  *FactorSeries
	config  Config
}

func New(returns *ReturnSeries, factor *FactorSeries, config Config) *Decomposer {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Decomposer{returns: returns, factor: factor, config: config}
}

// Window returns the inclusive regression window for an option maturing on maturity.
func (d *Decomposer) Window(maturity time.Time) (time.Time, time.Time) {
	return maturity.AddDate(0, 0, -d.config.WindowStartDays), maturity.AddDate(0, 0, -d.config.WindowEndDays)
}

// Decompose computes the decomposition for one observation. Failures are
// reported in the result's Status and Reason, never as an error.
func (d *Decomposer) Decompose(o models.Observation) models.Decomposition {
	return d.decompose(o.SecurityID, o.Maturity)
}

func (d *Decomposer) decompose(securityID string, maturity time.Time) models.Decomposition {
	start, end := d.Window(maturity)
	res := models.Decomposition{WindowStart: start, WindowEnd: end}

	pts, ok := d.returns.Window(securityID, start, end)
	if !ok {
		return failed(res, fmt.Errorf("%w: %s", ErrUnknownSecurity, securityID))
	}
	res.Observations = len(pts)
	if len(pts) == 0 {
		res.Status = models.StatusNoData
		res.Reason = "no returns in window"
		return res
	}

	y := make([]float64, len(pts))
	x := make([]float64, len(pts))
	for i, p := range pts {
		v, ok := d.factor.At(p.Date)
		if !ok {
			return failed(res, fmt.Errorf("%w: %s on %s", ErrMissingFactor, d.factor.Name(), p.Date.Format("2006-01-02")))
		}
		y[i] = p.Value
		x[i] = v
	}

	days := end.Sub(start).Hours() / 24
	if err := fill(&res, y, x, math.Sqrt(days), d.config.ScaleIdiosyncratic); err != nil {
		return failed(res, err)
	}
	return res
}

// fill runs the OLS of y on x with intercept and writes the variance split.
// Total variance and std-dev use the population estimator scaled by sqrt of
// the window length; the residual variance uses the sample estimator and is
// only scaled when scaleIdio is set.
func fill(res *models.Decomposition, y, x []float64, scale float64, scaleIdio bool) error {
	if len(y) < minObservations {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientData, len(y), minObservations)
	}
	if constant(x) {
		return fmt.Errorf("%w: factor is constant over the window", ErrSingularRegression)
	}
	if constant(y) {
		return fmt.Errorf("%w: returns are constant over the window", ErrSingularRegression)
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) || math.IsInf(beta, 0) {
		return fmt.Errorf("%w: non-finite coefficients", ErrSingularRegression)
	}

	resid := make([]float64, len(y))
	for i := range y {
		resid[i] = y[i] - (alpha + beta*x[i])
	}

	popVar := stat.PopVariance(y, nil)
	res.SecurityVariance = popVar * scale
	res.SecurityStdDev = math.Sqrt(popVar) * scale
	res.IdiosyncraticVolatility = stat.Variance(resid, nil)
	if scaleIdio {
		res.IdiosyncraticVolatility *= scale
	}
	res.SystematicVolatility = res.SecurityVariance - res.IdiosyncraticVolatility
	res.SystematicPartPercent = decimal.NewFromFloat(100 * res.SystematicVolatility / res.SecurityVariance).RoundBank(2).InexactFloat64()
	res.Status = models.StatusDecomposed
	return nil
}

func constant(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

func failed(res models.Decomposition, err error) models.Decomposition {
	res.Status = models.StatusFailed
	res.Reason = err.Error()
	return res
}

type windowKey struct {
	securityID string
	maturity   time.Time
}

// DecomposeAll attaches a decomposition to every observation, in input order.
// Rows sharing security and maturity share a window, so each distinct pair is
// computed once; pairs are spread over the configured number of workers.
func (d *Decomposer) DecomposeAll(ctx context.Context, obs []models.Observation) ([]models.VolatilityRow, error) {
	slot := make(map[windowKey]int)
	var keys []windowKey
	for i := range obs {
		k := windowKey{securityID: obs[i].SecurityID, maturity: obs[i].Maturity}
		if _, ok := slot[k]; !ok {
			slot[k] = len(keys)
			keys = append(keys, k)
		}
	}

	results := make([]models.Decomposition, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Workers)
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = d.decompose(k.securityID, k.maturity)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("volatility decomposition interrupted: %w", err)
	}

	rows := make([]models.VolatilityRow, len(obs))
	unavailable := 0
	for i := range obs {
		rows[i] = models.VolatilityRow{
			Observation:   obs[i],
			Decomposition: results[slot[windowKey{securityID: obs[i].SecurityID, maturity: obs[i].Maturity}]],
		}
		if rows[i].DataUnavailable() {
			unavailable++
		}
	}

	logger.Info("Decomposed volatility for %d rows (%d windows, %d unavailable)", len(rows), len(keys), unavailable)
	return rows, nil
}
