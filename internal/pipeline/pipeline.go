// Package pipeline wires the loader, cleaner, hedge engine, volatility
// decomposer and report into one batch run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/hedgegain/internal/clean"
	"github.com/rewired-gh/hedgegain/internal/hedge"
	"github.com/rewired-gh/hedgegain/internal/loader"
	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
	"github.com/rewired-gh/hedgegain/internal/report"
	"github.com/rewired-gh/hedgegain/internal/volatility"
)

type Config struct {
	StrikeDivisor float64
	ATMOnly       bool
	Factor        string
	Cleaning      clean.Config
	Hedge         hedge.Config
	Volatility    volatility.Config
}

func DefaultConfig() Config {
	return Config{
		StrikeDivisor: 1000,
		Factor:        "mkt",
		Cleaning:      clean.DefaultConfig(),
		Hedge:         hedge.DefaultConfig(),
		Volatility:    volatility.DefaultConfig(),
	}
}

type Pipeline struct {
	source loader.Source
	config Config
	now    func() time.Time
}

func New(source loader.Source, config Config) *Pipeline {
	return &Pipeline{source: source, config: config, now: time.Now}
}

// Run executes one full batch. Input-shape problems abort the run; row-level
// problems are counted and flagged in the returned run.
func (p *Pipeline) Run(ctx context.Context) (*models.Run, error) {
	run := &models.Run{ID: uuid.New().String(), StartedAt: p.now()}
	logger.Info("Starting run %s", run.ID)

	options, err := p.loadOptions(ctx)
	if err != nil {
		return nil, err
	}
	run.OptionRows = len(options)

	stocks, err := p.load(ctx, loader.StockData)
	if err != nil {
		return nil, err
	}
	records, err := loader.DecodeStocks(stocks)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", loader.StockData, err)
	}

	cleaned := clean.New(p.config.Cleaning).Clean(options)
	run.CleanedRows = len(cleaned.Observations)
	run.RemovedOptions = len(cleaned.Removed) + len(cleaned.Unresolved)

	run.HedgedGains = hedge.New(p.config.Hedge).ComputeAll(cleaned.Observations)
	for _, g := range run.HedgedGains {
		if g.Degenerate {
			run.DegenerateCount++
		}
	}

	returns, err := volatility.NewReturnSeries(records)
	if err != nil {
		return nil, err
	}
	factor, err := volatility.NewFactorSeries(records, p.config.Factor)
	if err != nil {
		return nil, err
	}
	logger.Info("Built return series for %d securities and %s factor with %d dates",
		returns.Securities(), factor.Name(), factor.Len())

	rows, err := volatility.New(returns, factor, p.config.Volatility).DecomposeAll(ctx, cleaned.Observations)
	if err != nil {
		return nil, err
	}
	run.VolatilityRows = rows
	for i := range rows {
		if rows[i].DataUnavailable() {
			run.UnavailableRows++
		}
	}

	run.Joined = report.Join(run.HedgedGains, rows)
	run.Summary = report.Describe(run.Joined)
	logger.Info("Descriptive statistics:\n%s", report.FormatSummary(run.Summary))

	run.WithIntercept = p.regress(run.Joined, true)
	run.WithoutIntercept = p.regress(run.Joined, false)

	run.FinishedAt = p.now()
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}
	logger.Info("Run %s finished in %v: %d options, %d joined rows",
		run.ID, run.FinishedAt.Sub(run.StartedAt), len(run.HedgedGains), len(run.Joined))
	return run, nil
}

func (p *Pipeline) load(ctx context.Context, name string) (*loader.Table, error) {
	t, err := p.source.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	logger.Info("Loaded %s: %d rows", name, t.Len())
	return t, nil
}

// loadOptions decodes the option table and, when configured, keeps only
// options listed in the ATM table.
func (p *Pipeline) loadOptions(ctx context.Context) ([]models.Observation, error) {
	t, err := p.load(ctx, loader.OptionData)
	if err != nil {
		return nil, err
	}
	options, err := loader.DecodeOptions(t, p.config.StrikeDivisor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", loader.OptionData, err)
	}
	if !p.config.ATMOnly {
		return options, nil
	}

	atm, err := p.load(ctx, loader.ATMOptions)
	if err != nil {
		return nil, err
	}
	ids, err := loader.DecodeOptionIDs(atm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", loader.ATMOptions, err)
	}
	kept := options[:0]
	for _, o := range options {
		if ids[o.OptionID] {
			kept = append(kept, o)
		}
	}
	logger.Info("ATM filter: %d -> %d rows", len(options), len(kept))
	return kept, nil
}

// regress fits one model; a failed fit is logged and left nil.
func (p *Pipeline) regress(joined []models.Joined, intercept bool) *models.Regression {
	reg, err := report.Regress(joined, intercept)
	if err != nil {
		logger.Warn("Regression (intercept=%v) skipped: %v", intercept, err)
		return nil
	}
	logger.Info("%s", report.FormatRegression(reg))
	return reg
}
