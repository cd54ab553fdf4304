package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/hedgegain/internal/loader"
	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
	"github.com/rewired-gh/hedgegain/internal/report"
)

var maturity = time.Date(2020, 6, 19, 0, 0, 0, 0, time.UTC)

func day(before int) string {
	return maturity.AddDate(0, 0, -before).Format("2006-01-02")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type optionRow struct {
	id, security, strike string
	before               int
	mid, close           float64
	delta                string
}

func optionTable(rows ...optionRow) *loader.Table {
	t := &loader.Table{Header: []string{
		"OptionID", "SecurityID", "Strike", "maturity", "Datum", "minus30",
		"BestBid", "BestOffer", "Delta", "ClosePrice", "date_diff", "interest_rate",
	}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.id, r.security, r.strike, day(0), day(r.before), day(30),
			num(r.mid), num(r.mid), r.delta, num(r.close), "1", "0",
		})
	}
	return t
}

func stockTable(rows ...[]string) *loader.Table {
	return &loader.Table{
		Header: []string{"SecurityID", "Datum", "TotalReturn", "mkt", "SMB", "HML", "WML"},
		Rows:   rows,
	}
}

func stock(security string, before int, ret, mkt float64) []string {
	return []string{security, day(before), num(ret), num(mkt), "0", "0", "0"}
}

// threeDay is the 0.025 scenario: mids 10, 11, 12 and closes 100, 101, 102
// at delta 0.5.
func threeDay(id, security string, lastMid float64) []optionRow {
	return []optionRow{
		{id, security, "100000", 10, 10, 100, "0.5"},
		{id, security, "100000", 9, 11, 101, "0.5"},
		{id, security, "100000", 8, lastMid, 102, "0.5"},
	}
}

func scenario() loader.MemorySource {
	var opts []optionRow
	opts = append(opts, threeDay("A", "5001", 12)...)
	for i := 0; i < 9; i++ {
		delta := ""
		if i == 0 {
			delta = "0.5"
		}
		opts = append(opts, optionRow{"B", "5001", "110000", 20 - i, 5, 100, delta})
	}
	opts = append(opts,
		optionRow{"C", "9999", "50000", 5, 5, 50, "0.4"},
		optionRow{"C", "9999", "50000", 4, 6, 51, "0.4"},
		optionRow{"D", "5001", "100000", 40, 10, 100, "0.5"},
	)

	var stocks [][]string
	for i, x := range []float64{0.01, -0.02, 0.03, 0.0} {
		stocks = append(stocks, stock("5001", 55-5*i, 0.001+2*x, x))
	}
	stocks = append(stocks, stock("5001", 35, -99, 0.2))

	return loader.MemorySource{
		loader.OptionData: optionTable(opts...),
		loader.StockData:  stockTable(stocks...),
		loader.ATMOptions: {Header: []string{"OptionID"}, Rows: [][]string{{"A"}}},
	}
}

func TestRunEndToEnd(t *testing.T) {
	run, err := New(scenario(), DefaultConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
	assert.Equal(t, 15, run.OptionRows)
	assert.Equal(t, 1, run.RemovedOptions)
	assert.Equal(t, 5, run.CleanedRows)
	assert.Equal(t, 0, run.DegenerateCount)
	assert.Equal(t, 2, run.UnavailableRows)

	require.Len(t, run.HedgedGains, 2)
	assert.Equal(t, "A", run.HedgedGains[0].OptionID)
	assert.Equal(t, 100.0, run.HedgedGains[0].Strike)
	assert.InDelta(t, 0.025, run.HedgedGains[0].DeltaGain, 1e-12)
	assert.InDelta(t, 0.04, run.HedgedGains[1].DeltaGain, 1e-12)

	require.Len(t, run.VolatilityRows, 5)
	require.Len(t, run.Joined, 2)
	a := run.Joined[0]
	require.Equal(t, models.StatusDecomposed, a.Status, a.Reason)
	assert.InDelta(t, 0.0013*math.Sqrt(30), a.SecurityVariance, 1e-12)
	assert.InDelta(t, a.SecurityVariance, a.SystematicVolatility+a.IdiosyncraticVolatility, 1e-12)
	assert.True(t, run.Joined[1].DataUnavailable())

	require.Len(t, run.Summary, 6)
	assert.Equal(t, 2, run.Summary[0].Count)
	assert.Equal(t, 1, run.Summary[1].Count)

	assert.Nil(t, run.WithIntercept)
	assert.Nil(t, run.WithoutIntercept)
}

func TestRunLogsCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	logger.Init("info", "text")
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.Init("error", "text") })

	run, err := New(scenario(), DefaultConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Starting run "+run.ID)
	assert.Contains(t, buf.String(), "Run "+run.ID+" finished")
}

func TestRunATMOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ATMOnly = true

	run, err := New(scenario(), cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, run.OptionRows)
	require.Len(t, run.HedgedGains, 1)
	assert.Equal(t, "A", run.HedgedGains[0].OptionID)
}

func TestRunRegressions(t *testing.T) {
	mkt := []float64{0.01, -0.02, 0.03, 0.0, 0.015, -0.005, 0.02, -0.01}
	noise := []float64{0.002, -0.001, -0.003, 0.001, 0.0, 0.004, -0.002, -0.001}

	var opts []optionRow
	var stocks [][]string
	for s := 0; s < 6; s++ {
		sec := fmt.Sprintf("%d", 6000+s)
		beta := 0.5 + 0.3*float64(s)
		amp := 1 + 0.5*float64(s)
		for k, x := range mkt {
			ret := 0.001*float64(s) + beta*x + amp*noise[(k+s)%len(noise)]
			stocks = append(stocks, stock(sec, 58-3*k, ret, x))
		}
		opts = append(opts, threeDay(fmt.Sprintf("O%d", s), sec, 12+0.2*float64(s))...)
	}
	src := loader.MemorySource{
		loader.OptionData: optionTable(opts...),
		loader.StockData:  stockTable(stocks...),
	}

	run, err := New(src, DefaultConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Joined, 6)
	assert.Equal(t, 0, run.UnavailableRows)

	require.NotNil(t, run.WithIntercept)
	assert.Equal(t, 6, run.WithIntercept.N)
	_, ok := run.WithIntercept.Coefficient(report.TermConst)
	assert.True(t, ok)

	require.NotNil(t, run.WithoutIntercept)
	assert.Len(t, run.WithoutIntercept.Coefficients, 2)
}

func TestRunInputErrors(t *testing.T) {
	t.Run("missing dataset", func(t *testing.T) {
		src := scenario()
		delete(src, loader.StockData)
		_, err := New(src, DefaultConfig()).Run(context.Background())
		assert.ErrorIs(t, err, loader.ErrUnknownDataset)
	})

	t.Run("missing column", func(t *testing.T) {
		src := scenario()
		src[loader.StockData] = &loader.Table{Header: []string{"SecurityID", "Datum"}}
		_, err := New(src, DefaultConfig()).Run(context.Background())
		assert.ErrorIs(t, err, loader.ErrMissingColumn)
	})

	t.Run("bad cell", func(t *testing.T) {
		src := scenario()
		src[loader.OptionData].Rows[0][9] = "n/a"
		_, err := New(src, DefaultConfig()).Run(context.Background())
		assert.ErrorIs(t, err, loader.ErrBadCell)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New(scenario(), DefaultConfig()).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
