package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestObservationValidate(t *testing.T) {
	valid := Observation{
		OptionID:   "101",
		SecurityID: "5001",
		Strike:     100,
		Maturity:   date(2020, 3, 20),
		Date:       date(2020, 2, 20),
		BestBid:    9.9,
		BestOffer:  10.1,
		ClosePrice: 100,
		DateDiff:   1,
	}

	tests := []struct {
		name    string
		mutate  func(o *Observation)
		wantErr bool
	}{
		{name: "valid observation", mutate: func(o *Observation) {}, wantErr: false},
		{name: "empty option ID", mutate: func(o *Observation) { o.OptionID = "" }, wantErr: true},
		{name: "empty security ID", mutate: func(o *Observation) { o.SecurityID = "" }, wantErr: true},
		{name: "date after maturity", mutate: func(o *Observation) { o.Date = date(2020, 3, 21) }, wantErr: true},
		{name: "zero strike", mutate: func(o *Observation) { o.Strike = 0 }, wantErr: true},
		{name: "negative bid", mutate: func(o *Observation) { o.BestBid = -1 }, wantErr: true},
		{name: "negative date diff", mutate: func(o *Observation) { o.DateDiff = -1 }, wantErr: true},
		{name: "missing maturity", mutate: func(o *Observation) { o.Maturity = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Observation.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestObservationDeltaMissing(t *testing.T) {
	tests := []struct {
		delta float64
		want  bool
	}{
		{0.5, false},
		{-0.99, false},
		{-99.0, false},
		{-99.5, true},
		{-99.99, true},
		{math.NaN(), true},
	}
	for _, tt := range tests {
		o := Observation{Delta: tt.delta}
		assert.Equal(t, tt.want, o.DeltaMissing(), "delta %v", tt.delta)
	}
}

func TestOptionKeyLess(t *testing.T) {
	a := OptionKey{OptionID: "1", SecurityID: "9", Strike: 50, Maturity: date(2020, 1, 1)}
	b := a
	b.OptionID = "2"
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))

	c := a
	c.Maturity = date(2020, 2, 1)
	assert.True(t, a.Less(c))
	assert.False(t, a.Less(a))
}

func TestStockRecordFactor(t *testing.T) {
	r := StockRecord{Mkt: 0.01, SMB: 0.02, HML: 0.03, WML: 0.04}
	for i, name := range FactorNames {
		v, ok := r.Factor(name)
		assert.True(t, ok)
		assert.InDelta(t, 0.01*float64(i+1), v, 1e-12)
	}
	_, ok := r.Factor("RMW")
	assert.False(t, ok)
}

func TestDecompositionValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Decomposition
		wantErr bool
	}{
		{
			name: "consistent decomposition",
			d: Decomposition{
				WindowStart:             date(2020, 1, 20),
				WindowEnd:               date(2020, 2, 19),
				Observations:            20,
				SecurityVariance:        0.004,
				SecurityStdDev:          0.063,
				IdiosyncraticVolatility: 0.001,
				SystematicVolatility:    0.003,
				SystematicPartPercent:   75,
				Status:                  StatusDecomposed,
			},
		},
		{
			name: "parts do not add up",
			d: Decomposition{
				WindowStart:             date(2020, 1, 20),
				WindowEnd:               date(2020, 2, 19),
				Observations:            20,
				SecurityVariance:        0.004,
				IdiosyncraticVolatility: 0.001,
				SystematicVolatility:    0.001,
				Status:                  StatusDecomposed,
			},
			wantErr: true,
		},
		{
			name:    "no data rows are not checked",
			d:       Decomposition{Status: StatusNoData},
			wantErr: false,
		},
		{
			name:    "unknown status",
			d:       Decomposition{Status: "pending"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Decomposition.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecompositionDataUnavailable(t *testing.T) {
	assert.False(t, (&Decomposition{Status: StatusDecomposed}).DataUnavailable())
	assert.True(t, (&Decomposition{Status: StatusNoData}).DataUnavailable())
	assert.True(t, (&Decomposition{Status: StatusFailed}).DataUnavailable())
}

func TestRunValidate(t *testing.T) {
	now := time.Now()
	assert.NoError(t, (&Run{ID: "r", StartedAt: now, FinishedAt: now.Add(time.Second)}).Validate())
	assert.Error(t, (&Run{StartedAt: now, FinishedAt: now}).Validate())
	assert.Error(t, (&Run{ID: "r", StartedAt: now, FinishedAt: now.Add(-time.Second)}).Validate())
}
