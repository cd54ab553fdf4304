// Package models defines the core domain entities: option observations, stock
// records, hedged-gain and volatility results, and finished runs.
package models

import (
	"errors"
	"math"
	"time"
)

// MissingDeltaThreshold is the cut-off below which a Delta value is treated as
// the data vendor's missing sentinel (exported as -99.x).
const MissingDeltaThreshold = -99.0

// OptionKey identifies one option contract in output tables.
type OptionKey struct {
	OptionID   string    `json:"option_id"`
	SecurityID string    `json:"security_id"`
	Strike     float64   `json:"strike"`
	Maturity   time.Time `json:"maturity"`
}

// Less orders keys by option, security, strike and maturity.
func (k OptionKey) Less(o OptionKey) bool {
	if k.OptionID != o.OptionID {
		return k.OptionID < o.OptionID
	}
	if k.SecurityID != o.SecurityID {
		return k.SecurityID < o.SecurityID
	}
	if k.Strike != o.Strike {
		return k.Strike < o.Strike
	}
	return k.Maturity.Before(o.Maturity)
}

// Observation is one dated row of option data.
type Observation struct {
	OptionID     string    `json:"option_id"`
	SecurityID   string    `json:"security_id"`
	Strike       float64   `json:"strike"`
	Maturity     time.Time `json:"maturity"`
	Date         time.Time `json:"date"`
	Minus30      time.Time `json:"minus30"`
	BestBid      float64   `json:"best_bid"`
	BestOffer    float64   `json:"best_offer"`
	MidPrice     float64   `json:"mid_price"`
	Delta        float64   `json:"delta"`
	ClosePrice   float64   `json:"close_price"`
	DateDiff     float64   `json:"date_diff"`
	InterestRate float64   `json:"interest_rate"`
}

// Key returns the output key of the observation's option.
func (o *Observation) Key() OptionKey {
	return OptionKey{
		OptionID:   o.OptionID,
		SecurityID: o.SecurityID,
		Strike:     o.Strike,
		Maturity:   o.Maturity,
	}
}

// DeltaMissing reports whether Delta carries the missing sentinel or is NaN.
func (o *Observation) DeltaMissing() bool {
	return math.IsNaN(o.Delta) || o.Delta < MissingDeltaThreshold
}

// Validate checks observation field constraints.
func (o *Observation) Validate() error {
	if o.OptionID == "" {
		return errors.New("option ID must not be empty")
	}
	if o.SecurityID == "" {
		return errors.New("security ID must not be empty")
	}
	if o.Date.IsZero() {
		return errors.New("observation date must be set")
	}
	if o.Maturity.IsZero() {
		return errors.New("maturity must be set")
	}
	if o.Date.After(o.Maturity) {
		return errors.New("observation date must be <= maturity")
	}
	if o.Strike <= 0 {
		return errors.New("strike must be positive")
	}
	if o.BestBid < 0 || o.BestOffer < 0 {
		return errors.New("bid and offer must not be negative")
	}
	if o.ClosePrice < 0 {
		return errors.New("close price must not be negative")
	}
	if o.DateDiff < 0 {
		return errors.New("date diff must not be negative")
	}
	return nil
}

// StockRecord is one dated row of stock data, carrying the security's total
// return and the market-wide factor returns of that day.
type StockRecord struct {
	SecurityID  string    `json:"security_id"`
	Date        time.Time `json:"date"`
	TotalReturn float64   `json:"total_return"`
	Mkt         float64   `json:"mkt"`
	SMB         float64   `json:"smb"`
	HML         float64   `json:"hml"`
	WML         float64   `json:"wml"`
}

// Factor returns the named factor column value.
func (r *StockRecord) Factor(name string) (float64, bool) {
	switch name {
	case "mkt":
		return r.Mkt, true
	case "SMB":
		return r.SMB, true
	case "HML":
		return r.HML, true
	case "WML":
		return r.WML, true
	}
	return 0, false
}

// FactorNames lists the factor columns of the stock dataset.
var FactorNames = []string{"mkt", "SMB", "HML", "WML"}
