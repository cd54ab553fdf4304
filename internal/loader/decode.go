package loader

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
)

var optionColumns = []string{
	"OptionID", "SecurityID", "Strike", "maturity", "Datum", "minus30",
	"BestBid", "BestOffer", "Delta", "ClosePrice", "date_diff", "interest_rate",
}

var stockColumns = []string{"SecurityID", "Datum", "TotalReturn", "mkt", "SMB", "HML", "WML"}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"02.01.2006",
	"01/02/2006",
	"1/2/06",
}

// MidPrice is the midpoint of bid and offer rounded to cents, half to even.
func MidPrice(bid, offer float64) float64 {
	mid := decimal.NewFromFloat(bid).Add(decimal.NewFromFloat(offer)).Div(decimal.NewFromInt(2))
	return mid.RoundBank(2).InexactFloat64()
}

// DecodeOptions converts an option table into observations. Strikes are
// divided by strikeDivisor because the export stores them scaled by 1000.
// A blank Delta decodes as NaN and is treated as missing by the cleaner.
func DecodeOptions(t *Table, strikeDivisor float64) ([]models.Observation, error) {
	idx, err := t.columns(optionColumns)
	if err != nil {
		return nil, err
	}
	if strikeDivisor <= 0 {
		strikeDivisor = 1
	}

	obs := make([]models.Observation, 0, len(t.Rows))
	for n, row := range t.Rows {
		c := cells{row: row, idx: idx, line: n + 2}
		o := models.Observation{
			OptionID:     c.id(0),
			SecurityID:   c.id(1),
			Strike:       c.float(2) / strikeDivisor,
			Maturity:     c.date(3),
			Date:         c.date(4),
			Minus30:      c.optionalDate(5),
			BestBid:      c.float(6),
			BestOffer:    c.float(7),
			Delta:        c.optionalFloat(8),
			ClosePrice:   c.float(9),
			DateDiff:     c.optionalFloat(10),
			InterestRate: c.optionalFloat(11),
		}
		if c.err != nil {
			return nil, c.err
		}
		if math.IsNaN(o.DateDiff) {
			o.DateDiff = 0
		}
		if math.IsNaN(o.InterestRate) {
			o.InterestRate = 0
		}
		o.MidPrice = MidPrice(o.BestBid, o.BestOffer)
		obs = append(obs, o)
	}
	return obs, nil
}

// DecodeStocks converts a stock table into records, dropping rows whose total
// return is not above -1 (the export's missing-value marker).
func DecodeStocks(t *Table) ([]models.StockRecord, error) {
	idx, err := t.columns(stockColumns)
	if err != nil {
		return nil, err
	}

	records := make([]models.StockRecord, 0, len(t.Rows))
	dropped := 0
	for n, row := range t.Rows {
		c := cells{row: row, idx: idx, line: n + 2}
		r := models.StockRecord{
			SecurityID:  c.id(0),
			Date:        c.date(1),
			TotalReturn: c.optionalFloat(2),
			Mkt:         c.optionalFloat(3),
			SMB:         c.optionalFloat(4),
			HML:         c.optionalFloat(5),
			WML:         c.optionalFloat(6),
		}
		if c.err != nil {
			return nil, c.err
		}
		if !(r.TotalReturn > -1) {
			dropped++
			continue
		}
		records = append(records, r)
	}
	if dropped > 0 {
		logger.Info("Dropped %d stock rows with missing total return", dropped)
	}
	return records, nil
}

// DecodeOptionIDs returns the set of option IDs listed in a table, such as the
// ATM option table.
func DecodeOptionIDs(t *Table) (map[string]bool, error) {
	idx, err := t.columns([]string{"OptionID"})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(t.Rows))
	for n, row := range t.Rows {
		c := cells{row: row, idx: idx, line: n + 2}
		id := c.id(0)
		if c.err != nil {
			return nil, c.err
		}
		ids[id] = true
	}
	return ids, nil
}

// cells reads typed values from one row and keeps the first error.
type cells struct {
	row  []string
	idx  []int
	line int
	err  error
}

func (c *cells) raw(i int) string {
	j := c.idx[i]
	if j >= len(c.row) {
		return ""
	}
	return strings.TrimSpace(c.row[j])
}

func (c *cells) fail(i int, value string) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: row %d column %d value %q", ErrBadCell, c.line, c.idx[i]+1, value)
	}
}

func (c *cells) id(i int) string {
	s := c.raw(i)
	if s == "" {
		c.fail(i, s)
		return ""
	}
	// Numeric identifiers may come back as "1234.0".
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

func (c *cells) float(i int) float64 {
	v := c.optionalFloat(i)
	if math.IsNaN(v) {
		c.fail(i, c.raw(i))
		return 0
	}
	return v
}

func (c *cells) optionalFloat(i int) float64 {
	s := c.raw(i)
	if s == "" {
		return math.NaN()
	}
	v, err := parseNumber(s)
	if err != nil {
		c.fail(i, s)
		return math.NaN()
	}
	return v
}

// parseNumber reads a numeric cell. A single comma without a dot is a
// decimal comma, as in German exports; any other comma is rejected.
func parseNumber(s string) (float64, error) {
	if strings.Contains(s, ",") {
		if strings.Count(s, ",") > 1 || strings.Contains(s, ".") {
			return 0, fmt.Errorf("ambiguous separators in %q", s)
		}
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

func (c *cells) date(i int) time.Time {
	d := c.optionalDate(i)
	if d.IsZero() {
		c.fail(i, c.raw(i))
	}
	return d
}

func (c *cells) optionalDate(i int) time.Time {
	s := c.raw(i)
	if s == "" {
		return time.Time{}
	}
	d, err := parseDate(s)
	if err != nil {
		c.fail(i, s)
		return time.Time{}
	}
	return d
}

// parseDate accepts spreadsheet serial numbers and common text layouts.
// Results are truncated to UTC midnight.
func parseDate(s string) (time.Time, error) {
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return midnight(t), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
