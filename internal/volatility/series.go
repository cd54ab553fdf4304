package volatility

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
)

// Point is one dated value of a time series.
type Point struct {
	Date  time.Time
	Value float64
}

// ReturnSeries holds each security's total returns sorted by date. It is the
// stock table pivoted so that securities become parallel date-indexed series.
type ReturnSeries struct {
	bySecurity map[string][]Point
}

// NewReturnSeries pivots stock records by security. Two returns for the same
// security and date make the pivot ambiguous and fail the build.
func NewReturnSeries(records []models.StockRecord) (*ReturnSeries, error) {
	seen := make(map[string]map[time.Time]bool)
	r := &ReturnSeries{bySecurity: make(map[string][]Point)}
	for _, rec := range records {
		if math.IsNaN(rec.TotalReturn) {
			continue
		}
		dates, ok := seen[rec.SecurityID]
		if !ok {
			dates = make(map[time.Time]bool)
			seen[rec.SecurityID] = dates
		}
		if dates[rec.Date] {
			return nil, fmt.Errorf("%w: security %s on %s", ErrDuplicateReturn, rec.SecurityID, rec.Date.Format("2006-01-02"))
		}
		dates[rec.Date] = true
		r.bySecurity[rec.SecurityID] = append(r.bySecurity[rec.SecurityID], Point{Date: rec.Date, Value: rec.TotalReturn})
	}
	for _, pts := range r.bySecurity {
		sortPoints(pts)
	}
	logger.Info("Return series built for %d securities", len(r.bySecurity))
	return r, nil
}

// Securities returns the number of securities with at least one return.
func (r *ReturnSeries) Securities() int {
	return len(r.bySecurity)
}

// Window returns the security's returns dated within [start, end]. The bool is
// false when the security has no returns at all.
func (r *ReturnSeries) Window(securityID string, start, end time.Time) ([]Point, bool) {
	pts, ok := r.bySecurity[securityID]
	if !ok {
		return nil, false
	}
	return window(pts, start, end), true
}

// FactorSeries is one market factor indexed by date, deduplicated by date.
type FactorSeries struct {
	name   string
	points []Point
	byDate map[time.Time]float64
}

// NewFactorSeries extracts the named factor from stock records. Every stock row
// repeats the day's factor values, so the first value seen for a date is kept.
func NewFactorSeries(records []models.StockRecord, name string) (*FactorSeries, error) {
	f := &FactorSeries{name: name, byDate: make(map[time.Time]float64)}
	conflicts := 0
	for i := range records {
		v, ok := records[i].Factor(name)
		if !ok {
			return nil, fmt.Errorf("unknown factor %q", name)
		}
		if math.IsNaN(v) {
			continue
		}
		d := records[i].Date
		if prev, exists := f.byDate[d]; exists {
			if prev != v {
				conflicts++
			}
			continue
		}
		f.byDate[d] = v
		f.points = append(f.points, Point{Date: d, Value: v})
	}
	sortPoints(f.points)

	if conflicts > 0 {
		logger.Warn("Factor %s has %d conflicting values on duplicate dates, kept first", name, conflicts)
	}
	logger.Info("Factor series %s: %d distinct dates from %d rows", name, len(f.points), len(records))
	return f, nil
}

// Name returns the factor's column name.
func (f *FactorSeries) Name() string {
	return f.name
}

// Len returns the number of distinct dates.
func (f *FactorSeries) Len() int {
	return len(f.points)
}

// At returns the factor value on date d.
func (f *FactorSeries) At(d time.Time) (float64, bool) {
	v, ok := f.byDate[d]
	return v, ok
}

// Window returns the factor values dated within [start, end].
func (f *FactorSeries) Window(start, end time.Time) []Point {
	return window(f.points, start, end)
}

func sortPoints(pts []Point) {
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
}

func window(pts []Point, start, end time.Time) []Point {
	lo := sort.Search(len(pts), func(i int) bool { return !pts[i].Date.Before(start) })
	hi := sort.Search(len(pts), func(i int) bool { return pts[i].Date.After(end) })
	if lo >= hi {
		return nil
	}
	return pts[lo:hi]
}
