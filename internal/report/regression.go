package report

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rewired-gh/hedgegain/internal/models"
)

// TermConst names the intercept coefficient.
const TermConst = "const"

// Regress fits delta_gain on idiosyncratic and systematic volatility by OLS,
// with or without an intercept, over rows where all three are available.
func Regress(joined []models.Joined, intercept bool) (*models.Regression, error) {
	terms := []string{ColIdiosyncratic, ColSystematic}
	if intercept {
		terms = append([]string{TermConst}, terms...)
	}
	k := len(terms)

	var ys, xs []float64
	for i := range joined {
		j := &joined[i]
		if j.DataUnavailable() || !finite(j.DeltaGain, j.IdiosyncraticVolatility, j.SystematicVolatility) {
			continue
		}
		ys = append(ys, j.DeltaGain)
		if intercept {
			xs = append(xs, 1)
		}
		xs = append(xs, j.IdiosyncraticVolatility, j.SystematicVolatility)
	}
	n := len(ys)
	if n <= k {
		return nil, fmt.Errorf("%w: %d rows for %d terms", ErrTooFewRows, n, k)
	}

	return ols(mat.NewDense(n, k, xs), ys, terms, intercept)
}

func ols(x *mat.Dense, ys []float64, terms []string, intercept bool) (*models.Regression, error) {
	n, k := x.Dims()
	y := mat.NewVecDense(n, ys)

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil && !illConditioned(err) {
		return nil, fmt.Errorf("failed to solve least squares: %w", err)
	}

	var fitted, resid mat.VecDense
	fitted.MulVec(x, &beta)
	resid.SubVec(y, &fitted)
	rss := mat.Dot(&resid, &resid)

	var xtx, cov mat.Dense
	xtx.Mul(x.T(), x)
	if err := cov.Inverse(&xtx); err != nil && !illConditioned(err) {
		return nil, fmt.Errorf("design matrix is singular: %w", err)
	}

	df := n - k
	sigma2 := rss / float64(df)
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}

	reg := &models.Regression{
		Intercept: intercept,
		N:         n,
		DFResid:   df,
		RSS:       rss,
	}
	for i, term := range terms {
		est := beta.AtVec(i)
		se := math.Sqrt(sigma2 * cov.At(i, i))
		t := est / se
		reg.Coefficients = append(reg.Coefficients, models.Coefficient{
			Term:     term,
			Estimate: est,
			StdErr:   se,
			TStat:    t,
			PValue:   2 * tdist.Survival(math.Abs(t)),
		})
	}

	// Without an intercept R² is uncentered, matching the usual OLS convention.
	var tss float64
	mean := 0.0
	if intercept {
		mean = mat.Sum(y) / float64(n)
	}
	for _, v := range ys {
		tss += (v - mean) * (v - mean)
	}
	kConst := 0
	if intercept {
		kConst = 1
	}
	reg.RSquared = 1 - rss/tss
	reg.AdjRSquared = 1 - float64(n-kConst)/float64(df)*(1-reg.RSquared)

	return reg, nil
}

// FormatRegression renders a fitted model as a plain-text summary table.
func FormatRegression(r *models.Regression) string {
	var b strings.Builder
	label := "without constant"
	if r.Intercept {
		label = "with constant"
	}
	fmt.Fprintf(&b, "OLS delta_gain %s: n=%d df_resid=%d R2=%.4f adjR2=%.4f\n",
		label, r.N, r.DFResid, r.RSquared, r.AdjRSquared)

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "term\tcoef\tstd err\tt\tP>|t|\t")
	for _, c := range r.Coefficients {
		fmt.Fprintf(w, "%s\t%.6g\t%.6g\t%.3f\t%.4f\t\n", c.Term, c.Estimate, c.StdErr, c.TStat, c.PValue)
	}
	_ = w.Flush()
	return b.String()
}

// FormatSummary renders descriptive statistics, one column per line.
func FormatSummary(summary []models.ColumnSummary) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "column\tcount\tmean\tstd\tmin\t10%\t25%\t50%\t75%\t90%\tmax\t")
	for _, s := range summary {
		fmt.Fprintf(w, "%s\t%d\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\t\n",
			s.Column, s.Count, s.Mean, s.Std, s.Min, s.P10, s.P25, s.P50, s.P75, s.P90, s.Max)
	}
	_ = w.Flush()
	return b.String()
}

// illConditioned reports whether err is a finite condition-number warning,
// in which case the result is still usable.
func illConditioned(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond) && !math.IsInf(float64(cond), 1)
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
