// Package storage provides SQLite-backed persistence for finished runs.
package storage

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/hedgegain/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database holding run results.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/hedgegain/results.db.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "hedgegain", "results.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxRuns: maxRuns}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id               TEXT PRIMARY KEY,
			started_at       INTEGER NOT NULL,
			finished_at      INTEGER NOT NULL,
			option_rows      INTEGER NOT NULL,
			cleaned_rows     INTEGER NOT NULL,
			removed_options  INTEGER NOT NULL,
			degenerate_count INTEGER NOT NULL,
			unavailable_rows INTEGER NOT NULL,
			joined_rows      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hedged_gains (
			run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			option_id    TEXT NOT NULL,
			security_id  TEXT NOT NULL,
			strike       REAL NOT NULL,
			maturity     INTEGER NOT NULL,
			delta_gain   REAL,
			increment_1  REAL,
			increment_2  REAL,
			increment_3  REAL,
			scalar       REAL,
			observations INTEGER NOT NULL,
			degenerate   INTEGER NOT NULL DEFAULT 0,
			reason       TEXT,
			PRIMARY KEY (run_id, option_id, security_id, strike, maturity)
		)`,
		`CREATE TABLE IF NOT EXISTS decompositions (
			run_id                   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			option_id                TEXT NOT NULL,
			security_id              TEXT NOT NULL,
			strike                   REAL NOT NULL,
			maturity                 INTEGER NOT NULL,
			delta_gain               REAL,
			status                   TEXT NOT NULL,
			reason                   TEXT,
			window_start             INTEGER NOT NULL,
			window_end               INTEGER NOT NULL,
			observations             INTEGER NOT NULL,
			security_variance        REAL,
			security_std_dev         REAL,
			idiosyncratic_volatility REAL,
			systematic_volatility    REAL,
			systematic_part_percent  REAL,
			PRIMARY KEY (run_id, option_id, security_id, strike, maturity)
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			col     TEXT NOT NULL,
			count   INTEGER NOT NULL,
			mean    REAL,
			std     REAL,
			min     REAL,
			p10     REAL,
			p25     REAL,
			p50     REAL,
			p75     REAL,
			p90     REAL,
			max     REAL,
			PRIMARY KEY (run_id, col)
		)`,
		`CREATE TABLE IF NOT EXISTS coefficients (
			run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			intercept INTEGER NOT NULL,
			term      TEXT NOT NULL,
			estimate  REAL,
			std_err   REAL,
			t_stat    REAL,
			p_value   REAL,
			n         INTEGER NOT NULL,
			r_squared REAL,
			PRIMARY KEY (run_id, intercept, term)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun writes a run and all of its tables in one transaction, then
// enforces the run cap.
func (s *Storage) SaveRun(run *models.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO runs
			(id, started_at, finished_at, option_rows, cleaned_rows, removed_options,
			 degenerate_count, unavailable_rows, joined_rows)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		run.OptionRows, run.CleanedRows, run.RemovedOptions,
		run.DegenerateCount, run.UnavailableRows, len(run.Joined),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, g := range run.HedgedGains {
		_, err = tx.Exec(`
			INSERT INTO hedged_gains
				(run_id, option_id, security_id, strike, maturity, delta_gain,
				 increment_1, increment_2, increment_3, scalar, observations, degenerate, reason)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			run.ID, g.OptionID, g.SecurityID, g.Strike, g.Maturity.UnixNano(), nullable(g.DeltaGain),
			nullable(g.Increment1), nullable(g.Increment2), nullable(g.Increment3), nullable(g.Scalar),
			g.Observations,
			boolToInt(g.Degenerate), g.Reason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert hedged gain %s: %w", g.OptionID, err)
		}
	}

	for _, j := range run.Joined {
		d := j.Decomposition
		_, err = tx.Exec(`
			INSERT INTO decompositions
				(run_id, option_id, security_id, strike, maturity, delta_gain, status, reason,
				 window_start, window_end, observations, security_variance, security_std_dev,
				 idiosyncratic_volatility, systematic_volatility, systematic_part_percent)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			run.ID, j.OptionID, j.SecurityID, j.Strike, j.Maturity.UnixNano(), nullable(j.DeltaGain),
			string(d.Status), d.Reason, d.WindowStart.UnixNano(), d.WindowEnd.UnixNano(), d.Observations,
			decomposed(&d, d.SecurityVariance), decomposed(&d, d.SecurityStdDev),
			decomposed(&d, d.IdiosyncraticVolatility), decomposed(&d, d.SystematicVolatility),
			decomposed(&d, d.SystematicPartPercent),
		)
		if err != nil {
			return fmt.Errorf("failed to insert decomposition %s: %w", j.OptionID, err)
		}
	}

	for _, c := range run.Summary {
		_, err = tx.Exec(`
			INSERT INTO summaries
				(run_id, col, count, mean, std, min, p10, p25, p50, p75, p90, max)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			run.ID, c.Column, c.Count, nullable(c.Mean), nullable(c.Std), nullable(c.Min),
			nullable(c.P10), nullable(c.P25), nullable(c.P50), nullable(c.P75), nullable(c.P90),
			nullable(c.Max),
		)
		if err != nil {
			return fmt.Errorf("failed to insert summary %s: %w", c.Column, err)
		}
	}

	for _, reg := range []*models.Regression{run.WithIntercept, run.WithoutIntercept} {
		if reg == nil {
			continue
		}
		for _, c := range reg.Coefficients {
			_, err = tx.Exec(`
				INSERT INTO coefficients
					(run_id, intercept, term, estimate, std_err, t_stat, p_value, n, r_squared)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				run.ID, boolToInt(reg.Intercept), c.Term, nullable(c.Estimate), nullable(c.StdErr),
				nullable(c.TStat), nullable(c.PValue), reg.N, nullable(reg.RSquared),
			)
			if err != nil {
				return fmt.Errorf("failed to insert coefficient %s: %w", c.Term, err)
			}
		}
	}

	if _, err = tx.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, s.maxRuns); err != nil {
		return fmt.Errorf("failed to enforce run cap: %w", err)
	}

	return tx.Commit()
}

// GetRun returns the run header; tables are read with the Get* methods.
func (s *Storage) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the newest run headers first.
func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(`SELECT `+runCols+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	var runs []*models.Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return runs, rows.Err()
}

func (s *Storage) GetHedgedGains(runID string) ([]models.HedgedGain, error) {
	rows, err := s.db.Query(`
		SELECT option_id, security_id, strike, maturity, delta_gain,
		       increment_1, increment_2, increment_3, scalar, observations, degenerate, reason
		FROM hedged_gains WHERE run_id = ?
		ORDER BY option_id, security_id, strike, maturity`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hedged gains: %w", err)
	}
	defer rows.Close()

	var gains []models.HedgedGain
	for rows.Next() {
		var g models.HedgedGain
		var maturityNano int64
		var gain, inc1, inc2, inc3, scalar sql.NullFloat64
		var degenerate int
		var reason sql.NullString

		err := rows.Scan(
			&g.OptionID, &g.SecurityID, &g.Strike, &maturityNano, &gain,
			&inc1, &inc2, &inc3, &scalar, &g.Observations,
			&degenerate, &reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hedged gain: %w", err)
		}

		g.Maturity = time.Unix(0, maturityNano).UTC()
		g.DeltaGain = orNaN(gain)
		g.Increment1, g.Increment2, g.Increment3 = orNaN(inc1), orNaN(inc2), orNaN(inc3)
		g.Scalar = orNaN(scalar)
		g.Degenerate = degenerate != 0
		g.Reason = reason.String
		gains = append(gains, g)
	}

	return gains, rows.Err()
}

// GetCoefficients returns the coefficients of the model fitted with or
// without an intercept, in term order.
func (s *Storage) GetCoefficients(runID string, intercept bool) ([]models.Coefficient, error) {
	rows, err := s.db.Query(`
		SELECT term, estimate, std_err, t_stat, p_value
		FROM coefficients WHERE run_id = ? AND intercept = ?
		ORDER BY term`, runID, boolToInt(intercept))
	if err != nil {
		return nil, fmt.Errorf("failed to query coefficients: %w", err)
	}
	defer rows.Close()

	var coefs []models.Coefficient
	for rows.Next() {
		var c models.Coefficient
		var est, se, t, p sql.NullFloat64
		if err := rows.Scan(&c.Term, &est, &se, &t, &p); err != nil {
			return nil, fmt.Errorf("failed to scan coefficient: %w", err)
		}
		c.Estimate, c.StdErr, c.TStat, c.PValue = orNaN(est), orNaN(se), orNaN(t), orNaN(p)
		coefs = append(coefs, c)
	}

	return coefs, rows.Err()
}

// RotateRuns keeps at most maxRuns newest runs by start time.
// Cascading deletes remove their tables.
func (s *Storage) RotateRuns() error {
	_, err := s.db.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, s.maxRuns)
	if err != nil {
		return fmt.Errorf("failed to rotate runs: %w", err)
	}
	return nil
}

const runCols = `id, started_at, finished_at, option_rows, cleaned_rows, removed_options,
	degenerate_count, unavailable_rows`

func scanRun(scan func(...any) error) (*models.Run, error) {
	var r models.Run
	var startedNano, finishedNano int64
	err := scan(
		&r.ID, &startedNano, &finishedNano,
		&r.OptionRows, &r.CleanedRows, &r.RemovedOptions,
		&r.DegenerateCount, &r.UnavailableRows,
	)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, startedNano)
	r.FinishedAt = time.Unix(0, finishedNano)
	return &r, nil
}

// nullable maps non-finite values to SQL NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func decomposed(d *models.Decomposition, v float64) sql.NullFloat64 {
	if d.DataUnavailable() {
		return sql.NullFloat64{}
	}
	return nullable(v)
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
