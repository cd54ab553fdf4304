// Package loader turns external option and stock tables into typed rows.
//
// Data sources implement Source and are injected into the pipeline; the
// decoders in this package check the column set and apply the vendor fixes
// (strike scaling, mid price, invalid total returns).
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Dataset names understood by every Source.
const (
	OptionData = "option_data"
	StockData  = "stock_data"
	ATMOptions = "ATM_c_option_m30_all"
)

var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrMissingColumn  = errors.New("missing required column")
	ErrBadCell        = errors.New("malformed cell")
)

// Source loads a named dataset as a table.
type Source interface {
	Load(ctx context.Context, name string) (*Table, error)
}

// Table is a header row plus string cells, as read from a spreadsheet.
type Table struct {
	Header []string
	Rows   [][]string
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Append concatenates other onto t. Columns are matched by name, so sources
// exported with a different column order still line up.
func (t *Table) Append(other *Table) error {
	if len(t.Header) == 0 {
		t.Header = append([]string(nil), other.Header...)
		t.Rows = append(t.Rows, other.Rows...)
		return nil
	}
	idx, err := other.columns(t.Header)
	if err != nil {
		return err
	}
	for _, row := range other.Rows {
		out := make([]string, len(t.Header))
		for i, j := range idx {
			if j < len(row) {
				out[i] = row[j]
			}
		}
		t.Rows = append(t.Rows, out)
	}
	return nil
}

// columns resolves names to column positions, ignoring case and padding.
func (t *Table) columns(names []string) ([]int, error) {
	pos := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make([]int, len(names))
	for i, name := range names {
		j, ok := pos[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		idx[i] = j
	}
	return idx, nil
}

// MemorySource serves tables that are already in memory.
type MemorySource map[string]*Table

func (m MemorySource) Load(ctx context.Context, name string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	return t, nil
}
