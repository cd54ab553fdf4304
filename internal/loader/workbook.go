package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/hedgegain/internal/logger"
)

// WorkbookSource reads datasets from .xlsx workbooks. Each dataset name maps
// to a glob; every matching workbook is read and the tables concatenated.
type WorkbookSource struct {
	patterns map[string]string
	sheet    string
}

// NewWorkbookSource creates a source from dataset globs. An empty sheet reads
// the first sheet of each workbook.
func NewWorkbookSource(patterns map[string]string, sheet string) *WorkbookSource {
	return &WorkbookSource{patterns: patterns, sheet: sheet}
}

func (w *WorkbookSource) Load(ctx context.Context, name string) (*Table, error) {
	pattern, ok := w.patterns[name]
	if !ok || pattern == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for %s: %w", name, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no workbooks match %s for dataset %s", pattern, name)
	}
	sort.Strings(files)

	table := &Table{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := w.readFile(file)
		if err != nil {
			return nil, err
		}
		if err := table.Append(t); err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", file, err)
		}
		logger.Info("Merged %s (%d rows) into %s", file, t.Len(), name)
	}
	return table, nil
}

func (w *WorkbookSource) readFile(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := w.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	// Raw values keep dates as serial numbers instead of locale-formatted text.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q of %s: %w", sheet, path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q of %s is empty", sheet, path)
	}

	t := &Table{Header: rows[0]}
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
