package tabular

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Row maps a header name to its cell value. Missing columns read as "".
type Row map[string]string

// Values returns the row's cells in header order.
func (r Row) Values(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = r[h]
	}
	return out
}

// Has reports whether the row carries the named column.
func (r Row) Has(col string) bool {
	_, ok := r[col]
	return ok
}

// Table is a parsed file: a header and its rows.
type Table struct {
	Header []string
	Rows   []Row
}

// HasColumn reports whether name is one of the header columns.
func (t *Table) HasColumn(name string) bool {
	for _, h := range t.Header {
		if h == name {
			return true
		}
	}
	return false
}

// Column returns every value of the named column in row order.
func (t *Table) Column(name string) []string {
	out := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, r[name])
	}
	return out
}

func newTable(header []string, records [][]string) *Table {
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	t := &Table{Header: header, Rows: make([]Row, 0, len(records))}
	for _, rec := range records {
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Format is a supported file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("tabular: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadFile reads a CSV or XLSX file based on its extension.
func ReadFile(ctx context.Context, path string) (*Table, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatXLSX {
		return ReadXLSX(path, XLSXOptions{})
	}
	return readCSVFile(ctx, path)
}

// WriteFile writes header and rows as CSV or XLSX based on the extension.
func WriteFile(path string, header []string, rows []Row) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if format == FormatXLSX {
		return WriteXLSX(path, header, rows, XLSXOptions{SheetName: "research_status"})
	}
	return writeCSVFile(path, header, rows)
}

// DetectColumn returns preferred when it is in the header. Otherwise it falls
// back to the first header containing "consignee", then "name"
// (case-insensitive).
func DetectColumn(header []string, preferred string) (string, error) {
	for _, h := range header {
		if h == preferred {
			return h, nil
		}
	}
	for _, hint := range []string{"consignee", "name"} {
		for _, h := range header {
			if strings.Contains(strings.ToLower(h), hint) {
				return h, nil
			}
		}
	}
	return "", eris.Errorf("tabular: column %q not found (available: %s)", preferred, strings.Join(header, ", "))
}
