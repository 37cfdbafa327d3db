package tabular

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX reader and writer.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX reads a worksheet whose first row is the header.
func ReadXLSX(path string, opts XLSXOptions) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	if len(sheet.Rows) == 0 {
		return nil, eris.New("xlsx: missing header row")
	}

	header := rowToStrings(sheet.Rows[0])
	records := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		records = append(records, rowToStrings(row))
	}

	return newTable(header, records), nil
}

// WriteXLSX writes header and rows into a single-sheet workbook at path.
func WriteXLSX(path string, header []string, rows []Row, opts XLSXOptions) error {
	name := opts.SheetName
	if name == "" {
		name = "Sheet1"
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "xlsx: add sheet %q", name)
	}

	addRow(sheet, header)
	for _, row := range rows {
		addRow(sheet, row.Values(header))
	}

	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
