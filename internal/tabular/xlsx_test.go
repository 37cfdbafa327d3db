package tabular

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Consignee Name", "City"},
			{"ABC Ltd", "Pune"},
			{"XYZ Corp", "Delhi"},
		},
	})

	table, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Consignee Name", "City"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "XYZ Corp", table.Rows[1]["Consignee Name"])
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Data": {{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Data": {{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.xlsx")
	header := []string{"name", "status", "timestamp"}
	rows := []Row{
		{"name": "ABC Ltd", "status": "completed", "timestamp": "2026-10-01T10:00:00Z"},
		{"name": "XYZ Corp", "status": "billing_error"},
	}

	require.NoError(t, WriteFile(path, header, rows))

	table, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, header, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "2026-10-01T10:00:00Z", table.Rows[0]["timestamp"])
	assert.Equal(t, "billing_error", table.Rows[1]["status"])
}
