package fetcher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// workbookBytes builds an in-memory workbook with one sheet per entry, in
// the order given.
func workbookBytes(t *testing.T, sheets ...sheetFixture) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, v := range rowData {
				row.AddCell().SetString(v)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

type sheetFixture struct {
	name string
	rows [][]string
}

func TestReadXLSXBytes_FirstSheet(t *testing.T) {
	data := workbookBytes(t,
		sheetFixture{name: "Tenders", rows: [][]string{
			{"tender_id", "title", "value"},
			{"R9", "IT Services", "500000"},
		}},
		sheetFixture{name: "Notes", rows: [][]string{{"ignored"}}},
	)

	rows, err := ReadXLSXBytes(data, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"tender_id", "title", "value"}, rows[0])
	assert.Equal(t, []string{"R9", "IT Services", "500000"}, rows[1])
}

func TestReadXLSXBytes_SheetNameAndSkip(t *testing.T) {
	data := workbookBytes(t,
		sheetFixture{name: "Cover", rows: [][]string{{"eTenders export"}}},
		sheetFixture{name: "Releases", rows: [][]string{
			{"generated 2025-01-01"},
			{"id", "buyer"},
			{"ocds-1", "City of Johannesburg"},
		}},
	)

	rows, err := ReadXLSXBytes(data, XLSXOptions{SheetName: "Releases", SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"id", "buyer"}, rows[0])
}

func TestReadXLSXBytes_SheetErrors(t *testing.T) {
	data := workbookBytes(t, sheetFixture{name: "Tenders", rows: [][]string{{"id"}}})

	_, err := ReadXLSXBytes(data, XLSXOptions{SheetName: "Awards"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Awards" not found`)

	_, err = ReadXLSXBytes(data, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSXBytes_NotAWorkbook(t *testing.T) {
	_, err := ReadXLSXBytes([]byte("id,title\nT1,x\n"), XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open workbook")
}
