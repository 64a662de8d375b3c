package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"releases-2025-01.xlsx", FormatXLSX},
		{"OLD.XLS", FormatXLSX},
		{"export.csv", FormatCSV},
		{"package.JSON", FormatJSON},
		{"DownloadReleaseFile", FormatUnknown},
		{"", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.name))
		})
	}
}

func TestDecodeRows_CSV(t *testing.T) {
	data := []byte("\xEF\xBB\xBFTender ID,title,value\nR9,IT Services,500000\n,,\nR10,Road works\n")

	rows, err := DecodeRows(context.Background(), data, "bulk.csv", DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"Tender ID": "R9", "title": "IT Services", "value": "500000"}, rows[0])
	assert.Equal(t, map[string]any{"Tender ID": "R10", "title": "Road works", "value": ""}, rows[1])
}

func TestDecodeRows_CSVCharset(t *testing.T) {
	encoded, err := charmap.Windows1252.NewEncoder().String("id,buyer\nT1,Département\n")
	require.NoError(t, err)

	rows, err := DecodeRows(context.Background(), []byte(encoded), "x.csv", DecodeOptions{Charset: "windows-1252"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Département", rows[0]["buyer"])
}

func TestDecodeRows_XLSX(t *testing.T) {
	data := workbookBytes(t, sheetFixture{name: "Sheet1", rows: [][]string{
		{"tender_id", "title", "", "closing_date"},
		{"R9", "IT Services", "junk", "2025-01-01"},
		{"", "", "", ""},
	}})

	rows, err := DecodeRows(context.Background(), data, "bulk.xlsx", DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"tender_id": "R9", "title": "IT Services", "closing_date": "2025-01-01"}, rows[0])
}

func TestDecodeRows_UnknownExtension(t *testing.T) {
	data := workbookBytes(t, sheetFixture{name: "Sheet1", rows: [][]string{{"id"}, {"T1"}}})
	rows, err := DecodeRows(context.Background(), data, "DownloadReleaseFile", DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": "T1"}}, rows)

	rows, err = DecodeRows(context.Background(), []byte("id,title\nT2,Paper\n"), "DownloadReleaseFile", DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": "T2", "title": "Paper"}}, rows)
}

func TestDecodeRows_JSONArray(t *testing.T) {
	data := []byte(`[{"tender_id":"R9","value":500000},{},{"id":"R10"}]`)
	rows, err := DecodeRows(context.Background(), data, "rows.json", DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "R9", rows[0]["tender_id"])
	assert.InDelta(t, 500000.0, rows[0]["value"], 0.001)
	assert.Equal(t, "R10", rows[1]["id"])
}

func TestDecodeRows_JSONReleasePackage(t *testing.T) {
	data := []byte(`{"uri":"x","releases":[{"id":"T1","tender":{"title":"Road works"}},"skip",{"id":"T2","tender":{}}]}`)
	rows, err := DecodeRows(context.Background(), data, "package.json", DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "T1", rows[0]["id"])
	assert.Equal(t, map[string]any{"title": "Road works"}, rows[0]["tender"])
}

func TestDecodeRows_JSONSingleRelease(t *testing.T) {
	rows, err := DecodeRows(context.Background(), []byte(` {"id":"T1","tender":{}} `), "one.json", DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "T1", rows[0]["id"])
}

func TestDecodeRows_JSONInvalid(t *testing.T) {
	_, err := DecodeRows(context.Background(), []byte(`{"releases":[`), "bad.json", DecodeOptions{})
	require.Error(t, err)

	_, err = DecodeRows(context.Background(), []byte(`"text"`), "bad.json", DecodeOptions{})
	require.Error(t, err)
}

func TestDecodeRows_Empty(t *testing.T) {
	rows, err := DecodeRows(context.Background(), nil, "empty.csv", DecodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = DecodeRows(context.Background(), []byte("  "), "empty.json", DecodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
