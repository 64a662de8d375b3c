package fetcher

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format identifies how a bulk file is decoded.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatUnknown Format = ""
)

// DetectFormat picks a decoder from the file name's extension.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// DecodeOptions configures DecodeRows.
type DecodeOptions struct {
	// Charset of CSV input. Empty means UTF-8.
	Charset string
}

// DecodeRows decodes a bulk file into rows keyed by header. Rows whose
// values are all blank are dropped. Files with an unknown extension are
// tried as a spreadsheet first and then as CSV.
func DecodeRows(ctx context.Context, data []byte, name string, opts DecodeOptions) ([]map[string]any, error) {
	switch DetectFormat(name) {
	case FormatXLSX:
		return decodeXLSX(data)
	case FormatCSV:
		return decodeCSV(ctx, data, opts.Charset)
	case FormatJSON:
		return decodeJSON(ctx, data)
	}

	rows, err := decodeXLSX(data)
	if err == nil {
		return rows, nil
	}
	rows, csvErr := decodeCSV(ctx, data, opts.Charset)
	if csvErr != nil {
		return nil, eris.Wrapf(csvErr, "decode %s: not a spreadsheet (%v)", name, err)
	}
	return rows, nil
}

func decodeXLSX(data []byte) ([]map[string]any, error) {
	table, err := ReadXLSXBytes(data, XLSXOptions{})
	if err != nil {
		return nil, err
	}
	return tableRows(table), nil
}

func decodeCSV(ctx context.Context, data []byte, charset string) ([]map[string]any, error) {
	r, err := DecodeCharset(bytes.NewReader(data), charset)
	if err != nil {
		return nil, err
	}

	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{LazyQuotes: true})
	var table [][]string
	for row := range rowCh {
		table = append(table, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return tableRows(table), nil
}

// decodeJSON accepts an array of row objects, an OCDS release package with
// a releases list, or a single release object.
func decodeJSON(ctx context.Context, data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(trimmed) == 0 {
		return nil, nil
	}

	outCh, errCh := StreamJSONRecords(ctx, bytes.NewReader(trimmed), "releases")
	var rows []map[string]any
	for row := range outCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

// tableRows keys each data row by the first row's headers. Columns with an
// empty header are dropped and missing trailing cells read as "".
func tableRows(table [][]string) []map[string]any {
	if len(table) == 0 {
		return nil
	}

	header := make([]string, len(table[0]))
	for i, h := range table[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	rows := make([]map[string]any, 0, len(table)-1)
	for _, cells := range table[1:] {
		if blank(cells) {
			continue
		}
		row := make(map[string]any, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(cells) {
				row[h] = cells[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
