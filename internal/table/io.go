package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/MikeSquared-Agency/cwbatch/internal/atomicfile"
)

const utf8BOM = "\ufeff"

// ReadFile loads a CSV, TSV or Excel workbook, choosing the parser by extension.
func ReadFile(path string) (*Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", "":
		return ReadCSV(bytes.NewReader(content), ',')
	case ".tsv":
		return ReadCSV(bytes.NewReader(content), '\t')
	case ".xlsx", ".xlsm":
		return ReadExcel(bytes.NewReader(content))
	default:
		return nil, fmt.Errorf("unsupported table format: %s", path)
	}
}

// ReadCSV parses delimited text whose first record is the header.
func ReadCSV(r io.Reader, comma rune) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv")
	}
	return fromRecords(records), nil
}

// ReadExcel parses the first data sheet of a workbook.
func ReadExcel(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := dataSheet(f.GetSheetList())
	if sheet == "" {
		return nil, fmt.Errorf("no sheets in workbook")
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty sheet %s", sheet)
	}
	return fromRecords(records), nil
}

// dataSheet skips sheets that conventionally hold notes rather than data.
func dataSheet(sheets []string) string {
	skip := map[string]bool{"info": true, "metadata": true, "about": true, "readme": true, "notes": true}
	for _, s := range sheets {
		if !skip[strings.ToLower(s)] {
			return s
		}
	}
	if len(sheets) > 0 {
		return sheets[len(sheets)-1]
	}
	return ""
}

func fromRecords(records [][]string) *Table {
	header := records[0]
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		header[i] = h
	}

	t := New(header)
	t.Rows = make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		t.Append(rec)
	}
	return t
}

// WriteCSV encodes the table as UTF-8 CSV.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range t.Rows {
		t.pad(i)
		if err := cw.Write(t.Rows[i]); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile rewrites path with the table as a whole; a failure leaves the
// previous file in place.
func WriteFile(path string, t *Table) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		return WriteCSV(w, t)
	})
}
