package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrEmptyFile     = errors.New("file is empty")
	ErrNoHeaderRow   = errors.New("no header row detected")
	ErrNoDataRows    = errors.New("spreadsheet has no data rows")
	ErrUnknownFormat = errors.New("unrecognized spreadsheet format")
)

// Sheet is a parsed spreadsheet: one header row plus zero or more data rows.
// Data rows are padded or truncated to the header width. Records the parser
// could not read land in BadRows, keeping their position in the sequence.
type Sheet struct {
	Headers []string
	Rows    []Row
	BadRows []BadRow
}

// Row is one parsed data row with its 1-based record position.
type Row struct {
	Num   int
	Cells []string
}

// BadRow is one data record that failed to parse.
type BadRow struct {
	Num    int
	Reason string
}

// ParseSpreadsheet parses raw upload bytes into a Sheet. XLSX workbooks are
// detected by their zip signature; everything else is treated as CSV. Empty
// files are rejected.
func ParseSpreadsheet(data []byte) (*Sheet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}
	if isZipArchive(data) {
		return parseXLSX(data)
	}
	return parseCSV(data)
}

func isZipArchive(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K'
}

func parseCSV(data []byte) (*Sheet, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if !hasAnyContent(headers) {
		return nil, ErrNoHeaderRow
	}

	sheet := &Sheet{Headers: trimCells(headers)}
	num := 0
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		num++
		if err != nil {
			// The reader resumes at the next line, so one malformed record
			// costs exactly one row and never swallows its neighbors.
			sheet.BadRows = append(sheet.BadRows, BadRow{Num: num, Reason: csvReason(err)})
			continue
		}
		sheet.Rows = append(sheet.Rows, Row{
			Num:   num,
			Cells: padRow(trimCells(cells), len(sheet.Headers)),
		})
	}
	return sheet, nil
}

func csvReason(err error) string {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Sprintf("malformed CSV: %v", parseErr.Err)
	}
	return err.Error()
}

func parseXLSX(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet %q: %w", sheetName, err)
	}
	if len(rows) == 0 || !hasAnyContent(rows[0]) {
		return nil, ErrNoHeaderRow
	}

	sheet := &Sheet{Headers: trimCells(rows[0])}
	for i, row := range rows[1:] {
		sheet.Rows = append(sheet.Rows, Row{
			Num:   i + 1,
			Cells: padRow(trimCells(row), len(sheet.Headers)),
		})
	}
	return sheet, nil
}

// IsEmptyRow reports whether every cell in the row is blank.
func IsEmptyRow(row []string) bool {
	return !hasAnyContent(row)
}

func hasAnyContent(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}

func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}
