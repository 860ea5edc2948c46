package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Columns are the zero-based positions of the settlement fields in a file.
// Currency is optional; a negative index means the file has none.
type Columns struct {
	TrackingNumber int
	Weight         int
	WeightUnit     int
	Amount         int
	Zone           int
	DocumentName   int
	Currency       int
}

func DefaultColumns() Columns {
	return Columns{TrackingNumber: 0, Weight: 1, WeightUnit: 2, Amount: 3, Zone: 4, DocumentName: 5, Currency: -1}
}

func (c Columns) orDefault() Columns {
	if c == (Columns{}) {
		return DefaultColumns()
	}
	return c
}

// Supported reports whether the file extension is one the engine can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// rowSource yields raw records and io.EOF at the end.
type rowSource interface {
	Next() ([]string, error)
	Close() error
}

func openSource(path string) (rowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open %s: %w", path, err)
		}
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		r.TrimLeadingSpace = true
		return &csvSource{file: f, reader: r}, nil
	case ".xlsx":
		return openXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported settlement file type %q", filepath.Ext(path))
	}
}

type csvSource struct {
	file   *os.File
	reader *csv.Reader
}

func (s *csvSource) Next() ([]string, error) { return s.reader.Read() }
func (s *csvSource) Close() error           { return s.file.Close() }

// xlsxSource streams the first sheet of a workbook.
type xlsxSource struct {
	file *excelize.File
	rows *excelize.Rows
}

func openXLSX(path string) (*xlsxSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", path, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("unable to read sheet %s: %w", sheets[0], err)
	}
	return &xlsxSource{file: f, rows: rows}, nil
}

func (s *xlsxSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns()
}

func (s *xlsxSource) Close() error {
	if err := s.rows.Close(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseLine maps a record onto a settlement line. It returns the line's
// currency, or def when the file carries none.
func parseLine(record []string, row int, cols Columns, def string) (models.SettlementLine, string, error) {
	line := models.SettlementLine{
		Row:            row,
		TrackingNumber: cell(record, cols.TrackingNumber),
		WeightUnit:     strings.ToLower(cell(record, cols.WeightUnit)),
		Zone:           cell(record, cols.Zone),
		DocumentName:   cell(record, cols.DocumentName),
	}
	if line.WeightUnit == "" {
		line.WeightUnit = "lb"
	}

	var err error
	if line.Amount, err = parseMoney(cell(record, cols.Amount)); err != nil {
		return line, "", fmt.Errorf("invalid amount: %w", err)
	}
	if raw := cell(record, cols.Weight); raw != "" {
		if line.Weight, err = parseMoney(raw); err != nil {
			return line, "", fmt.Errorf("invalid weight: %w", err)
		}
	}

	currency := strings.ToUpper(cell(record, cols.Currency))
	if currency == "" {
		currency = def
	}
	return line, currency, nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	raw = strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	return decimal.NewFromString(raw)
}
