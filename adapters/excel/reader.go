package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *zap.Logger
}

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader(filePath string, logger *zap.Logger) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataReader{filePath: filePath, fileType: fileType, logger: logger}
}

// ReadData reads the file into a header-keyed table
func (r *DataReader) ReadData() (*Table, error) {
	r.logger.Debug("reading input file", zap.String("type", r.fileType), zap.String("path", r.filePath))

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	case "xlsx":
		return r.readExcelData()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

// readExcelData reads the first sheet of the workbook
func (r *DataReader) readExcelData() (*Table, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("Excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheets[0], err)
	}
	r.logger.Debug("sheet read",
		zap.String("sheet", sheets[0]),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(startTime)))

	if len(rows) < 2 {
		return nil, fmt.Errorf("Excel file must have at least a header row and one data row")
	}
	return r.processRows(rows)
}

// readCSVData reads CSV data into structured format
func (r *DataReader) readCSVData() (*Table, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	readStart := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	r.logger.Debug("csv read", zap.Int("rows", len(rows)), zap.Duration("elapsed", time.Since(readStart)))

	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have at least a header row and one data row")
	}
	return r.processRows(rows)
}

// processRows converts raw string rows into a Table
func (r *DataReader) processRows(rows [][]string) (*Table, error) {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	seen := make(map[string]bool, len(headerRow))
	for i, header := range headerRow {
		h := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
		if h == "" {
			return nil, fmt.Errorf("column %d has an empty header", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
		headers[i] = h
	}

	var dataRows []RawRowData
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}

	r.logger.Debug("input file processed",
		zap.String("type", r.fileType),
		zap.Int("columns", len(headers)),
		zap.Int("rows", len(dataRows)))

	return &Table{Headers: headers, Rows: dataRows}, nil
}

// DetectEntityColumn finds the identifier column: the first of candidates
// present with unique values, falling back to the first column.
func (r *DataReader) DetectEntityColumn(data *Table, candidates []string) (string, error) {
	if len(data.Rows) == 0 {
		return "", fmt.Errorf("no data rows found")
	}
	for _, name := range candidates {
		if header, ok := data.Column(name); ok && isValidEntityColumn(data, header) {
			return header, nil
		}
	}
	if len(data.Headers) > 0 && isValidEntityColumn(data, data.Headers[0]) {
		return data.Headers[0], nil
	}
	return "", fmt.Errorf("could not detect a valid entity column")
}

// isValidEntityColumn checks that a column is mostly filled and never
// repeats a value. Rows with an empty id are rejected later.
func isValidEntityColumn(data *Table, columnName string) bool {
	values := make(map[string]bool, len(data.Rows))
	emptyCount := 0
	for _, row := range data.Rows {
		value := row[columnName]
		if value == "" {
			emptyCount++
			continue
		}
		if values[value] {
			return false
		}
		values[value] = true
	}
	return float64(emptyCount)/float64(len(data.Rows)) < 0.5
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
