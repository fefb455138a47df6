package excel

// RawRowData represents a row of raw spreadsheet data as header → cell text
type RawRowData map[string]string

// Table represents one sheet or CSV file
type Table struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// Column returns the first header matching one of names, case-insensitively.
func (t *Table) Column(names ...string) (string, bool) {
	for _, name := range names {
		for _, h := range t.Headers {
			if equalFold(h, name) {
				return h, true
			}
		}
	}
	return "", false
}
