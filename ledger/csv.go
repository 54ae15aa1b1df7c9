package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RawRow is one ledger record keyed by its source column name
type RawRow map[string]string

// Table is a decoded CSV ledger
type Table struct {
	Header []string
	Rows   []RawRow
	// Malformed counts records that had more cells than the header
	Malformed int
}

// ReadCSV decodes a brokerage CSV export. Short records are padded with empty cells
// and records wider than the header are counted as malformed and dropped.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read CSV header: empty input")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	table := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				table.Malformed++
				continue
			}
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if len(record) > len(header) {
			table.Malformed++
			continue
		}

		row := make(RawRow, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// ParseCSV reads and normalizes a ledger in one step
func ParseCSV(r io.Reader) (Result, error) {
	table, err := ReadCSV(r)
	if err != nil {
		return Result{}, err
	}
	if !recognizesAny(table.Header) {
		return Result{}, ErrNoRecognizedColumns
	}
	res, err := Normalize(table.Rows)
	if err != nil {
		return Result{}, err
	}
	res.Skipped += table.Malformed
	return res, nil
}
