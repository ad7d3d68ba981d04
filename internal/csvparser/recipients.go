package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxRows caps a recipient file when the caller does not.
const DefaultMaxRows = 1000

var (
	ErrEmptyHeader   = errors.New("csv header row is empty")
	ErrNoEmailColumn = errors.New("csv must contain an Email column")
	ErrNoRows        = errors.New("csv must contain at least one data row")
	ErrColumnCount   = errors.New("wrong number of columns")
	ErrEmptyEmail    = errors.New("email is empty")
)

// RecipientRow represents a single recipient extracted from a CSV.
// Email is taken from the "Email" column and Name from an optional "Name"
// column (both case-insensitive). Fields contains every other column
// (header -> value) and is used as the template variable bag.
type RecipientRow struct {
	Line   int
	Email  string
	Name   string
	Fields map[string]string
}

// Vars returns the row as template variables. The recipient's email and name
// are exposed as "email" and "name" unless a column already uses those keys.
func (r RecipientRow) Vars() map[string]any {
	vars := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		vars[k] = v
	}
	if _, ok := vars["email"]; !ok {
		vars["email"] = r.Email
	}
	if _, ok := vars["name"]; !ok && r.Name != "" {
		vars["name"] = r.Name
	}
	return vars
}

// RejectedRow is a data row that could not be turned into a recipient.
type RejectedRow struct {
	Line  int
	Email string
	Err   error
}

// Recipients is the outcome of parsing a recipient file.
type Recipients struct {
	Rows     []RecipientRow
	Rejected []RejectedRow
	// Truncated is set when data rows remained after the row cap was reached.
	Truncated bool
}

// ParseRecipients parses a CSV from an io.Reader. The CSV must contain a header row
// with an "Email" column (case-insensitive). Rows with the wrong number of columns or
// an empty email are returned in Rejected with their line number.
//
// maxRows limits how many data rows are read (excluding header).
func ParseRecipients(r io.Reader, maxRows int) (Recipients, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return Recipients{}, ErrEmptyHeader
	}
	if err != nil {
		return Recipients{}, fmt.Errorf("read csv header: %w", err)
	}

	emailIdx, nameIdx := -1, -1
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		normalized[i] = h
		switch {
		case strings.EqualFold(h, "email"):
			emailIdx = i
		case strings.EqualFold(h, "name"):
			nameIdx = i
		}
	}
	if len(headers) == 1 && normalized[0] == "" {
		return Recipients{}, ErrEmptyHeader
	}
	if emailIdx == -1 {
		return Recipients{}, ErrNoEmailColumn
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	res := Recipients{Rows: make([]RecipientRow, 0)}
	read := 0
	for ; read < maxRows; read++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Recipients{}, fmt.Errorf("read csv row: %w", err)
		}
		line, _ := reader.FieldPos(0)

		var email string
		if emailIdx < len(record) {
			email = strings.TrimSpace(record[emailIdx])
		}
		if len(record) != len(headers) {
			res.Rejected = append(res.Rejected, RejectedRow{
				Line:  line,
				Email: email,
				Err:   fmt.Errorf("%w: got %d, want %d", ErrColumnCount, len(record), len(headers)),
			})
			continue
		}
		if email == "" {
			res.Rejected = append(res.Rejected, RejectedRow{Line: line, Err: ErrEmptyEmail})
			continue
		}

		row := RecipientRow{
			Line:   line,
			Email:  email,
			Fields: make(map[string]string, len(headers)-1),
		}
		if nameIdx != -1 {
			row.Name = strings.TrimSpace(record[nameIdx])
		}
		for i := range record {
			if i == emailIdx || i == nameIdx {
				continue
			}
			key := normalized[i]
			if key == "" {
				continue
			}
			row.Fields[key] = strings.TrimSpace(record[i])
		}

		res.Rows = append(res.Rows, row)
	}

	if read == maxRows {
		if _, err := reader.Read(); err != io.EOF {
			res.Truncated = true
		}
	}

	if len(res.Rows) == 0 && len(res.Rejected) == 0 {
		return Recipients{}, ErrNoRows
	}

	return res, nil
}
