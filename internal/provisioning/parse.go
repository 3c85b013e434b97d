// Package provisioning implements bulk CSV provisioning of coarse chatflow
// permissions: Parse, Validate, CheckReferences, then Commit or CommitAll.
// Validation is all-or-nothing; the default commit is per-row best effort.
package provisioning

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// Column names of an upload file.
const (
	ColumnChatflowID   = "chatflow_id"
	ColumnCourseID     = "course_id"
	ColumnAllowedRoles = "allowed_roles"
	ColumnIsActive     = "is_active"
)

var requiredColumns = []string{ColumnChatflowID, ColumnCourseID, ColumnAllowedRoles}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoDataRows     = errors.New("file has a header but no data rows")
	ErrMissingColumns = errors.New("missing required columns")
	ErrMalformedCSV   = errors.New("malformed csv")
)

// ParseError rejects a whole upload before any row is examined.
type ParseError struct {
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UploadRow is one raw data row of an upload file.
type UploadRow struct {
	ChatflowID   string `csv:"chatflow_id" validate:"required,max=255"`
	CourseID     string `csv:"course_id" validate:"required,max=255"`
	AllowedRoles string `csv:"allowed_roles" validate:"required"`
	IsActive     string `csv:"is_active"`
}

// utf8BOM is prepended by spreadsheet exports.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads an upload file with a header row. Header names are matched
// case-insensitively; unknown columns are ignored.
func ParseCSV(r io.Reader) ([]UploadRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Err: ErrEmptyFile}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	in := &headerNormalizingReader{r: reader}
	if err := in.readHeader(); err != nil {
		return nil, err
	}

	var missing []string
	for _, col := range requiredColumns {
		if !in.has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ParseError{Err: ErrMissingColumns, Detail: strings.Join(missing, ", ")}
	}

	var rows []UploadRow
	if err := gocsv.UnmarshalCSV(in, &rows); err != nil {
		return nil, &ParseError{Err: ErrMalformedCSV, Detail: err.Error()}
	}

	rows = dropBlankRows(rows)
	if len(rows) == 0 {
		return nil, &ParseError{Err: ErrNoDataRows}
	}

	return rows, nil
}

// headerNormalizingReader feeds gocsv a lower-cased, trimmed header.
type headerNormalizingReader struct {
	r      *csv.Reader
	header []string
	served bool
}

func (h *headerNormalizingReader) readHeader() error {
	record, err := h.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &ParseError{Err: ErrEmptyFile}
		}
		return &ParseError{Err: ErrMalformedCSV, Detail: err.Error()}
	}
	h.header = make([]string, len(record))
	for i, name := range record {
		h.header[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return nil
}

func (h *headerNormalizingReader) has(column string) bool {
	for _, name := range h.header {
		if name == column {
			return true
		}
	}
	return false
}

func (h *headerNormalizingReader) Read() ([]string, error) {
	if !h.served {
		h.served = true
		return h.header, nil
	}
	return h.r.Read()
}

func (h *headerNormalizingReader) ReadAll() ([][]string, error) {
	records := make([][]string, 0, 16)
	for {
		record, err := h.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}

// dropBlankRows removes trailing rows whose every column is empty. Interior
// blank rows are kept so row numbers stay aligned with the spreadsheet.
func dropBlankRows(rows []UploadRow) []UploadRow {
	end := len(rows)
	for end > 0 && rows[end-1].isBlank() {
		end--
	}
	return rows[:end]
}

func (r UploadRow) isBlank() bool {
	return strings.TrimSpace(r.ChatflowID) == "" &&
		strings.TrimSpace(r.CourseID) == "" &&
		strings.TrimSpace(r.AllowedRoles) == "" &&
		strings.TrimSpace(r.IsActive) == ""
}
