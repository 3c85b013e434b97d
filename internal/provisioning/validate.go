package provisioning

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"chatflow-access-api/internal/domain"

	"github.com/go-playground/validator/v10"
)

// headerRows is added to a zero-based data row index to obtain the row
// number a spreadsheet shows: one for 1-indexing, one for the header.
const headerRows = 2

// RowError is one problem found in one row.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationError rejects a batch whose rows failed field validation.
// It lists every row error found.
type ValidationError struct {
	Errors []RowError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d row error(s) in upload", len(e.Errors))
}

// ValidatedRow is a row that passed field validation, with roles resolved
// to canonical identifiers.
type ValidatedRow struct {
	Row          int
	ChatflowID   string
	CourseID     string
	AllowedRoles []string
	IsActive     bool
}

// ValidatedBatch is the only input Commit accepts.
type ValidatedBatch struct {
	Rows []ValidatedRow
}

// ChatflowIDs returns the distinct chatflow ids of the batch, sorted.
func (b ValidatedBatch) ChatflowIDs() []string {
	return distinct(b.Rows, func(r ValidatedRow) string { return r.ChatflowID })
}

// CourseIDs returns the distinct course ids of the batch, sorted.
func (b ValidatedBatch) CourseIDs() []string {
	return distinct(b.Rows, func(r ValidatedRow) string { return r.CourseID })
}

var rowValidator = newRowValidator()

func newRowValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("csv"), ",", 2)[0]
	})
	return v
}

// Validate checks every row and collects every error before failing. A
// batch is returned only when no row has an error.
func Validate(rows []UploadRow) (ValidatedBatch, error) {
	batch := ValidatedBatch{Rows: make([]ValidatedRow, 0, len(rows))}
	var errs []RowError

	for i, raw := range rows {
		rowNum := i + headerRows
		row, rowErrs := validateRow(rowNum, raw)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}

	if len(errs) > 0 {
		return ValidatedBatch{}, &ValidationError{Errors: errs}
	}
	return batch, nil
}

func validateRow(rowNum int, raw UploadRow) (ValidatedRow, []RowError) {
	raw.ChatflowID = strings.TrimSpace(raw.ChatflowID)
	raw.CourseID = strings.TrimSpace(raw.CourseID)
	raw.AllowedRoles = strings.TrimSpace(raw.AllowedRoles)

	var errs []RowError

	if err := rowValidator.Struct(raw); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return ValidatedRow{}, []RowError{{Row: rowNum, Message: err.Error()}}
		}
		for _, fe := range fieldErrs {
			errs = append(errs, RowError{Row: rowNum, Field: fe.Field(), Message: fieldMessage(fe)})
		}
	}

	roles, roleErrs := resolveRoles(rowNum, raw.AllowedRoles)
	errs = append(errs, roleErrs...)
	if raw.AllowedRoles != "" && len(roles) == 0 {
		errs = append(errs, RowError{Row: rowNum, Field: ColumnAllowedRoles, Message: "no valid roles"})
	}

	if len(errs) > 0 {
		return ValidatedRow{}, errs
	}

	return ValidatedRow{
		Row:          rowNum,
		ChatflowID:   raw.ChatflowID,
		CourseID:     raw.CourseID,
		AllowedRoles: roles,
		IsActive:     ParseActive(raw.IsActive),
	}, nil
}

// resolveRoles maps each ';'-separated token to a canonical identifier.
// Unknown tokens are reported and dropped.
func resolveRoles(rowNum int, value string) ([]string, []RowError) {
	var (
		roles []string
		errs  []RowError
	)
	for _, token := range strings.Split(value, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		canonical, ok := domain.ResolveRoleLabel(token)
		if !ok {
			errs = append(errs, RowError{Row: rowNum, Field: ColumnAllowedRoles, Value: token, Message: "unknown role"})
			continue
		}
		roles = append(roles, canonical)
	}
	return domain.UniqueRoles(roles), errs
}

// ParseActive reads an is_active cell. Empty means true; otherwise only
// true, 1 and yes (any case) are true.
func ParseActive(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return true
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "invalid (" + fe.Tag() + ")"
	}
}

func distinct(rows []ValidatedRow, key func(ValidatedRow) string) []string {
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
