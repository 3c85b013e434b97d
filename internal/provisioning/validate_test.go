package provisioning

import (
	"errors"
	"strings"
	"testing"

	"chatflow-access-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	t.Run("header and rows", func(t *testing.T) {
		in := "chatflow_id,course_id,allowed_roles,is_active\ncf-1,c-1,Instructor;Learner,true\ncf-2,c-1,Learner,\n"

		rows, err := ParseCSV(strings.NewReader(in))

		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, UploadRow{ChatflowID: "cf-1", CourseID: "c-1", AllowedRoles: "Instructor;Learner", IsActive: "true"}, rows[0])
		assert.Equal(t, "", rows[1].IsActive)
	})

	t.Run("bom, header case and column order", func(t *testing.T) {
		in := "\xEF\xBB\xBF Allowed_Roles , COURSE_ID,chatflow_id\nLearner,c-1,cf-1\n"

		rows, err := ParseCSV(strings.NewReader(in))

		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "cf-1", rows[0].ChatflowID)
		assert.Equal(t, "c-1", rows[0].CourseID)
		assert.Equal(t, "Learner", rows[0].AllowedRoles)
	})

	t.Run("optional is_active column absent", func(t *testing.T) {
		rows, err := ParseCSV(strings.NewReader("chatflow_id,course_id,allowed_roles\ncf-1,c-1,Learner\n"))

		require.NoError(t, err)
		assert.Equal(t, "", rows[0].IsActive)
	})

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty file", "", ErrEmptyFile},
		{"whitespace only", "  \n\n", ErrEmptyFile},
		{"header only", "chatflow_id,course_id,allowed_roles\n", ErrNoDataRows},
		{"blank trailing rows only", "chatflow_id,course_id,allowed_roles\n,,\n", ErrNoDataRows},
		{"missing column", "chatflow_id,allowed_roles\ncf-1,Learner\n", ErrMissingColumns},
		{"unterminated quote", "chatflow_id,course_id,allowed_roles\n\"cf-1,c-1,Learner\n", ErrMalformedCSV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ParseCSV(strings.NewReader(tt.input))

			assert.Nil(t, rows)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			var parseErr *ParseError
			assert.True(t, errors.As(err, &parseErr))
		})
	}
}

func TestParseCSV_MissingColumnsNamed(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("chatflow_id\ncf-1\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "course_id")
	assert.Contains(t, err.Error(), "allowed_roles")
}

func TestValidate_ResolvesRolesAndDefaults(t *testing.T) {
	rows := []UploadRow{
		{ChatflowID: " cf-1 ", CourseID: "c-1", AllowedRoles: "Instructor; student ;" + domain.RoleMentor},
		{ChatflowID: "cf-2", CourseID: "c-1", AllowedRoles: "urn:lti:role:custom#Observer", IsActive: "No"},
	}

	batch, err := Validate(rows)

	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)

	first := batch.Rows[0]
	assert.Equal(t, 2, first.Row)
	assert.Equal(t, "cf-1", first.ChatflowID)
	assert.Equal(t, []string{domain.RoleInstructor, domain.RoleLearner, domain.RoleMentor}, first.AllowedRoles)
	assert.True(t, first.IsActive)

	second := batch.Rows[1]
	assert.Equal(t, 3, second.Row)
	assert.Equal(t, []string{"urn:lti:role:custom#Observer"}, second.AllowedRoles)
	assert.False(t, second.IsActive)

	assert.Equal(t, []string{"cf-1", "cf-2"}, batch.ChatflowIDs())
	assert.Equal(t, []string{"c-1"}, batch.CourseIDs())
}

func TestValidate_CollectsEveryRowError(t *testing.T) {
	rows := []UploadRow{
		{ChatflowID: "cf-1", CourseID: "c-1", AllowedRoles: "Learner"},
		{ChatflowID: "", CourseID: "", AllowedRoles: "Learner"},
		{ChatflowID: "cf-3", CourseID: "c-1", AllowedRoles: "Wizard;Learner"},
		{ChatflowID: "cf-4", CourseID: "c-1", AllowedRoles: "Wizard; Sorcerer"},
		{ChatflowID: "cf-5", CourseID: "c-1", AllowedRoles: ""},
	}

	batch, err := Validate(rows)

	assert.Empty(t, batch.Rows)
	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))

	byRow := map[int][]RowError{}
	for _, e := range valErr.Errors {
		byRow[e.Row] = append(byRow[e.Row], e)
	}

	assert.NotContains(t, byRow, 2)

	require.Len(t, byRow[3], 2)
	assert.ElementsMatch(t, []string{ColumnChatflowID, ColumnCourseID}, []string{byRow[3][0].Field, byRow[3][1].Field})

	require.Len(t, byRow[4], 1)
	assert.Equal(t, "Wizard", byRow[4][0].Value)
	assert.Equal(t, "unknown role", byRow[4][0].Message)

	require.Len(t, byRow[5], 3)
	assert.Equal(t, "no valid roles", byRow[5][2].Message)

	require.Len(t, byRow[6], 1)
	assert.Equal(t, ColumnAllowedRoles, byRow[6][0].Field)
	assert.Equal(t, "required", byRow[6][0].Message)
}

func TestValidate_FieldTooLong(t *testing.T) {
	rows := []UploadRow{{ChatflowID: strings.Repeat("x", 256), CourseID: "c-1", AllowedRoles: "Learner"}}

	_, err := Validate(rows)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	require.Len(t, valErr.Errors, 1)
	assert.Equal(t, ColumnChatflowID, valErr.Errors[0].Field)
	assert.Equal(t, "must be at most 255 characters", valErr.Errors[0].Message)
}

func TestParseActive(t *testing.T) {
	for value, want := range map[string]bool{
		"":      true,
		"true":  true,
		"TRUE":  true,
		" 1 ":   true,
		"Yes":   true,
		"false": false,
		"0":     false,
		"no":    false,
		"maybe": false,
	} {
		assert.Equal(t, want, ParseActive(value), "value %q", value)
	}
}
