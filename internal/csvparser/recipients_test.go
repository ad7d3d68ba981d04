package csvparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRecipients(t *testing.T) {
	t.Parallel()

	input := "Email, Name, plan\n" +
		"ana@example.com, Ana, pro\n" +
		"broken-row\n" +
		", Nobody, free\n" +
		"bo@example.com, , free\n"

	res, err := ParseRecipients(strings.NewReader(input), 0)
	require.NoError(t, err)
	require.False(t, res.Truncated)
	require.Len(t, res.Rows, 2)

	require.Equal(t, "ana@example.com", res.Rows[0].Email)
	require.Equal(t, "Ana", res.Rows[0].Name)
	require.Equal(t, map[string]string{"plan": "pro"}, res.Rows[0].Fields)
	require.Equal(t, 2, res.Rows[0].Line)

	require.Equal(t, "bo@example.com", res.Rows[1].Email)
	require.Empty(t, res.Rows[1].Name)
	require.Equal(t, 5, res.Rows[1].Line)

	require.Len(t, res.Rejected, 2)
	require.Equal(t, 3, res.Rejected[0].Line)
	require.Equal(t, "broken-row", res.Rejected[0].Email)
	require.ErrorIs(t, res.Rejected[0].Err, ErrColumnCount)
	require.Equal(t, 4, res.Rejected[1].Line)
	require.ErrorIs(t, res.Rejected[1].Err, ErrEmptyEmail)
}

func TestParseRecipients_MaxRows(t *testing.T) {
	t.Parallel()

	input := "email\na@example.com\nb@example.com\nc@example.com\n"

	res, err := ParseRecipients(strings.NewReader(input), 2)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "b@example.com", res.Rows[1].Email)
	require.True(t, res.Truncated)

	// Exactly at the cap is not truncation.
	res, err = ParseRecipients(strings.NewReader(input), 3)
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	require.False(t, res.Truncated)
}

func TestParseRecipients_OnlyRejectedRows(t *testing.T) {
	t.Parallel()

	res, err := ParseRecipients(strings.NewReader("email,name\n,Ana\nx@example.com\n"), 10)
	require.NoError(t, err)
	require.Empty(t, res.Rows)
	require.Len(t, res.Rejected, 2)
	require.ErrorIs(t, res.Rejected[0].Err, ErrEmptyEmail)
	require.ErrorIs(t, res.Rejected[1].Err, ErrColumnCount)
	require.Equal(t, "x@example.com", res.Rejected[1].Email)
}

func TestParseRecipients_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		err   error
	}{
		{name: "empty input", input: "", err: ErrEmptyHeader},
		{name: "no email column", input: "name,plan\nAna,pro\n", err: ErrNoEmailColumn},
		{name: "header only", input: "email,name\n", err: ErrNoRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseRecipients(strings.NewReader(tt.input), 10)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRecipientRow_Vars(t *testing.T) {
	t.Parallel()

	row := RecipientRow{
		Email:  "ana@example.com",
		Name:   "Ana",
		Fields: map[string]string{"plan": "pro"},
	}
	require.Equal(t, map[string]any{
		"email": "ana@example.com",
		"name":  "Ana",
		"plan":  "pro",
	}, row.Vars())

	// A column named like a built-in key wins.
	row.Fields["email"] = "override"
	require.Equal(t, "override", row.Vars()["email"])

	row = RecipientRow{Email: "bo@example.com"}
	_, hasName := row.Vars()["name"]
	require.False(t, hasName)
}
