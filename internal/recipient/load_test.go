package recipient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSV(t *testing.T) {
	t.Parallel()

	in := "name, email ,invoice\nAna, a@x.com, INV-1\nBo,b@x.com\n\n"
	got, err := LoadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []Recipient{
		{"name": "Ana", "email": "a@x.com", "invoice": "INV-1"},
		{"name": "Bo", "email": "b@x.com", "invoice": ""},
	}, got)
}

func TestLoadCSV_Empty(t *testing.T) {
	t.Parallel()

	got, err := LoadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadCSV_QuotedCommas(t *testing.T) {
	t.Parallel()

	got, err := LoadCSV(strings.NewReader("email,company\nc@x.com,\"Acme, Inc.\"\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme, Inc.", got[0]["company"])
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	in := `[{"Email":"b@x.com","age":42,"vip":true,"note":null}]`
	got, err := LoadJSON(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []Recipient{{"Email": "b@x.com", "age": "42", "vip": "true", "note": ""}}, got)
}

func TestLoadJSON_Invalid(t *testing.T) {
	t.Parallel()

	_, err := LoadJSON(strings.NewReader(`{"email":"not an array"}`))
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	in := "- email: a@x.com\n  name: Ana\n- EMAIL: c@x.com\n"
	got, err := LoadYAML(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []Recipient{
		{"email": "a@x.com", "name": "Ana"},
		{"EMAIL": "c@x.com"},
	}, got)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "list.csv")
	require.NoError(t, os.WriteFile(path, []byte("email\na@x.com\n"), 0o600))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []Recipient{{"email": "a@x.com"}}, got)

	bad := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o600))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "unsupported")

	_, err = LoadFile(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
