package settings

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleDefaults(t *testing.T) {
	s := New(t.TempDir())
	assert.Equal(t, DefaultTitle, s.Title())
}

func TestSetTitle(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.SetTitle("Family Calendar"))
	assert.Equal(t, "Family Calendar", s.Title())

	assert.ErrorIs(t, s.SetTitle(""), ErrEmptyTitle)
	assert.Equal(t, "Family Calendar", s.Title())
}

func TestSetTitlePreservesOtherKeys(t *testing.T) {
	s := New(t.TempDir())
	seed := `{"calendar_title":"Old","theme":"dark"}`
	require.NoError(t, os.WriteFile(s.path, []byte(seed), 0o600))

	require.NoError(t, s.SetTitle("New"))

	data, err := os.ReadFile(s.path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "New", doc["calendar_title"])
	assert.Equal(t, "dark", doc["theme"])
}

func TestTitleIgnoresCorruptFile(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, os.WriteFile(s.path, []byte("not json"), 0o600))
	assert.Equal(t, DefaultTitle, s.Title())
}
