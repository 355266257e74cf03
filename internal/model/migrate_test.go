package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCurrentShape(t *testing.T) {
	raw := []byte(`{"entries":[{"id":42,"title":"Standup","author":"Alice","startDate":"2024-03-01","endDate":"2024-03-01","timestamp":"2024-03-01T09:00:00Z"}]}`)

	c, err := Migrate(raw)
	require.NoError(t, err)
	require.Len(t, c.Entries, 1)
	assert.Equal(t, int64(42), c.Entries[0].ID)
	assert.Equal(t, "Standup", c.Entries[0].Title)
}

func TestMigrateLegacyShape(t *testing.T) {
	raw := []byte(`{
		"2024-03-01": [
			{"title":"Standup","author":"Alice","timestamp":"2024-03-01T09:00:00Z"},
			{"title":"Review","description":"sprint review","author":"Bob","timestamp":"2024-03-01T10:00:00Z"}
		],
		"2024-03-02": [
			{"title":"Retro","author":"Alice","timestamp":"2024-03-02T09:00:00Z"}
		]
	}`)

	c, err := Migrate(raw)
	require.NoError(t, err)
	require.Len(t, c.Entries, 3)

	seen := make(map[int64]bool)
	for _, e := range c.Entries {
		assert.NotZero(t, e.ID, "legacy entries get synthesized ids")
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
		assert.Equal(t, e.StartDate, e.EndDate, "legacy entries span their date key")
	}
	assert.Equal(t, "2024-03-01", c.Entries[0].StartDate)
	assert.Equal(t, "2024-03-02", c.Entries[2].StartDate)
	assert.Equal(t, "sprint review", c.Entries[1].Description)
}

func TestMigrateIdempotent(t *testing.T) {
	raw := []byte(`{"2024-03-01":[{"title":"Standup","author":"Alice","timestamp":"2024-03-01T09:00:00Z"}]}`)

	once, err := Migrate(raw)
	require.NoError(t, err)

	data, err := json.Marshal(once)
	require.NoError(t, err)

	twice, err := Migrate(data)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestMigrateEmptyDocuments(t *testing.T) {
	for _, raw := range []string{"", "null", "[]", "{}", "  []\n"} {
		c, err := Migrate([]byte(raw))
		require.NoError(t, err, "input %q", raw)
		assert.NotNil(t, c.Entries, "input %q", raw)
		assert.Empty(t, c.Entries, "input %q", raw)
	}
}

func TestMigrateMalformed(t *testing.T) {
	_, err := Migrate([]byte(`{"entries":"nope"}`))
	assert.Error(t, err)

	_, err = Migrate([]byte(`not json`))
	assert.Error(t, err)
}
