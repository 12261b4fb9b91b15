package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"0001_entity_windows.sql", "0002_processed_entities.sql"}, names)

	raw, err := migrationFS.ReadFile("migrations/0001_entity_windows.sql")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "PRIMARY KEY (entity_id, kind)"))
}

func TestModels_TableNames(t *testing.T) {
	assert.Equal(t, "entity_windows", windowModel{}.TableName())
	assert.Equal(t, "processed_entities", processedModel{}.TableName())
}
