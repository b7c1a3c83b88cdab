package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x "}))

	got := DSN(ClientConfig{Host: "db", Database: "sentibot", User: "bot", Password: "p@ss:word"})
	assert.Equal(t, "postgres://bot:p%40ss%3Aword@db:5432/sentibot?sslmode=disable", got)

	got = DSN(ClientConfig{Host: "db", Port: 6543, Database: "x", User: "u", SSLMode: "require"})
	assert.Equal(t, "postgres://u:@db:6543/x?sslmode=require", got)
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}
