package db

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_RequiresURL(t *testing.T) {
	_, err := NewPool(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoDatabaseURL)

	_, err = NewPool(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	sql, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	assert.Contains(t, string(sql), "CREATE TABLE IF NOT EXISTS orders")
}
