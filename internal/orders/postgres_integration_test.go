package orders

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrashop/internal/db"
)

func TestPostgresStoreIntegration(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
		return
	}

	pool, err := db.NewPool(context.Background(), dbURL)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, db.Migrate(context.Background(), pool))

	store := NewPostgresStore(pool)
	svc := newService(t, store)

	o, err := svc.Place(context.Background(), PlaceCommand{
		ID:            uuid.New(),
		CustomerEmail: "integration@example.com",
		Prefecture:    "沖縄県",
		Method:        "standard",
		Subtotal:      4800,
		Items:         terrarium(),
	})
	require.NoError(t, err)
	defer func() { _, _ = pool.Exec(context.Background(), `DELETE FROM orders WHERE id = $1`, o.ID) }()

	got, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.GrandTotal, got.GrandTotal)
	assert.Equal(t, o.Quote.Dimensions, got.Quote.Dimensions)
	assert.Equal(t, o.Items, got.Items)
	assert.True(t, o.CreatedAt.Equal(got.CreatedAt))

	assert.ErrorIs(t, store.Insert(context.Background(), o), ErrDuplicate)

	_, err = store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
