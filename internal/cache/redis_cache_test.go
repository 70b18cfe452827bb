package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

func setupTestRedis(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSessionStoreWithClient(client, time.Hour), mr
}

func sampleSnapshot() domain.SessionSnapshot {
	override := decimal.RequireFromString("45.50")
	return domain.SessionSnapshot{
		ID:        "sess-1",
		Cashier:   "cashier",
		CreatedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 10, 1, 9, 5, 0, 0, time.UTC),
		Cart: domain.Cart{
			Lines: []domain.CartLine{
				{ProductID: "p1", Quantity: 2, Discount: decimal.RequireFromString("5")},
				{ProductID: "p2", Quantity: 1, Discount: decimal.Zero, PriceOverride: &override},
			},
			Discount: decimal.RequireFromString("10"),
		},
		PendingDiscount: &domain.PendingDiscount{Scope: "cart", Amount: decimal.RequireFromString("15")},
		Holds: []domain.HeldCart{
			{ID: "hold-1", HeldAt: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC), Lines: []domain.CartLine{{ProductID: "p3", Quantity: 4, Discount: decimal.Zero}}},
		},
	}
}

func TestRedisSessionStoreSaveAndLoad(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSnapshot()))
	assert.True(t, mr.Exists("tacshop:session:sess-1"))
	assert.Equal(t, time.Hour, mr.TTL("tacshop:session:sess-1"))

	snap, ok, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cashier", snap.Cashier)
	require.Len(t, snap.Cart.Lines, 2)
	assert.Equal(t, "45.5", snap.Cart.Lines[1].PriceOverride.String())
	assert.Equal(t, "10", snap.Cart.Discount.String())
	require.NotNil(t, snap.PendingDiscount)
	assert.Equal(t, "15", snap.PendingDiscount.Amount.String())
	require.Len(t, snap.Holds, 1)
	assert.Equal(t, 4, snap.Holds[0].Lines[0].Quantity)
}

func TestRedisSessionStoreMiss(t *testing.T) {
	store, _ := setupTestRedis(t)

	snap, ok, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestRedisSessionStoreInvalidPayload(t *testing.T) {
	store, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("tacshop:session:bad", "{not json"))

	_, ok, err := store.Load(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisSessionStoreExpiryAndDelete(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleSnapshot()))

	require.NoError(t, store.Delete(ctx, "sess-1"))
	assert.False(t, mr.Exists("tacshop:session:sess-1"))

	require.NoError(t, store.Save(ctx, sampleSnapshot()))
	mr.FastForward(2 * time.Hour)
	_, ok, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSessionStoreRejectsAnonymousSnapshot(t *testing.T) {
	store, _ := setupTestRedis(t)
	assert.Error(t, store.Save(context.Background(), domain.SessionSnapshot{}))
}

func TestRedisSessionStorePing(t *testing.T) {
	store, mr := setupTestRedis(t)
	assert.NoError(t, store.Ping(context.Background()))
	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
