package redisProjection

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkuzmenko/holdings_engine/data/repository"
	"github.com/vkuzmenko/holdings_engine/internal/model"
)

func newTestProjection(t *testing.T) (*RedisProjection, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client), srv, client
}

func position(accountID int64, instrument string, qty int, avgCost, totalCost string) model.Position {
	return model.Position{
		AccountID:      accountID,
		Instrument:     instrument,
		InstrumentName: instrument,
		Quantity:       qty,
		AvgCost:        decimal.RequireFromString(avgCost),
		TotalCost:      decimal.RequireFromString(totalCost),
		Currency:       "RUB",
		LastEffective:  time.Date(2024, time.March, 5, 12, 30, 0, 0, time.UTC),
	}
}

func TestKeyConstruction(t *testing.T) {
	assert.Equal(t, "position:42:SBER", positionKey(42, "SBER"))
	assert.Equal(t, "positions:acc:42", accountIndexKey(42))
	assert.Equal(t, "positions:accounts", accountsIndexKey)
}

func TestUpsertThenGetRoundTrip(t *testing.T) {
	proj, _, client := newTestProjection(t)
	ctx := context.Background()

	want := position(1, "SBER", 10, "100.5", "1005")
	require.NoError(t, proj.UpsertPosition(ctx, want))

	got, err := proj.GetPosition(ctx, 1, "SBER")
	require.NoError(t, err)

	assert.Equal(t, want.AccountID, got.AccountID)
	assert.Equal(t, want.Instrument, got.Instrument)
	assert.Equal(t, want.InstrumentName, got.InstrumentName)
	assert.Equal(t, want.Quantity, got.Quantity)
	assert.Equal(t, want.Currency, got.Currency)
	assert.True(t, want.AvgCost.Equal(got.AvgCost), "avg cost = %s", got.AvgCost)
	assert.True(t, want.TotalCost.Equal(got.TotalCost), "total cost = %s", got.TotalCost)
	assert.True(t, want.LastEffective.Equal(got.LastEffective))

	// index sets keep listing cheap; both must be maintained on upsert
	instruments, err := client.SMembers(ctx, accountIndexKey(1)).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"SBER"}, instruments)

	accounts, err := client.SMembers(ctx, accountsIndexKey).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, accounts)
}

func TestGetPositionMissing(t *testing.T) {
	proj, _, _ := newTestProjection(t)

	_, err := proj.GetPosition(context.Background(), 1, "SBER")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteRemovesValueAndIndexEntry(t *testing.T) {
	proj, _, client := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, proj.UpsertPosition(ctx, position(1, "SBER", 10, "100", "1000")))
	require.NoError(t, proj.UpsertPosition(ctx, position(1, "GAZP", 3, "150", "450")))

	require.NoError(t, proj.DeletePosition(ctx, 1, "SBER"))

	_, err := proj.GetPosition(ctx, 1, "SBER")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	instruments, err := client.SMembers(ctx, accountIndexKey(1)).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"GAZP"}, instruments)
}

func TestDeletePositionMissingIsNoError(t *testing.T) {
	proj, _, _ := newTestProjection(t)

	assert.NoError(t, proj.DeletePosition(context.Background(), 1, "SBER"))
}

func TestListPositionsByAccount(t *testing.T) {
	proj, _, _ := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, proj.UpsertPosition(ctx, position(1, "SBER", 10, "100", "1000")))
	require.NoError(t, proj.UpsertPosition(ctx, position(1, "GAZP", 3, "150", "450")))
	require.NoError(t, proj.UpsertPosition(ctx, position(2, "SBER", 7, "90", "630")))

	positions, err := proj.ListPositionsByAccount(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, pos := range positions {
		assert.Equal(t, int64(1), pos.AccountID)
	}
}

func TestListPositionsByAccountSkipsDanglingIndexEntries(t *testing.T) {
	proj, srv, _ := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, proj.UpsertPosition(ctx, position(1, "SBER", 10, "100", "1000")))
	require.NoError(t, proj.UpsertPosition(ctx, position(1, "GAZP", 3, "150", "450")))

	// value gone while the index still points at it
	srv.Del(positionKey(1, "SBER"))

	positions, err := proj.ListPositionsByAccount(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "GAZP", positions[0].Instrument)
}

func TestListPositionPairsSingleAccount(t *testing.T) {
	proj, _, _ := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, proj.UpsertPosition(ctx, position(1, "SBER", 10, "100", "1000")))
	require.NoError(t, proj.UpsertPosition(ctx, position(2, "GAZP", 3, "150", "450")))

	pairs, err := proj.ListPositionPairs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.PairKey{{AccountID: 1, Instrument: "SBER"}}, pairs)
}

func TestListPositionPairsGlobal(t *testing.T) {
	proj, _, client := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, proj.UpsertPosition(ctx, position(1, "SBER", 10, "100", "1000")))
	require.NoError(t, proj.UpsertPosition(ctx, position(2, "GAZP", 3, "150", "450")))

	// a corrupt member in the accounts index must be skipped, not fail the listing
	require.NoError(t, client.SAdd(ctx, accountsIndexKey, "not-an-id").Err())

	pairs, err := proj.ListPositionPairs(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.PairKey{
		{AccountID: 1, Instrument: "SBER"},
		{AccountID: 2, Instrument: "GAZP"},
	}, pairs)
}
