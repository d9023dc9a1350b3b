package calculator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkuzmenko/holdings_engine/internal/model"
)

func day(n int) time.Time {
	return time.Date(2024, time.January, n, 10, 0, 0, 0, time.UTC)
}

func trade(id int64, kind model.TxKind, qty int, total string, effective time.Time) model.Transaction {
	return model.Transaction{
		TxID:           id,
		AccountID:      1,
		Instrument:     "SBER",
		InstrumentName: "Sberbank",
		Kind:           kind,
		Quantity:       qty,
		TotalAmount:    decimal.RequireFromString(total),
		Currency:       "RUB",
		EffectiveAt:    effective,
	}
}

func TestCalculateEmpty(t *testing.T) {
	_, ok, issues := Calculate(nil)
	assert.False(t, ok)
	assert.Empty(t, issues)
}

func TestCalculateSingleBuy(t *testing.T) {
	pos, ok, issues := Calculate([]model.Transaction{
		trade(1, model.KindBuy, 10, "1000", day(1)),
	})

	require.True(t, ok)
	assert.Empty(t, issues)
	assert.Equal(t, 10, pos.Quantity)
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(100)), "avg cost = %s", pos.AvgCost)
	assert.True(t, pos.TotalCost.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "SBER", pos.Instrument)
	assert.Equal(t, "RUB", pos.Currency)
	assert.True(t, pos.LastEffective.Equal(day(1)))
}

func TestCalculateWeightedAverageOnMultipleBuys(t *testing.T) {
	pos, ok, _ := Calculate([]model.Transaction{
		trade(1, model.KindBuy, 10, "1000", day(1)), // 10 @ 100
		trade(2, model.KindBuy, 10, "2000", day(2)), // 10 @ 200
	})

	require.True(t, ok)
	assert.Equal(t, 20, pos.Quantity)
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(150)), "avg cost = %s", pos.AvgCost)
	assert.True(t, pos.TotalCost.Equal(decimal.NewFromInt(3000)))
}

func TestCalculatePartialSellKeepsAverageCost(t *testing.T) {
	pos, ok, issues := Calculate([]model.Transaction{
		trade(1, model.KindBuy, 100, "1000", day(1)), // 100 @ 10
		trade(2, model.KindSell, 40, "400", day(2)),
	})

	require.True(t, ok)
	assert.Empty(t, issues)
	assert.Equal(t, 60, pos.Quantity)
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(10)), "avg cost = %s", pos.AvgCost)
	assert.True(t, pos.TotalCost.Equal(decimal.NewFromInt(600)), "total cost = %s", pos.TotalCost)
}

func TestCalculateFullLiquidationRemovesPosition(t *testing.T) {
	_, ok, issues := Calculate([]model.Transaction{
		trade(1, model.KindBuy, 10, "50", day(1)),
		trade(2, model.KindSell, 10, "50", day(2)),
	})

	assert.False(t, ok)
	assert.Empty(t, issues, "selling exactly the held quantity is not an integrity issue")
}

func TestCalculateOversellClampsAndFlags(t *testing.T) {
	pos, ok, issues := Calculate([]model.Transaction{
		trade(1, model.KindBuy, 10, "1000", day(1)),
		trade(2, model.KindSell, 15, "1500", day(2)),
		trade(3, model.KindBuy, 5, "600", day(3)),
	})

	require.Len(t, issues, 1)
	assert.Equal(t, int64(2), issues[0].TxID)
	assert.Equal(t, 10, issues[0].Held)
	assert.Equal(t, 15, issues[0].Sold)

	// the oversell clamps to zero, the later buy stands on its own
	require.True(t, ok)
	assert.Equal(t, 5, pos.Quantity)
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(120)), "avg cost = %s", pos.AvgCost)
}

func TestCalculateSellWithNothingHeld(t *testing.T) {
	_, ok, issues := Calculate([]model.Transaction{
		trade(1, model.KindSell, 5, "500", day(1)),
	})

	assert.False(t, ok)
	require.Len(t, issues, 1)
	assert.Equal(t, 0, issues[0].Held)
}

func TestCalculateIgnoresNonTradeKinds(t *testing.T) {
	pos, ok, _ := Calculate([]model.Transaction{
		trade(1, model.KindBuy, 10, "1000", day(1)),
		trade(2, model.KindDividend, 1, "37.50", day(2)),
		trade(3, model.KindDeposit, 1, "5000", day(3)),
		trade(4, model.KindWithdrawal, 1, "200", day(4)),
	})

	require.True(t, ok)
	assert.Equal(t, 10, pos.Quantity)
	assert.True(t, pos.TotalCost.Equal(decimal.NewFromInt(1000)))
	// non-trade entries also don't contribute metadata
	assert.True(t, pos.LastEffective.Equal(day(1)))
}

func TestCalculateSortsByEffectiveDateNotInputOrder(t *testing.T) {
	// sell arrives first in the slice but is effective later
	pos, ok, issues := Calculate([]model.Transaction{
		trade(2, model.KindSell, 5, "500", day(5)),
		trade(1, model.KindBuy, 10, "1000", day(1)),
	})

	require.True(t, ok)
	assert.Empty(t, issues)
	assert.Equal(t, 5, pos.Quantity)
}

func TestCalculateSameTimestampOrderInvariance(t *testing.T) {
	txs := []model.Transaction{
		trade(1, model.KindBuy, 10, "1000", day(1)),
		trade(2, model.KindBuy, 10, "2000", day(1)),
		trade(3, model.KindSell, 5, "750", day(1)),
	}

	want, wantOK, _ := Calculate(txs)
	require.True(t, wantOK)

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]model.Transaction, len(txs))
		copy(shuffled, txs)
		rnd.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got, ok, _ := Calculate(shuffled)
		require.True(t, ok)
		assert.Equal(t, want.Quantity, got.Quantity)
		assert.True(t, want.AvgCost.Equal(got.AvgCost), "want %s got %s", want.AvgCost, got.AvgCost)
		assert.True(t, want.TotalCost.Equal(got.TotalCost))
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	txs := []model.Transaction{
		trade(1, model.KindBuy, 30, "3000", day(1)),
		trade(2, model.KindSell, 10, "1100", day(2)),
		trade(3, model.KindBuy, 20, "2600", day(3)),
	}

	first, ok1, _ := Calculate(txs)
	second, ok2, _ := Calculate(txs)

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, first.Quantity, second.Quantity)
	assert.True(t, first.AvgCost.Equal(second.AvgCost))
	assert.True(t, first.TotalCost.Equal(second.TotalCost))
}

func TestCalculateMetadataFromLatestTrade(t *testing.T) {
	older := trade(1, model.KindBuy, 10, "1000", day(1))
	older.InstrumentName = "Old Name"
	older.Currency = "USD"

	newer := trade(2, model.KindBuy, 5, "700", day(9))
	newer.InstrumentName = "New Name"
	newer.Currency = "RUB"

	pos, ok, _ := Calculate([]model.Transaction{newer, older})

	require.True(t, ok)
	assert.Equal(t, "New Name", pos.InstrumentName)
	assert.Equal(t, "RUB", pos.Currency)
	assert.True(t, pos.LastEffective.Equal(day(9)))
}

func TestCalculateDoesNotMutateInput(t *testing.T) {
	txs := []model.Transaction{
		trade(2, model.KindSell, 5, "500", day(5)),
		trade(1, model.KindBuy, 10, "1000", day(1)),
	}

	_, _, _ = Calculate(txs)

	assert.Equal(t, int64(2), txs[0].TxID, "input slice order must stay untouched")
}
