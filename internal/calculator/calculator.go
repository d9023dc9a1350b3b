// Package calculator derives a position from the trade history of one
// (account, instrument) pair. It is pure: no I/O, no side effects, safe to run
// on any snapshot of the ledger.
package calculator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vkuzmenko/holdings_engine/internal/model"
)

// IntegrityIssue flags a sell that exceeded the quantity held at that point of
// the history. The calculation clamps at zero instead of going negative; the
// issue is reported so callers can log and surface it.
type IntegrityIssue struct {
	TxID       int64
	AccountID  int64
	Instrument string
	Held       int
	Sold       int
}

func (i IntegrityIssue) String() string {
	return fmt.Sprintf("sell %d exceeds held %d (tx_id=%d account_id=%d instrument=%s)", i.Sold, i.Held, i.TxID, i.AccountID, i.Instrument)
}

// Calculate folds the given transactions into a single position using the
// weighted-average cost method. Non-trade kinds are ignored. The input is
// sorted by (effective date, tx id) before folding, so callers do not have to
// pass it ordered and same-timestamp entries fold deterministically.
//
// ok is false when the resulting quantity is zero: the pair holds nothing and
// any materialized position for it must be deleted.
func Calculate(txs []model.Transaction) (pos model.Position, ok bool, issues []IntegrityIssue) {
	ordered := make([]model.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Kind.IsTrade() {
			ordered = append(ordered, tx)
		}
	}

	if len(ordered) == 0 {
		return model.Position{}, false, nil
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].EffectiveAt.Equal(ordered[j].EffectiveAt) {
			return ordered[i].EffectiveAt.Before(ordered[j].EffectiveAt)
		}
		return ordered[i].TxID < ordered[j].TxID
	})

	quantity := 0
	totalCost := decimal.Zero

	for _, tx := range ordered {
		switch tx.Kind {
		case model.KindBuy:
			quantity += tx.Quantity
			totalCost = totalCost.Add(tx.TotalAmount)
		case model.KindSell:
			if tx.Quantity >= quantity {
				if tx.Quantity > quantity {
					issues = append(issues, IntegrityIssue{
						TxID:       tx.TxID,
						AccountID:  tx.AccountID,
						Instrument: tx.Instrument,
						Held:       quantity,
						Sold:       tx.Quantity,
					})
				}
				quantity = 0
				totalCost = decimal.Zero
				continue
			}
			// selling at average cost: total cost shrinks proportionally,
			// average cost stays constant
			sellRatio := decimal.NewFromInt(int64(tx.Quantity)).Div(decimal.NewFromInt(int64(quantity)))
			totalCost = totalCost.Mul(decimal.NewFromInt(1).Sub(sellRatio))
			quantity -= tx.Quantity
		case model.KindDividend, model.KindDeposit, model.KindWithdrawal:
			// never affect holdings
		}
	}

	if quantity <= 0 {
		return model.Position{}, false, issues
	}

	// metadata reflects the latest known truth, not the first trade
	last := ordered[len(ordered)-1]

	pos = model.Position{
		AccountID:      last.AccountID,
		Instrument:     last.Instrument,
		InstrumentName: last.InstrumentName,
		Quantity:       quantity,
		AvgCost:        totalCost.Div(decimal.NewFromInt(int64(quantity))),
		TotalCost:      totalCost,
		Currency:       last.Currency,
		LastEffective:  last.EffectiveAt,
	}

	return pos, true, issues
}
