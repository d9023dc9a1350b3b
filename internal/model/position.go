package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the materialized holding for one (account, instrument) pair.
// It is derived from the ledger and owned entirely by the reconciliation
// service; a position with zero quantity is never stored.
type Position struct {
	AccountID      int64
	Instrument     string
	InstrumentName string
	Quantity       int
	AvgCost        decimal.Decimal
	TotalCost      decimal.Decimal
	Currency       string
	LastEffective  time.Time
}

// PairKey identifies the (account, instrument) pair a position belongs to.
type PairKey struct {
	AccountID  int64
	Instrument string
}

func (p Position) Key() PairKey {
	return PairKey{AccountID: p.AccountID, Instrument: p.Instrument}
}
