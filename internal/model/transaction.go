package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxKind is the closed set of transaction kinds. Only Buy and Sell participate
// in the position math; the rest are cash-flow records kept in the ledger.
type TxKind string

const (
	KindBuy        TxKind = "BUY"
	KindSell       TxKind = "SELL"
	KindDividend   TxKind = "DIVIDEND"
	KindDeposit    TxKind = "DEPOSIT"
	KindWithdrawal TxKind = "WITHDRAWAL"
)

func (k TxKind) Valid() bool {
	switch k {
	case KindBuy, KindSell, KindDividend, KindDeposit, KindWithdrawal:
		return true
	}
	return false
}

// IsTrade reports whether the kind affects holdings.
func (k TxKind) IsTrade() bool {
	return k == KindBuy || k == KindSell
}

// Transaction is one ledger entry. EffectiveAt is the ordering key for position
// math; CreatedAt is audit only and must never influence the calculation.
type Transaction struct {
	TxID           int64
	AccountID      int64
	Instrument     string
	InstrumentName string
	Kind           TxKind
	Quantity       int
	Price          decimal.Decimal
	TotalAmount    decimal.Decimal
	Fee            decimal.Decimal
	Currency       string
	EffectiveAt    time.Time
	CreatedAt      time.Time
}

// Key returns the (account, instrument) pair the transaction contributes to.
func (t Transaction) Key() PairKey {
	return PairKey{AccountID: t.AccountID, Instrument: t.Instrument}
}

// TransactionPatch carries the editable fields of a transaction. Nil means
// "leave unchanged".
type TransactionPatch struct {
	AccountID      *int64
	Instrument     *string
	InstrumentName *string
	Kind           *TxKind
	Quantity       *int
	Price          *decimal.Decimal
	TotalAmount    *decimal.Decimal
	Fee            *decimal.Decimal
	Currency       *string
	EffectiveAt    *time.Time
}

// Apply returns a copy of tx with the non-nil patch fields substituted.
func (p TransactionPatch) Apply(tx Transaction) Transaction {
	if p.AccountID != nil {
		tx.AccountID = *p.AccountID
	}
	if p.Instrument != nil {
		tx.Instrument = *p.Instrument
	}
	if p.InstrumentName != nil {
		tx.InstrumentName = *p.InstrumentName
	}
	if p.Kind != nil {
		tx.Kind = *p.Kind
	}
	if p.Quantity != nil {
		tx.Quantity = *p.Quantity
	}
	if p.Price != nil {
		tx.Price = *p.Price
	}
	if p.TotalAmount != nil {
		tx.TotalAmount = *p.TotalAmount
	}
	if p.Fee != nil {
		tx.Fee = *p.Fee
	}
	if p.Currency != nil {
		tx.Currency = *p.Currency
	}
	if p.EffectiveAt != nil {
		tx.EffectiveAt = *p.EffectiveAt
	}
	return tx
}
