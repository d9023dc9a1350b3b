package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	TxID           int64           `db:"tx_id"`
	AccountID      int64           `db:"account_id"`
	Instrument     string          `db:"instrument"`
	InstrumentName string          `db:"instrument_name"`
	Kind           string          `db:"kind"`
	Quantity       int             `db:"quantity"`
	Price          decimal.Decimal `db:"price"`
	TotalAmount    decimal.Decimal `db:"total_amount"`
	Fee            decimal.Decimal `db:"fee"`
	Currency       string          `db:"currency"`
	EffectiveAt    time.Time       `db:"effective_at"`
	CreatedAt      time.Time       `db:"dt_create"`
}
