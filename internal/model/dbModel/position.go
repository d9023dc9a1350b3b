package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type Position struct {
	AccountID      int64           `db:"account_id"`
	Instrument     string          `db:"instrument"`
	InstrumentName string          `db:"instrument_name"`
	Quantity       int             `db:"quantity"`
	AvgCost        decimal.Decimal `db:"avg_cost"`
	TotalCost      decimal.Decimal `db:"total_cost"`
	Currency       string          `db:"currency"`
	LastEffective  time.Time       `db:"last_effective_at"`
}

type Account struct {
	AccountID int64  `db:"account_id"`
	UserID    int64  `db:"user_id"`
	Name      string `db:"name"`
	Broker    string `db:"broker"`
}
