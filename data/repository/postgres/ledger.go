package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/vkuzmenko/holdings_engine/data/repository"
	"github.com/vkuzmenko/holdings_engine/internal/converter/dbConverter"
	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/internal/model/dbModel"
	"github.com/vkuzmenko/holdings_engine/utils"
)

func (r *Postgres) InsertTransaction(ctx context.Context, tx model.Transaction) (txID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransaction"
	query := `
		INSERT INTO transactions(account_id, instrument, instrument_name, kind, quantity, price, total_amount, fee, currency, effective_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING tx_id
	`

	slog.Debug("InsertTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransaction completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("txID", txID))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(
		ctx,
		query,
		tx.AccountID,
		tx.Instrument,
		tx.InstrumentName,
		string(tx.Kind),
		tx.Quantity,
		tx.Price,
		tx.TotalAmount,
		tx.Fee,
		tx.Currency,
		tx.EffectiveAt,
	).Scan(&txID)
	if err != nil {
		return 0, err
	}

	return txID, nil
}

func (r *Postgres) GetTransaction(ctx context.Context, txID int64) (tx model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransaction"
	query := `
		SELECT tx_id, account_id, instrument, instrument_name, kind, quantity, price, total_amount, fee, currency, effective_at, dt_create
		FROM transactions
		WHERE tx_id = $1
	`

	slog.Debug("GetTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("txID", txID))
	defer func() {
		if err != nil {
			slog.Error("GetTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbTx := dbModel.Transaction{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, txID).StructScan(&dbTx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, repository.ErrNotFound
		}
		return model.Transaction{}, err
	}

	return dbConverter.ConvertTransaction(dbTx), nil
}

func (r *Postgres) UpdateTransaction(ctx context.Context, tx model.Transaction) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateTransaction"
	query := `
		UPDATE transactions
		SET
			account_id = $1,
			instrument = $2,
			instrument_name = $3,
			kind = $4,
			quantity = $5,
			price = $6,
			total_amount = $7,
			fee = $8,
			currency = $9,
			effective_at = $10
		WHERE tx_id = $11
	`

	slog.Debug("UpdateTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("txID", tx.TxID))
	defer func() {
		if err != nil {
			slog.Error("UpdateTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		tx.AccountID,
		tx.Instrument,
		tx.InstrumentName,
		string(tx.Kind),
		tx.Quantity,
		tx.Price,
		tx.TotalAmount,
		tx.Fee,
		tx.Currency,
		tx.EffectiveAt,
		tx.TxID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *Postgres) DeleteTransaction(ctx context.Context, txID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteTransaction"
	query := `DELETE FROM transactions WHERE tx_id = $1`

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("txID", txID))
	defer func() {
		if err != nil {
			slog.Error("DeleteTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, txID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ListTradeTransactions returns all BUY/SELL transactions for the pair ordered
// by (effective_at, tx_id). The calculator sorts again defensively; the order
// here just keeps result sets stable for logging and paging.
func (r *Postgres) ListTradeTransactions(ctx context.Context, accountID int64, instrument string) (txs []model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListTradeTransactions"
	query := `
		SELECT tx_id, account_id, instrument, instrument_name, kind, quantity, price, total_amount, fee, currency, effective_at, dt_create
		FROM transactions
		WHERE account_id = $1
		AND instrument = $2
		AND kind IN ('BUY', 'SELL')
		ORDER BY effective_at, tx_id
	`

	slog.Debug("ListTradeTransactions start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID), slog.String("instrument", instrument))
	defer func() {
		if err != nil {
			slog.Error("ListTradeTransactions failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListTradeTransactions completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, accountID, instrument)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbTx dbModel.Transaction
		err = rows.StructScan(&dbTx)
		if err != nil {
			return nil, err
		}
		txs = append(txs, dbConverter.ConvertTransaction(dbTx))
	}

	return txs, nil
}

func (r *Postgres) ListTransactionsPage(ctx context.Context, accountID int64, limit, offset int) (txs []model.Transaction, hasNextPage bool, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListTransactionsPage"
	params := map[string]any{
		"accountID": accountID,
		"limit":     limit,
		"offset":    offset,
	}
	query := `
		SELECT tx_id, account_id, instrument, instrument_name, kind, quantity, price, total_amount, fee, currency, effective_at, dt_create
		FROM transactions
		WHERE account_id = $1
		ORDER BY effective_at DESC, tx_id DESC
		LIMIT $2
		OFFSET $3
	`

	slog.Debug("ListTransactionsPage start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("ListTransactionsPage failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListTransactionsPage completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	// select one extra row to know whether a next page exists
	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, accountID, limit+1, offset)
	if err != nil {
		return nil, false, err
	}

	defer rows.Close()

	i := 0
	txs = make([]model.Transaction, 0, limit)
	for rows.Next() {
		i++
		var dbTx dbModel.Transaction
		err = rows.StructScan(&dbTx)
		if err != nil {
			return nil, false, err
		}

		if i > limit {
			hasNextPage = true
			break
		}
		txs = append(txs, dbConverter.ConvertTransaction(dbTx))
	}

	return txs, hasNextPage, nil
}

// ListTradePairs returns the distinct (account, instrument) pairs that have at
// least one trade, for one account or (accountID == 0) for the whole ledger.
func (r *Postgres) ListTradePairs(ctx context.Context, accountID int64) (pairs []model.PairKey, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListTradePairs"
	query := `
		SELECT DISTINCT account_id, instrument
		FROM transactions
		WHERE kind IN ('BUY', 'SELL')
		AND ($1 = 0 OR account_id = $1)
		ORDER BY account_id, instrument
	`

	slog.Debug("ListTradePairs start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("ListTradePairs failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListTradePairs completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var pair model.PairKey
		err = rows.Scan(&pair.AccountID, &pair.Instrument)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}

func (r *Postgres) GetAccount(ctx context.Context, accountID int64) (account model.Account, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetAccount"
	query := `SELECT account_id, user_id, name, broker FROM accounts WHERE account_id = $1`

	slog.Debug("GetAccount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("GetAccount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetAccount completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbAcc := dbModel.Account{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, accountID).StructScan(&dbAcc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, repository.ErrNotFound
		}
		return model.Account{}, err
	}

	return dbConverter.ConvertAccount(dbAcc), nil
}

func (r *Postgres) ListAccountIDs(ctx context.Context) (accountIDs []int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListAccountIDs"
	query := `SELECT account_id FROM accounts ORDER BY account_id`

	slog.Debug("ListAccountIDs start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("ListAccountIDs failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListAccountIDs completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).SelectContext(ctx, &accountIDs, query)
	if err != nil {
		return nil, err
	}

	return accountIDs, nil
}
