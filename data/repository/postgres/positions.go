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

func (r *Postgres) UpsertPosition(ctx context.Context, pos model.Position) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpsertPosition"
	query := `
		INSERT INTO positions(account_id, instrument, instrument_name, quantity, avg_cost, total_cost, currency, last_effective_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, instrument) DO UPDATE SET
			instrument_name = EXCLUDED.instrument_name,
			quantity = EXCLUDED.quantity,
			avg_cost = EXCLUDED.avg_cost,
			total_cost = EXCLUDED.total_cost,
			currency = EXCLUDED.currency,
			last_effective_at = EXCLUDED.last_effective_at
	`

	slog.Debug("UpsertPosition start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", pos.AccountID), slog.String("instrument", pos.Instrument))
	defer func() {
		if err != nil {
			slog.Error("UpsertPosition failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpsertPosition completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		pos.AccountID,
		pos.Instrument,
		pos.InstrumentName,
		pos.Quantity,
		pos.AvgCost,
		pos.TotalCost,
		pos.Currency,
		pos.LastEffective,
	)
	if err != nil {
		return err
	}

	return nil
}

// DeletePosition removes the materialized position for the pair. A missing row
// is not an error: deletion is idempotent with the "no position" result.
func (r *Postgres) DeletePosition(ctx context.Context, accountID int64, instrument string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeletePosition"
	query := `DELETE FROM positions WHERE account_id = $1 AND instrument = $2`

	slog.Debug("DeletePosition start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID), slog.String("instrument", instrument))
	defer func() {
		if err != nil {
			slog.Error("DeletePosition failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeletePosition completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, accountID, instrument)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetPosition(ctx context.Context, accountID int64, instrument string) (pos model.Position, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPosition"
	query := `
		SELECT account_id, instrument, instrument_name, quantity, avg_cost, total_cost, currency, last_effective_at
		FROM positions
		WHERE account_id = $1
		AND instrument = $2
	`

	slog.Debug("GetPosition start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID), slog.String("instrument", instrument))
	defer func() {
		if err != nil {
			slog.Error("GetPosition failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPosition completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbPos := dbModel.Position{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, accountID, instrument).StructScan(&dbPos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Position{}, repository.ErrNotFound
		}
		return model.Position{}, err
	}

	return dbConverter.ConvertPosition(dbPos), nil
}

func (r *Postgres) ListPositionsByAccount(ctx context.Context, accountID int64) (positions []model.Position, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListPositionsByAccount"
	query := `
		SELECT account_id, instrument, instrument_name, quantity, avg_cost, total_cost, currency, last_effective_at
		FROM positions
		WHERE account_id = $1
		ORDER BY instrument
	`

	slog.Debug("ListPositionsByAccount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("ListPositionsByAccount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListPositionsByAccount completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbPos dbModel.Position
		err = rows.StructScan(&dbPos)
		if err != nil {
			return nil, err
		}
		positions = append(positions, dbConverter.ConvertPosition(dbPos))
	}

	return positions, nil
}

// ListPositionPairs returns the keys of every stored position for the account,
// or for the whole table when accountID == 0. Used by rebuild and drift checks
// to find stale entries whose pair no longer has trades in the ledger.
func (r *Postgres) ListPositionPairs(ctx context.Context, accountID int64) (pairs []model.PairKey, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListPositionPairs"
	query := `
		SELECT account_id, instrument
		FROM positions
		WHERE ($1 = 0 OR account_id = $1)
		ORDER BY account_id, instrument
	`

	slog.Debug("ListPositionPairs start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("ListPositionPairs failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListPositionPairs completed", slog.String("rqID", rqID), slog.String("op", op))
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
