package holdingsService

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vkuzmenko/holdings_engine/internal/externalApi"
	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/internal/service"
	"github.com/vkuzmenko/holdings_engine/utils"
)

// prepareTransaction validates the transaction and enriches missing
// instrument metadata from the directory. Nothing invalid reaches the ledger
// or the calculator.
func (s *HoldingsService) prepareTransaction(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	if !tx.Kind.Valid() {
		return model.Transaction{}, &service.ValidationError{Field: "kind", Reason: "unknown transaction kind"}
	}
	if tx.Quantity < 0 {
		return model.Transaction{}, &service.ValidationError{Field: "quantity", Reason: "must be non-negative"}
	}
	if tx.Price.IsNegative() {
		return model.Transaction{}, &service.ValidationError{Field: "price", Reason: "must be non-negative"}
	}
	if tx.TotalAmount.IsNegative() {
		return model.Transaction{}, &service.ValidationError{Field: "totalAmount", Reason: "must be non-negative"}
	}
	if tx.Fee.IsNegative() {
		return model.Transaction{}, &service.ValidationError{Field: "fee", Reason: "must be non-negative"}
	}
	if tx.EffectiveAt.IsZero() {
		return model.Transaction{}, &service.ValidationError{Field: "effectiveAt", Reason: "is required"}
	}

	if !tx.Kind.IsTrade() {
		// quantity carries no meaning for cash-flow kinds, stored fixed at 1
		tx.Quantity = 1
		if tx.Currency == "" {
			return model.Transaction{}, &service.ValidationError{Field: "currency", Reason: "is required"}
		}
		return tx, nil
	}

	if tx.Instrument == "" {
		return model.Transaction{}, &service.ValidationError{Field: "instrument", Reason: "is required for BUY/SELL"}
	}
	if tx.Quantity == 0 {
		return model.Transaction{}, &service.ValidationError{Field: "quantity", Reason: "must be positive for BUY/SELL"}
	}

	if tx.InstrumentName == "" || tx.Currency == "" {
		enriched, err := s.enrichInstrument(ctx, tx)
		if err != nil {
			return model.Transaction{}, err
		}
		tx = enriched
	}

	return tx, nil
}

func (s *HoldingsService) enrichInstrument(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.enrichInstrument"

	info, err := s.instrApi.GetInstrumentInfo(ctx, tx.Instrument)
	if err != nil {
		if errors.Is(err, externalApi.ErrNotFound) {
			slog.Warn("instrument not found in directory", slog.String("rqID", rqID), slog.String("op", op), slog.String("instrument", tx.Instrument))
			return model.Transaction{}, &service.ValidationError{Field: "instrument", Reason: "unknown instrument code"}
		}
		slog.Error("can't get instrument info from directory", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Transaction{}, err
	}

	if !info.Active {
		return model.Transaction{}, &service.ValidationError{Field: "instrument", Reason: "instrument is not active"}
	}

	if tx.InstrumentName == "" {
		tx.InstrumentName = info.Shortname
	}
	if tx.Currency == "" {
		tx.Currency = info.CurrencyID
	}

	return tx, nil
}
