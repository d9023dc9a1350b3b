package holdingsService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vkuzmenko/holdings_engine/data/repository"
	"github.com/vkuzmenko/holdings_engine/internal/calculator"
	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/internal/service"
	"github.com/vkuzmenko/holdings_engine/utils"
)

// Drift describes one pair whose stored position differs from what the
// calculator derives from the ledger.
type Drift struct {
	Pair   model.PairKey
	Stored *model.Position // nil when the projection has no entry
	Want   *model.Position // nil when the ledger yields no position
}

func (d Drift) String() string {
	return fmt.Sprintf("drift account_id=%d instrument=%s stored=%+v want=%+v", d.Pair.AccountID, d.Pair.Instrument, d.Stored, d.Want)
}

// VerifyAll recomputes every known pair from the ledger and compares against
// the projection store. Detected drift is logged and alerted; with auto-repair
// enabled each drifted pair is reconciled in place. Runs as a scheduled job.
func (s *HoldingsService) VerifyAll(ctx context.Context) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.VerifyAll"

	slog.Debug("VerifyAll start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("VerifyAll failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("VerifyAll finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	drifts, err := s.VerifyAccount(ctx, 0)
	if err != nil {
		return err
	}

	if len(drifts) == 0 {
		return nil
	}

	if s.notifier != nil {
		s.notifier.SendAlert(ctx, fmt.Sprintf("holdings drift detected: %d pair(s) diverged from ledger", len(drifts)))
	}

	if !s.cfg.Jobs.DriftAutoRepair {
		return nil
	}

	for _, drift := range drifts {
		if _, _, err := s.Reconcile(ctx, drift.Pair.AccountID, drift.Pair.Instrument); err != nil {
			return err
		}
	}
	slog.Info("drift repaired", slog.String("rqID", rqID), slog.String("op", op), slog.Int("pairs", len(drifts)))

	return nil
}

// VerifyAccount compares stored positions with ledger-derived ones for a
// single account, or for the whole system when accountID == 0. Read-only.
func (s *HoldingsService) VerifyAccount(ctx context.Context, accountID int64) (drifts []Drift, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.VerifyAccount"

	slog.Debug("VerifyAccount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("VerifyAccount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("VerifyAccount finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("drifts", len(drifts)))
		}
	}()

	pairs, err := s.affectedPairs(ctx, accountID)
	if err != nil {
		return nil, err
	}

	for _, pair := range pairs {
		drift, drifted, err := s.verifyPair(ctx, pair)
		if err != nil {
			return nil, err
		}
		if drifted {
			slog.Warn("projection drift", slog.String("rqID", rqID), slog.String("op", op), slog.String("drift", drift.String()))
			drifts = append(drifts, drift)
		}
	}

	return drifts, nil
}

func (s *HoldingsService) verifyPair(ctx context.Context, pair model.PairKey) (Drift, bool, error) {
	txs, err := s.ledger.ListTradeTransactions(ctx, pair.AccountID, pair.Instrument)
	if err != nil {
		return Drift{}, false, err
	}

	want, wantExists, _ := calculator.Calculate(txs)

	stored, err := s.projection.GetPosition(ctx, pair.AccountID, pair.Instrument)
	storedExists := true
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, service.ErrNotFound) {
			return Drift{}, false, err
		}
		storedExists = false
	}

	if !wantExists && !storedExists {
		return Drift{}, false, nil
	}

	if wantExists && storedExists && positionsEqual(stored, want) {
		return Drift{}, false, nil
	}

	drift := Drift{Pair: pair}
	if storedExists {
		storedCopy := stored
		drift.Stored = &storedCopy
	}
	if wantExists {
		wantCopy := want
		drift.Want = &wantCopy
	}

	return drift, true, nil
}

// monetary fields are compared at the persistence precision (4 decimal
// places), otherwise a freshly computed position would always "drift" from its
// stored copy
func positionsEqual(a, b model.Position) bool {
	return a.AccountID == b.AccountID &&
		a.Instrument == b.Instrument &&
		a.InstrumentName == b.InstrumentName &&
		a.Quantity == b.Quantity &&
		a.AvgCost.Round(4).Equal(b.AvgCost.Round(4)) &&
		a.TotalCost.Round(4).Equal(b.TotalCost.Round(4)) &&
		a.Currency == b.Currency &&
		a.LastEffective.Equal(b.LastEffective)
}
