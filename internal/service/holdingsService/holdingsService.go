// Package holdingsService is the single mutation path for the transaction
// ledger. Every create, edit or delete of a trade goes through here and is
// followed, inside the same transaction scope, by a recomputation of the
// affected (account, instrument) position, so the projection store never
// observably lags the ledger.
package holdingsService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vkuzmenko/holdings_engine/config"
	"github.com/vkuzmenko/holdings_engine/data/repository"
	"github.com/vkuzmenko/holdings_engine/internal/calculator"
	"github.com/vkuzmenko/holdings_engine/internal/keylock"
	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/internal/model/instrumentModel"
	"github.com/vkuzmenko/holdings_engine/internal/service"
	"github.com/vkuzmenko/holdings_engine/utils"
)

type Ledger interface {
	InsertTransaction(ctx context.Context, tx model.Transaction) (txID int64, err error)
	GetTransaction(ctx context.Context, txID int64) (model.Transaction, error)
	UpdateTransaction(ctx context.Context, tx model.Transaction) error
	DeleteTransaction(ctx context.Context, txID int64) error
	ListTradeTransactions(ctx context.Context, accountID int64, instrument string) ([]model.Transaction, error)
	ListTransactionsPage(ctx context.Context, accountID int64, limit, offset int) (txs []model.Transaction, hasNextPage bool, err error)
	ListTradePairs(ctx context.Context, accountID int64) ([]model.PairKey, error)
	GetAccount(ctx context.Context, accountID int64) (model.Account, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
}

type ProjectionStore interface {
	UpsertPosition(ctx context.Context, pos model.Position) error
	DeletePosition(ctx context.Context, accountID int64, instrument string) error
	GetPosition(ctx context.Context, accountID int64, instrument string) (model.Position, error)
	ListPositionsByAccount(ctx context.Context, accountID int64) ([]model.Position, error)
	ListPositionPairs(ctx context.Context, accountID int64) ([]model.PairKey, error)
}

type TxManager interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
}

type InstrumentApi interface {
	GetInstrumentInfo(ctx context.Context, ticker string) (instrumentModel.InstrumentInfo, error)
}

type Notifier interface {
	SendAlert(ctx context.Context, text string)
}

// MutationResult is what every mutation operation returns: the transaction it
// touched and the state of the affected position afterwards. Removed means the
// pair no longer holds anything and its materialized position was deleted;
// Affected is false for non-trade kinds, which never touch positions.
type MutationResult struct {
	TxID     int64
	Affected bool
	Removed  bool
	Position model.Position
}

type HoldingsService struct {
	cfg        *config.Config
	ledger     Ledger
	projection ProjectionStore
	txManager  TxManager
	instrApi   InstrumentApi
	notifier   Notifier
	locks      *keylock.KeyLock

	// optional export collaborators, see WithExport
	reportGen    ReportGenerator
	cloudStorage CloudStorage
}

func New(cfg *config.Config, ledger Ledger, projection ProjectionStore, txManager TxManager, instrApi InstrumentApi, notifier Notifier) *HoldingsService {
	return &HoldingsService{
		cfg:        cfg,
		ledger:     ledger,
		projection: projection,
		txManager:  txManager,
		instrApi:   instrApi,
		notifier:   notifier,
		locks:      keylock.New(),
	}
}

func pairLockKey(accountID int64, instrument string) string {
	return fmt.Sprintf("pair:%d:%s", accountID, instrument)
}

func accountLockKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

// lockPairs serializes work on the given pairs: a shared lock per distinct
// account plus an exclusive lock per pair, all acquired in sorted key order so
// concurrent multi-pair edits cannot deadlock. Acquisition is bounded by the
// configured lock timeout and reported as ErrConcurrency when it expires.
func (s *HoldingsService) lockPairs(ctx context.Context, pairs []model.PairKey) (release func(), err error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.LockTimeout)
	defer cancel()

	accountKeys := make(map[string]struct{})
	pairKeys := make(map[string]struct{})
	for _, pair := range pairs {
		accountKeys[accountLockKey(pair.AccountID)] = struct{}{}
		pairKeys[pairLockKey(pair.AccountID, pair.Instrument)] = struct{}{}
	}

	var releases []func()
	release = func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range sortedKeys(accountKeys) {
		rel, err := s.locks.RLock(lockCtx, key)
		if err != nil {
			release()
			return nil, service.ErrConcurrency
		}
		releases = append(releases, rel)
	}

	for _, key := range sortedKeys(pairKeys) {
		rel, err := s.locks.Lock(lockCtx, key)
		if err != nil {
			release()
			return nil, service.ErrConcurrency
		}
		releases = append(releases, rel)
	}

	return release, nil
}

func (s *HoldingsService) lockAccount(ctx context.Context, accountID int64) (release func(), err error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.LockTimeout)
	defer cancel()

	release, err = s.locks.Lock(lockCtx, accountLockKey(accountID))
	if err != nil {
		return nil, service.ErrConcurrency
	}
	return release, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// checkOwnership loads the account and verifies it belongs to the requesting
// user before any mutation touches it.
func (s *HoldingsService) checkOwnership(ctx context.Context, accountID, userID int64) error {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		return err
	}
	if account.UserID != userID {
		return service.ErrForbidden
	}
	return nil
}

func (s *HoldingsService) RecordTransaction(ctx context.Context, userID int64, tx model.Transaction) (res MutationResult, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.RecordTransaction"

	slog.Debug("RecordTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", tx.AccountID), slog.String("instrument", tx.Instrument))
	defer func() {
		if err != nil {
			slog.Error("RecordTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RecordTransaction finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("txID", res.TxID))
		}
	}()

	if err = s.checkOwnership(ctx, tx.AccountID, userID); err != nil {
		return MutationResult{}, err
	}

	tx, err = s.prepareTransaction(ctx, tx)
	if err != nil {
		return MutationResult{}, err
	}

	if !tx.Kind.IsTrade() {
		txID, err := s.ledger.InsertTransaction(ctx, tx)
		if err != nil {
			return MutationResult{}, err
		}
		return MutationResult{TxID: txID}, nil
	}

	release, err := s.lockPairs(ctx, []model.PairKey{{AccountID: tx.AccountID, Instrument: tx.Instrument}})
	if err != nil {
		return MutationResult{}, err
	}
	defer release()

	err = s.txManager.WithinTransaction(ctx, func(ctx context.Context) error {
		txID, err := s.ledger.InsertTransaction(ctx, tx)
		if err != nil {
			return err
		}

		pos, removed, err := s.reconcilePair(ctx, tx.AccountID, tx.Instrument, txID)
		if err != nil {
			return err
		}

		res = MutationResult{TxID: txID, Affected: true, Removed: removed, Position: pos}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	return res, nil
}

func (s *HoldingsService) EditTransaction(ctx context.Context, userID, txID int64, patch model.TransactionPatch) (res MutationResult, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.EditTransaction"

	slog.Debug("EditTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("txID", txID))
	defer func() {
		if err != nil {
			slog.Error("EditTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("EditTransaction finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	oldTx, err := s.ledger.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return MutationResult{}, service.ErrNotFound
		}
		return MutationResult{}, err
	}

	if err = s.checkOwnership(ctx, oldTx.AccountID, userID); err != nil {
		return MutationResult{}, err
	}

	newTx := patch.Apply(oldTx)
	if newTx.AccountID != oldTx.AccountID {
		if err = s.checkOwnership(ctx, newTx.AccountID, userID); err != nil {
			return MutationResult{}, err
		}
	}

	newTx, err = s.prepareTransaction(ctx, newTx)
	if err != nil {
		return MutationResult{}, err
	}

	// the old and the new pair may differ when account or instrument changed;
	// both must be reconciled
	var affected []model.PairKey
	if oldTx.Kind.IsTrade() {
		affected = append(affected, oldTx.Key())
	}
	if newTx.Kind.IsTrade() && (len(affected) == 0 || newTx.Key() != oldTx.Key()) {
		affected = append(affected, newTx.Key())
	}

	if len(affected) == 0 {
		if err = s.ledger.UpdateTransaction(ctx, newTx); err != nil {
			return MutationResult{}, err
		}
		return MutationResult{TxID: txID}, nil
	}

	release, err := s.lockPairs(ctx, affected)
	if err != nil {
		return MutationResult{}, err
	}
	defer release()

	err = s.txManager.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.ledger.UpdateTransaction(ctx, newTx); err != nil {
			return err
		}

		res = MutationResult{TxID: txID}
		for _, pair := range affected {
			pos, removed, err := s.reconcilePair(ctx, pair.AccountID, pair.Instrument, txID)
			if err != nil {
				return err
			}
			if newTx.Kind.IsTrade() && pair == newTx.Key() {
				res = MutationResult{TxID: txID, Affected: true, Removed: removed, Position: pos}
			}
		}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	return res, nil
}

func (s *HoldingsService) DeleteTransaction(ctx context.Context, userID, txID int64) (res MutationResult, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.DeleteTransaction"

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("txID", txID))
	defer func() {
		if err != nil {
			slog.Error("DeleteTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteTransaction finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	// capture the pair before the row is gone
	tx, err := s.ledger.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return MutationResult{}, service.ErrNotFound
		}
		return MutationResult{}, err
	}

	if err = s.checkOwnership(ctx, tx.AccountID, userID); err != nil {
		return MutationResult{}, err
	}

	if !tx.Kind.IsTrade() {
		if err = s.ledger.DeleteTransaction(ctx, txID); err != nil {
			return MutationResult{}, err
		}
		return MutationResult{TxID: txID}, nil
	}

	release, err := s.lockPairs(ctx, []model.PairKey{tx.Key()})
	if err != nil {
		return MutationResult{}, err
	}
	defer release()

	err = s.txManager.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.ledger.DeleteTransaction(ctx, txID); err != nil {
			return err
		}

		pos, removed, err := s.reconcilePair(ctx, tx.AccountID, tx.Instrument, txID)
		if err != nil {
			return err
		}

		res = MutationResult{TxID: txID, Affected: true, Removed: removed, Position: pos}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	return res, nil
}

// Reconcile recomputes one pair from the ledger and writes the result to the
// projection store. It is idempotent and safe to call at any time; mutation
// operations call the same path internally.
func (s *HoldingsService) Reconcile(ctx context.Context, accountID int64, instrument string) (pos model.Position, removed bool, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.Reconcile"

	slog.Debug("Reconcile start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID), slog.String("instrument", instrument))
	defer func() {
		if err != nil {
			slog.Error("Reconcile failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("Reconcile finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	release, err := s.lockPairs(ctx, []model.PairKey{{AccountID: accountID, Instrument: instrument}})
	if err != nil {
		return model.Position{}, false, err
	}
	defer release()

	err = s.txManager.WithinTransaction(ctx, func(ctx context.Context) error {
		pos, removed, err = s.reconcilePair(ctx, accountID, instrument, 0)
		return err
	})
	if err != nil {
		return model.Position{}, false, err
	}

	return pos, removed, nil
}

// reconcilePair is the read-compute-write core. Callers hold the pair lock and
// run it inside a transaction scope. causeTxID is the mutated transaction, for
// error context only.
func (s *HoldingsService) reconcilePair(ctx context.Context, accountID int64, instrument string, causeTxID int64) (pos model.Position, removed bool, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.reconcilePair"

	txs, err := s.ledger.ListTradeTransactions(ctx, accountID, instrument)
	if err != nil {
		return model.Position{}, false, err
	}

	pos, ok, issues := calculator.Calculate(txs)

	for _, issue := range issues {
		slog.Warn("oversell clamped to zero", slog.String("rqID", rqID), slog.String("op", op), slog.String("issue", issue.String()))
	}

	if !ok {
		err = s.projection.DeletePosition(ctx, accountID, instrument)
		if err != nil {
			return model.Position{}, false, s.consistencyError(ctx, accountID, instrument, causeTxID, err)
		}
		return model.Position{}, true, nil
	}

	err = s.projection.UpsertPosition(ctx, pos)
	if err != nil {
		return model.Position{}, false, s.consistencyError(ctx, accountID, instrument, causeTxID, err)
	}

	return pos, false, nil
}

// consistencyError wraps a failed projection write with enough context to
// drive a targeted rebuild, logs it and alerts ops. It is never swallowed.
func (s *HoldingsService) consistencyError(ctx context.Context, accountID int64, instrument string, txID int64, cause error) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	cErr := &service.ConsistencyError{AccountID: accountID, Instrument: instrument, TxID: txID, Err: cause}

	slog.Error(
		"projection diverged from ledger",
		slog.String("rqID", rqID),
		slog.Int64("accountID", accountID),
		slog.String("instrument", instrument),
		slog.Int64("txID", txID),
		slog.String("err", cause.Error()),
	)

	if s.notifier != nil {
		s.notifier.SendAlert(context.WithoutCancel(ctx), cErr.Error())
	}

	return cErr
}

// RebuildAccount re-derives every position of the account from the ledger,
// removing stale projection entries whose pair no longer has trades. Recovery
// path when drift between ledger and projection is suspected.
func (s *HoldingsService) RebuildAccount(ctx context.Context, accountID int64) (rebuilt int, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.RebuildAccount"

	slog.Debug("RebuildAccount start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("RebuildAccount failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RebuildAccount finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("rebuilt", rebuilt))
		}
	}()

	// exclusive account scope: no individual reconciliation may run concurrently
	release, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer release()

	err = s.txManager.WithinTransaction(ctx, func(ctx context.Context) error {
		pairs, err := s.affectedPairs(ctx, accountID)
		if err != nil {
			return err
		}

		for _, pair := range pairs {
			if _, _, err := s.reconcilePair(ctx, pair.AccountID, pair.Instrument, 0); err != nil {
				return err
			}
			rebuilt++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return rebuilt, nil
}

// RebuildAll rebuilds every account known to the ledger, one account scope at
// a time.
func (s *HoldingsService) RebuildAll(ctx context.Context) (rebuilt int, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.RebuildAll"

	slog.Debug("RebuildAll start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("RebuildAll failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RebuildAll finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("rebuilt", rebuilt))
		}
	}()

	accountIDs, err := s.ledger.ListAccountIDs(ctx)
	if err != nil {
		return 0, err
	}

	for _, accountID := range accountIDs {
		n, err := s.RebuildAccount(ctx, accountID)
		if err != nil {
			return rebuilt, err
		}
		rebuilt += n
	}

	return rebuilt, nil
}

// affectedPairs is the union of pairs with trades in the ledger and pairs with
// a stored position, so rebuilds also clean up positions whose trades are gone.
func (s *HoldingsService) affectedPairs(ctx context.Context, accountID int64) ([]model.PairKey, error) {
	ledgerPairs, err := s.ledger.ListTradePairs(ctx, accountID)
	if err != nil {
		return nil, err
	}

	storedPairs, err := s.projection.ListPositionPairs(ctx, accountID)
	if err != nil {
		return nil, err
	}

	seen := make(map[model.PairKey]struct{}, len(ledgerPairs)+len(storedPairs))
	pairs := make([]model.PairKey, 0, len(ledgerPairs)+len(storedPairs))
	for _, pair := range append(ledgerPairs, storedPairs...) {
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}

func (s *HoldingsService) GetHoldings(ctx context.Context, userID, accountID int64) (positions []model.Position, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.GetHoldings"

	slog.Debug("GetHoldings start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("GetHoldings failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetHoldings finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	if err = s.checkOwnership(ctx, accountID, userID); err != nil {
		return nil, err
	}

	return s.projection.ListPositionsByAccount(ctx, accountID)
}

func (s *HoldingsService) ListTransactions(ctx context.Context, userID, accountID int64, limit, offset int) (txs []model.Transaction, hasNextPage bool, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.ListTransactions"

	slog.Debug("ListTransactions start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("ListTransactions failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListTransactions finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	if err = s.checkOwnership(ctx, accountID, userID); err != nil {
		return nil, false, err
	}

	return s.ledger.ListTransactionsPage(ctx, accountID, limit, offset)
}
