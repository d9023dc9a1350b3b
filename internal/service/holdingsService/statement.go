package holdingsService

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/utils"
)

// page size when draining the full ledger history for export
const statementPageSize = 500

type ReportGenerator interface {
	Generate(ctx context.Context, statement model.AccountStatement) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
	DeleteOldFiles(ctx context.Context, maxAge time.Duration) error
}

// WithExport wires the optional statement-export collaborators. Kept out of
// New so deployments without a drive integration simply omit it.
func (s *HoldingsService) WithExport(generator ReportGenerator, storage CloudStorage) *HoldingsService {
	s.reportGen = generator
	s.cloudStorage = storage
	return s
}

// ExportAccountStatement renders the account's ledger and holdings into a
// spreadsheet and uploads it, returning the download link.
func (s *HoldingsService) ExportAccountStatement(ctx context.Context, userID, accountID int64) (link string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.ExportAccountStatement"

	slog.Debug("ExportAccountStatement start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountID", accountID))
	defer func() {
		if err != nil {
			slog.Error("ExportAccountStatement failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ExportAccountStatement finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("link", link))
		}
	}()

	if s.reportGen == nil || s.cloudStorage == nil {
		return "", fmt.Errorf("statement export is not configured")
	}

	if err = s.checkOwnership(ctx, accountID, userID); err != nil {
		return "", err
	}

	statement, err := s.buildStatement(ctx, accountID)
	if err != nil {
		return "", err
	}

	fileBytes, ext, err := s.reportGen.Generate(ctx, statement)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("statement_%d_%s%s", accountID, time.Now().Format("2006-01-02"), ext)

	link, err = s.cloudStorage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
	if err != nil {
		return "", err
	}

	return link, nil
}

func (s *HoldingsService) buildStatement(ctx context.Context, accountID int64) (model.AccountStatement, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return model.AccountStatement{}, err
	}

	var txs []model.Transaction
	offset := 0
	for {
		page, hasNext, err := s.ledger.ListTransactionsPage(ctx, accountID, statementPageSize, offset)
		if err != nil {
			return model.AccountStatement{}, err
		}
		txs = append(txs, page...)
		if !hasNext {
			break
		}
		offset += statementPageSize
	}

	positions, err := s.projection.ListPositionsByAccount(ctx, accountID)
	if err != nil {
		return model.AccountStatement{}, err
	}

	return model.AccountStatement{Account: account, Transactions: txs, Positions: positions}, nil
}

// CleanupOldStatements removes uploads older than the configured age. Runs as
// a scheduled job.
func (s *HoldingsService) CleanupOldStatements(ctx context.Context) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "HoldingsService.CleanupOldStatements"

	slog.Debug("CleanupOldStatements start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("CleanupOldStatements failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CleanupOldStatements finished", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	if s.cloudStorage == nil {
		return nil
	}

	return s.cloudStorage.DeleteOldFiles(ctx, s.cfg.Jobs.StatementMaxFileAge)
}
