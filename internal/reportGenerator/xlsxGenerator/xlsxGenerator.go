package xlsxGenerator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/utils"
	"github.com/xuri/excelize/v2"
)

const (
	holdingsSheet = "Holdings"
	historySheet  = "History"
)

type XLSXGenerator struct{}

func New() *XLSXGenerator {
	return &XLSXGenerator{}
}

func (g *XLSXGenerator) Generate(ctx context.Context, statement model.AccountStatement) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.Generate"

	if statement.Account.AccountID == 0 {
		return nil, "", errors.New("empty account in statement")
	}

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if err := g.fillHoldingsSheet(f, statement); err != nil {
		return nil, "", err
	}
	if err := g.fillHistorySheet(f, statement); err != nil {
		return nil, "", err
	}

	// drop the default sheet
	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{"#cfe2f3"},
		},
	})
}

func (g *XLSXGenerator) fillHoldingsSheet(f *excelize.File, statement model.AccountStatement) error {
	if _, err := f.NewSheet(holdingsSheet); err != nil {
		return err
	}

	if err := f.MergeCell(holdingsSheet, "A1", "F1"); err != nil {
		return err
	}
	f.SetCellValue(holdingsSheet, "A1", fmt.Sprintf("%s — current holdings", statement.Account.Name))

	styleID, err := headerStyle(f)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(holdingsSheet, "A1", "F1", styleID); err != nil {
		return err
	}

	_ = f.SetCellStr(holdingsSheet, "A2", "instrument")
	_ = f.SetCellStr(holdingsSheet, "B2", "name")
	_ = f.SetCellStr(holdingsSheet, "C2", "quantity")
	_ = f.SetCellStr(holdingsSheet, "D2", "avg cost")
	_ = f.SetCellStr(holdingsSheet, "E2", "total cost")
	_ = f.SetCellStr(holdingsSheet, "F2", "currency")

	for i, pos := range statement.Positions {
		row := i + 3
		_ = f.SetCellStr(holdingsSheet, fmt.Sprintf("A%d", row), pos.Instrument)
		_ = f.SetCellStr(holdingsSheet, fmt.Sprintf("B%d", row), pos.InstrumentName)
		_ = f.SetCellInt(holdingsSheet, fmt.Sprintf("C%d", row), pos.Quantity)
		_ = f.SetCellStr(holdingsSheet, fmt.Sprintf("D%d", row), pos.AvgCost.Round(4).String())
		_ = f.SetCellStr(holdingsSheet, fmt.Sprintf("E%d", row), pos.TotalCost.Round(2).String())
		_ = f.SetCellStr(holdingsSheet, fmt.Sprintf("F%d", row), pos.Currency)
	}

	return nil
}

func (g *XLSXGenerator) fillHistorySheet(f *excelize.File, statement model.AccountStatement) error {
	if _, err := f.NewSheet(historySheet); err != nil {
		return err
	}

	if err := f.MergeCell(historySheet, "A1", "H1"); err != nil {
		return err
	}
	f.SetCellValue(historySheet, "A1", fmt.Sprintf("%s — transaction history", statement.Account.Name))

	styleID, err := headerStyle(f)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(historySheet, "A1", "H1", styleID); err != nil {
		return err
	}

	_ = f.SetCellStr(historySheet, "A2", "date")
	_ = f.SetCellStr(historySheet, "B2", "kind")
	_ = f.SetCellStr(historySheet, "C2", "instrument")
	_ = f.SetCellStr(historySheet, "D2", "quantity")
	_ = f.SetCellStr(historySheet, "E2", "price")
	_ = f.SetCellStr(historySheet, "F2", "total")
	_ = f.SetCellStr(historySheet, "G2", "fee")
	_ = f.SetCellStr(historySheet, "H2", "currency")

	for i, tx := range statement.Transactions {
		row := i + 3
		_ = f.SetCellStr(historySheet, fmt.Sprintf("A%d", row), tx.EffectiveAt.Format("2006-01-02 15:04"))
		_ = f.SetCellStr(historySheet, fmt.Sprintf("B%d", row), string(tx.Kind))
		_ = f.SetCellStr(historySheet, fmt.Sprintf("C%d", row), tx.Instrument)
		_ = f.SetCellInt(historySheet, fmt.Sprintf("D%d", row), tx.Quantity)
		_ = f.SetCellStr(historySheet, fmt.Sprintf("E%d", row), tx.Price.Round(4).String())
		_ = f.SetCellStr(historySheet, fmt.Sprintf("F%d", row), tx.TotalAmount.Round(2).String())
		_ = f.SetCellStr(historySheet, fmt.Sprintf("G%d", row), tx.Fee.Round(2).String())
		_ = f.SetCellStr(historySheet, fmt.Sprintf("H%d", row), tx.Currency)
	}

	return nil
}
