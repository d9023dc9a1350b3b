// Package instrumentApi resolves instrument reference data (display name,
// listing currency, active flag) from the exchange securities directory.
// Quotes are deliberately not requested: the engine only needs metadata.
package instrumentApi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/vkuzmenko/holdings_engine/config"
	"github.com/vkuzmenko/holdings_engine/internal/externalApi"
	"github.com/vkuzmenko/holdings_engine/internal/model/instrumentModel"
	"github.com/vkuzmenko/holdings_engine/utils"
)

type InstrumentApi struct {
	client *resty.Client
}

func New(cfg *config.Config) *InstrumentApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.InstrumentApi.Url)
	return &InstrumentApi{client: client}
}

func (a *InstrumentApi) GetInstrumentInfo(ctx context.Context, ticker string) (instrumentModel.InstrumentInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	url := "/iss/engines/stock/markets/shares/boards/TQBR/securities.json"
	params := map[string]string{
		"iss.meta":           "off",
		"iss.only":           "securities",
		"securities.columns": "SECID,SHORTNAME,CURRENCYID,STATUS",
		"securities":         ticker,
	}

	slog.Debug("start InstrumentApi.GetInstrumentInfo request", slog.String("rqID", rqID), slog.String("ticker", ticker))

	resp, err := a.client.R().
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		Get(url)

	if err != nil {
		slog.Error("error while dialing instrument directory", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return instrumentModel.InstrumentInfo{}, err
	}

	rawInfo := instrumentModel.RawInstrumentsInfo{}
	err = json.Unmarshal(resp.Body(), &rawInfo)
	if err != nil {
		slog.Error("can't unmarshal response into instrumentModel.RawInstrumentsInfo", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return instrumentModel.InstrumentInfo{}, err
	}

	res, err := a.parseRawSingle(rawInfo)
	if err != nil {
		slog.Error("can't parse raw data", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return instrumentModel.InstrumentInfo{}, err
	}

	slog.Debug("InstrumentApi.GetInstrumentInfo request complete", slog.String("rqID", rqID))

	return res, nil
}

func (a *InstrumentApi) parseRawSingle(rawInfo instrumentModel.RawInstrumentsInfo) (instrumentModel.InstrumentInfo, error) {
	if len(rawInfo.Securities.Data) == 0 {
		return instrumentModel.InstrumentInfo{}, externalApi.ErrNotFound
	}

	columns := make(map[string]int, len(rawInfo.Securities.Columns))
	for i, column := range rawInfo.Securities.Columns {
		columns[column] = i
	}

	row := rawInfo.Securities.Data[0]

	info := instrumentModel.InstrumentInfo{}

	var ok bool
	if info.Ticker, ok = stringAt(row, columns, "SECID"); !ok {
		return instrumentModel.InstrumentInfo{}, errors.New("missing SECID column")
	}
	if info.Shortname, ok = stringAt(row, columns, "SHORTNAME"); !ok {
		return instrumentModel.InstrumentInfo{}, errors.New("missing SHORTNAME column")
	}
	if info.CurrencyID, ok = stringAt(row, columns, "CURRENCYID"); !ok {
		return instrumentModel.InstrumentInfo{}, errors.New("missing CURRENCYID column")
	}

	status, ok := stringAt(row, columns, "STATUS")
	if !ok {
		return instrumentModel.InstrumentInfo{}, errors.New("missing STATUS column")
	}
	info.Active = status == "A"

	return info, nil
}

func stringAt(row []any, columns map[string]int, name string) (string, bool) {
	idx, ok := columns[name]
	if !ok || idx >= len(row) {
		return "", false
	}
	value, ok := row[idx].(string)
	if !ok {
		return fmt.Sprint(row[idx]), row[idx] != nil
	}
	return value, true
}
