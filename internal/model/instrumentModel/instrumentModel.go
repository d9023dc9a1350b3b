package instrumentModel

// InstrumentInfo is the directory record for one listed instrument. The
// directory carries reference data only (no quotes).
type InstrumentInfo struct {
	Ticker     string `json:"ticker"`
	Shortname  string `json:"shortname"`
	CurrencyID string `json:"currency"`
	Active     bool   `json:"active"`
}

// RawInstrumentsInfo mirrors the ISS securities.json envelope: parallel column
// and row arrays.
type RawInstrumentsInfo struct {
	Securities struct {
		Columns []string `json:"columns"`
		Data    [][]any  `json:"data"`
	} `json:"securities"`
}
