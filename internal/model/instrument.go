package model

// Instrument is one row of the local instrument lookup database.
type Instrument struct {
	Symbol        string `json:"symbol"`
	InstrumentKey string `json:"instrument_key"`
	Name          string `json:"name"`
	Type          string `json:"instrument_type"` // EQUITY, INDEX
}
