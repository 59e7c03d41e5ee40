package common

import "fmt"

// Instrument identifies a tradeable option (or, for underlyings used in
// tests, a plain equity-like symbol). Instruments are created once at
// startup by the venue and are immutable thereafter.
type Instrument struct {
	Symbol     string // unique identity
	Underlying string
	Strike     *float64 // optional: absent for non-option underlyings
	Expiry     string   // ISO date, optional
	OptionType OptionType
}

// NewInstrument validates and builds an Instrument. Symbol and Underlying
// are required; Strike/Expiry/OptionType are only meaningful together.
func NewInstrument(symbol, underlying string, strike *float64, expiry string, optionType OptionType) (Instrument, error) {
	if symbol == "" {
		return Instrument{}, fmt.Errorf("instrument: symbol is required")
	}
	if underlying == "" {
		return Instrument{}, fmt.Errorf("instrument: underlying is required")
	}
	return Instrument{
		Symbol:     symbol,
		Underlying: underlying,
		Strike:     strike,
		Expiry:     expiry,
		OptionType: optionType,
	}, nil
}
