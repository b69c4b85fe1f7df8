package models

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every price and quantity.
const Scale = 9

// Fixed is a decimal rounded to Scale places. It encodes as a bare JSON number
// so consumers that parse floats keep working.
type Fixed struct {
	decimal.Decimal
}

func NewFixed(f float64) Fixed {
	return Fixed{decimal.NewFromFloat(f).Round(Scale)}
}

func FixedFromDecimal(d decimal.Decimal) Fixed {
	return Fixed{d.Round(Scale)}
}

func (f Fixed) Add(o Fixed) Fixed { return FixedFromDecimal(f.Decimal.Add(o.Decimal)) }
func (f Fixed) Sub(o Fixed) Fixed { return FixedFromDecimal(f.Decimal.Sub(o.Decimal)) }

func (f Fixed) MarshalJSON() ([]byte, error) {
	return []byte(f.Decimal.String()), nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (f *Fixed) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	f.Decimal = d
	return nil
}
