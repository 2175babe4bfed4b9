// Package numeric checks decimals against the NUMERIC columns they are
// stored in, so values Postgres would round or reject are refused up front.
package numeric

import (
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

// Column describes a NUMERIC(precision, scale) column.
type Column struct {
	Precision int32
	Scale     int32
}

var (
	// Money matches NUMERIC(12, 2).
	Money = Column{Precision: 12, Scale: 2}
	// Quantity matches NUMERIC(14, 3).
	Quantity = Column{Precision: 14, Scale: 3}
)

// Fits reports whether d is stored by the column without rounding or overflow.
func (c Column) Fits(d decimal.Decimal) bool {
	if !d.Equal(d.Round(c.Scale)) {
		return false
	}
	limit := decimal.New(1, c.Precision-c.Scale)
	return d.Abs().LessThan(limit)
}

// Check returns an invalid-input error naming field when d does not fit.
func (c Column) Check(field string, d decimal.Decimal) error {
	if c.Fits(d) {
		return nil
	}
	if !d.Equal(d.Round(c.Scale)) {
		return apperr.Invalid("%s must have at most %d decimal places", field, c.Scale)
	}
	return apperr.Invalid("%s is too large", field)
}
