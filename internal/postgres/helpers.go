package postgres

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// numericArg renders a decimal for a numeric bind parameter.
func numericArg(d decimal.Decimal) string {
	return d.String()
}

// uuidArg renders an optional UUID as a nullable bind parameter.
func uuidArg(id uuid.NullUUID) interface{} {
	if !id.Valid {
		return nil
	}
	return id.UUID
}

// scanDecimal converts a numeric column selected as text.
func scanDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
