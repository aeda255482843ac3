package entity

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", false
	}
	return unit.String(), true
}

// MoneyItem is an amount tagged with its currency.
type MoneyItem struct {
	Key      string          `json:"key,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// ConvertedItem is a MoneyItem annotated with its amount in a target currency.
type ConvertedItem struct {
	MoneyItem
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	TargetCurrency  string          `json:"target_currency"`
}
