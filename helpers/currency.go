package helpers

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatMoney formats amount in the given ISO currency, e.g. "$1,234.50".
// Unknown currency codes fall back to the plain decimal.
func FormatMoney(amount float64, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return decimal.NewFromFloat(amount).StringFixed(2)
	}
	minor := decimal.NewFromFloat(amount).Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), currency).Display()
}

// FormatUSD formats a dollar amount
func FormatUSD(amount float64) string {
	return FormatMoney(amount, money.USD)
}

// FormatUSDPtr formats an optional dollar amount, "n/a" when absent
func FormatUSDPtr(amount *float64) string {
	if amount == nil {
		return "n/a"
	}
	return FormatUSD(*amount)
}
