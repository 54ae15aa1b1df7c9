package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{1234.5, "$1,234.50"},
		{-75.255, "-$75.26"},
		{0.1 + 0.2, "$0.30"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUSD(tt.in), "amount %v", tt.in)
	}
}

func TestFormatUSDPtr(t *testing.T) {
	v := 10.0
	assert.Equal(t, "$10.00", FormatUSDPtr(&v))
	assert.Equal(t, "n/a", FormatUSDPtr(nil))
}

func TestFormatMoneyUnknownCurrency(t *testing.T) {
	assert.Equal(t, "12.30", FormatMoney(12.3, "XXX_NOT_A_CODE"))
}
