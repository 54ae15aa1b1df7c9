package ledger

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var absentTokens = map[string]bool{
	"":     true,
	"nan":  true,
	"none": true,
	"null": true,
	"n/a":  true,
}

var optionPattern = regexp.MustCompile(`(\S+)\s+(\d{1,2}/\d{1,2}/\d{4})\s+(Call|Put)\s+\$(\d+(\.\d+)?)`)

var dateLayouts = []string{
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
}

// ParseAmount parses a cash amount in brokerage notation.
// Currency symbols and thousands separators are ignored and "(x)" means -x.
// Returns nil when the cell is empty, not a number or overflows float64.
func ParseAmount(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if absentTokens[strings.ToLower(s)] {
		return nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	if negative {
		d = d.Neg()
	}
	v := d.InexactFloat64()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseNumber parses a quantity or price cell. Returns nil when unparseable.
func ParseNumber(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if absentTokens[strings.ToLower(s)] {
		return nil
	}
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseDate tries the layouts seen in brokerage exports. Returns nil when none match.
func ParseDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if absentTokens[strings.ToLower(s)] {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ParseOption extracts "<symbol> <m/d/yyyy> <Call|Put> $<strike>" from a description
func ParseOption(description string) *OptionLeg {
	m := optionPattern.FindStringSubmatch(description)
	if m == nil {
		return nil
	}
	strike, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return nil
	}
	return &OptionLeg{
		Type:       OptionType(m[3]),
		Strike:     strike,
		Expiration: m[2],
	}
}
