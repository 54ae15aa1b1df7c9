package ledger

import (
	"errors"
	"strings"
)

// ErrNoRecognizedColumns is returned when no source column maps onto the ledger vocabulary
var ErrNoRecognizedColumns = errors.New("ledger has no recognizable columns")

// columnVocabulary maps brokerage export headers to canonical field names
var columnVocabulary = map[string]string{
	"activity date": "activity_date",
	"process date":  "process_date",
	"settle date":   "settle_date",
	"instrument":    "instrument",
	"description":   "description",
	"trans code":    "trade_code",
	"quantity":      "quantity",
	"price":         "price",
	"amount":        "amount",
}

// Widths of the stored instrument and code columns. Longer cells come from
// misaligned rows and are skipped.
const (
	MaxInstrumentLen = 50
	MaxTradeCodeLen  = 20
)

// Result is the outcome of normalizing a ledger
type Result struct {
	Transactions []Transaction
	// Skipped counts rows that carried nothing usable
	Skipped int
}

// CanonicalColumn returns the canonical name for a source header, or "" when unmapped
func CanonicalColumn(header string) string {
	return columnVocabulary[strings.ToLower(strings.TrimSpace(header))]
}

func recognizesAny(headers []string) bool {
	for _, h := range headers {
		if CanonicalColumn(h) != "" {
			return true
		}
	}
	return false
}

// Normalize maps raw rows onto typed transactions. Bad cells degrade to absent
// values and rows without any usable field are skipped. Only a ledger whose
// columns are all unrecognized is an error.
func Normalize(rows []RawRow) (Result, error) {
	var res Result
	if len(rows) == 0 {
		return res, nil
	}

	recognized := false
	for _, row := range rows {
		for col := range row {
			if CanonicalColumn(col) != "" {
				recognized = true
				break
			}
		}
		if recognized {
			break
		}
	}
	if !recognized {
		return res, ErrNoRecognizedColumns
	}

	for _, row := range rows {
		tx, ok := normalizeRow(row)
		if !ok {
			res.Skipped++
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res, nil
}

func normalizeRow(row RawRow) (Transaction, bool) {
	fields := make(map[string]string, len(columnVocabulary))
	for col, val := range row {
		if canon := CanonicalColumn(col); canon != "" {
			fields[canon] = strings.TrimSpace(val)
		}
	}

	tx := Transaction{
		ActivityDate: ParseDate(fields["activity_date"]),
		ProcessDate:  ParseDate(fields["process_date"]),
		SettleDate:   ParseDate(fields["settle_date"]),
		Instrument:   strings.ToUpper(fields["instrument"]),
		Description:  fields["description"],
		TradeCode:    strings.ToUpper(fields["trade_code"]),
		Quantity:     ParseNumber(fields["quantity"]),
		Price:        ParseNumber(fields["price"]),
		Amount:       ParseAmount(fields["amount"]),
	}
	if tx.Price != nil && *tx.Price < 0 {
		tx.Price = nil
	}

	// Footer disclaimers and blank lines have none of these
	if tx.Instrument == "" && tx.TradeCode == "" && tx.Amount == nil && tx.Quantity == nil {
		return Transaction{}, false
	}
	if len(tx.Instrument) > MaxInstrumentLen || len(tx.TradeCode) > MaxTradeCodeLen {
		return Transaction{}, false
	}

	tx.Action = ActionFromCode(tx.TradeCode)
	if leg := ParseOption(tx.Description); leg != nil {
		tx.Option = leg
		switch {
		case strings.Contains(tx.Description, "Assigned"):
			tx.Action = Assigned
		case strings.Contains(tx.Description, "Expiration"):
			tx.Action = Expired
		}
	}
	return tx, true
}

// Tickers returns the distinct non-empty instruments in first-seen order
func Tickers(txs []Transaction) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tx := range txs {
		if tx.Instrument == "" || seen[tx.Instrument] {
			continue
		}
		seen[tx.Instrument] = true
		out = append(out, tx.Instrument)
	}
	return out
}
