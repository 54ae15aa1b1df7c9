package analysis

import (
	"math"
	"sort"
	"time"

	"trade-insight/ledger"
)

// RoundTripTrade is a matched opening and closing leg
type RoundTripTrade struct {
	TradeID     int           `json:"trade_id"`
	Ticker      string        `json:"ticker"`
	OpenAction  ledger.Action `json:"open_action"`
	CloseAction ledger.Action `json:"close_action"`
	OpenDate    *time.Time    `json:"open_date,omitempty"`
	CloseDate   *time.Time    `json:"close_date,omitempty"`
	// DurationDays is nil when either leg has no date. It is not clamped.
	DurationDays *int    `json:"duration_days"`
	Profit       float64 `json:"profit"`
	Quantity     float64 `json:"quantity"`
	// DateOrderViolation marks a closing leg dated before its opening leg
	DateOrderViolation bool `json:"date_order_violation,omitempty"`
}

// SortByDate returns a copy ordered by activity date. Ties keep their input
// order and undated rows go last.
func SortByDate(txs []ledger.Transaction) []ledger.Transaction {
	sorted := make([]ledger.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].ActivityDate, sorted[j].ActivityDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return sorted
}

// AssignGroups returns the group id of every transaction in an already sorted
// sequence. The counter increments on each BuyToOpen, so a group starts at a
// buy and absorbs everything up to the next one. Rows before the first buy are group 0.
func AssignGroups(sorted []ledger.Transaction) []int {
	groups := make([]int, len(sorted))
	counter := 0
	for i, tx := range sorted {
		if tx.Action == ledger.BuyToOpen {
			counter++
		}
		groups[i] = counter
	}
	return groups
}

// MatchRoundTrips pairs the first BuyToOpen with the first SellToClose of each group.
// Groups missing either leg produce nothing.
func MatchRoundTrips(txs []ledger.Transaction) []RoundTripTrade {
	sorted := SortByDate(txs)
	groups := AssignGroups(sorted)

	type legs struct {
		open, close *ledger.Transaction
	}
	byGroup := make(map[int]*legs)
	var order []int
	for i := range sorted {
		g := groups[i]
		l, ok := byGroup[g]
		if !ok {
			l = &legs{}
			byGroup[g] = l
			order = append(order, g)
		}
		switch sorted[i].Action {
		case ledger.BuyToOpen:
			if l.open == nil {
				l.open = &sorted[i]
			}
		case ledger.SellToClose:
			if l.close == nil {
				l.close = &sorted[i]
			}
		}
	}

	var trades []RoundTripTrade
	for _, g := range order {
		l := byGroup[g]
		if l.open == nil || l.close == nil {
			continue
		}
		trades = append(trades, buildTrade(g, *l.open, *l.close))
	}
	return trades
}

func buildTrade(id int, open, close ledger.Transaction) RoundTripTrade {
	trade := RoundTripTrade{
		TradeID:     id,
		Ticker:      open.Instrument,
		OpenAction:  open.Action,
		CloseAction: close.Action,
		OpenDate:    open.ActivityDate,
		CloseDate:   close.ActivityDate,
	}
	if open.ActivityDate != nil && close.ActivityDate != nil {
		days := wholeDays(close.ActivityDate.Sub(*open.ActivityDate))
		trade.DurationDays = &days
		trade.DateOrderViolation = days < 0
	}
	if open.Quantity != nil {
		trade.Quantity = *open.Quantity
	}

	openPrice, closePrice := legPrice(open), legPrice(close)
	if openPrice != nil && closePrice != nil {
		// an overflowing product counts as a missing operand
		if profit := (*closePrice - *openPrice) * trade.Quantity; !math.IsInf(profit, 0) && !math.IsNaN(profit) {
			trade.Profit = profit
		}
	}
	return trade
}

// legPrice falls back to |amount / quantity| when the price cell was absent
func legPrice(tx ledger.Transaction) *float64 {
	if tx.Price != nil {
		return tx.Price
	}
	if tx.Amount == nil || tx.Quantity == nil || *tx.Quantity == 0 {
		return nil
	}
	p := math.Abs(*tx.Amount / *tx.Quantity)
	if math.IsInf(p, 0) || math.IsNaN(p) {
		return nil
	}
	return &p
}

// wholeDays floors toward negative infinity, so a close 36h before the open is -2
func wholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
