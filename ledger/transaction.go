package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action is the classified intent of a ledger row
type Action int

const (
	Unknown Action = iota
	BuyToOpen
	SellToClose
	SellToOpen
	BuyToClose
	Assigned
	Expired
)

var actionNames = [...]string{
	Unknown:     "Unknown",
	BuyToOpen:   "Buy to Open",
	SellToClose: "Sell to Close",
	SellToOpen:  "Sell to Open",
	BuyToClose:  "Buy to Close",
	Assigned:    "Assigned",
	Expired:     "Expired",
}

// tradeCodes maps brokerage transaction codes to actions
var tradeCodes = map[string]Action{
	"BTO": BuyToOpen,
	"STC": SellToClose,
	"STO": SellToOpen,
	"BTC": BuyToClose,
}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return actionNames[Unknown]
	}
	return actionNames[a]
}

// ActionFromCode classifies a raw trans code, case and whitespace insensitive
func ActionFromCode(code string) Action {
	if a, ok := tradeCodes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return a
	}
	return Unknown
}

// ParseAction is the inverse of Action.String
func ParseAction(s string) Action {
	for i, name := range actionNames {
		if strings.EqualFold(name, s) {
			return Action(i)
		}
	}
	return Unknown
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("action must be a string: %w", err)
	}
	*a = ParseAction(s)
	return nil
}

// OptionType is the right carried by an option contract
type OptionType string

const (
	Call OptionType = "Call"
	Put  OptionType = "Put"
)

// OptionLeg holds the fields extracted from an option description.
// All three are populated from a single match, so they are present together or not at all.
type OptionLeg struct {
	Type       OptionType `json:"option_type"`
	Strike     float64    `json:"strike_price"`
	Expiration string     `json:"option_expiration"`
}

// Transaction is a normalized ledger row. Nil pointers mean the value was absent or unparseable.
type Transaction struct {
	ActivityDate *time.Time `json:"activity_date,omitempty"`
	ProcessDate  *time.Time `json:"process_date,omitempty"`
	SettleDate   *time.Time `json:"settle_date,omitempty"`
	Instrument   string     `json:"instrument"`
	Description  string     `json:"description"`
	TradeCode    string     `json:"trade_code"`
	Action       Action     `json:"parsed_action"`
	Quantity     *float64   `json:"quantity,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	Amount       *float64   `json:"amount,omitempty"`
	Option       *OptionLeg `json:"option,omitempty"`
}

// IsOption reports whether the description carried an option contract
func (t Transaction) IsOption() bool {
	return t.Option != nil
}
