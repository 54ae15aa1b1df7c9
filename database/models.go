package database

import (
	"time"

	"github.com/lib/pq"

	"trade-insight/ledger"
)

// User is an account that uploads ledgers
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:80;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Trade is one stored ledger row. Instrument and TradeCode sizes follow
// ledger.MaxInstrumentLen and ledger.MaxTradeCodeLen.
type Trade struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"user_id"`
	ActivityDate     *time.Time `gorm:"index" json:"activity_date"`
	ProcessDate      *time.Time `json:"process_date"`
	SettleDate       *time.Time `json:"settle_date"`
	Instrument       string     `gorm:"size:50;index" json:"instrument"`
	Description      string     `gorm:"type:text" json:"description"`
	TradeCode        string     `gorm:"size:20" json:"trade_code"`
	Quantity         *float64   `json:"quantity"`
	Price            *float64   `json:"price"`
	Amount           *float64   `json:"amount"`
	ParsedAction     string     `gorm:"size:20" json:"parsed_action"`
	OptionType       *string    `gorm:"size:10" json:"option_type"`
	StrikePrice      *float64   `json:"strike_price"`
	OptionExpiration *string    `gorm:"size:20" json:"option_expiration"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AnalysisRun records one analysis request and its payload
type AnalysisRun struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	UserID       uint           `gorm:"index;not null" json:"user_id"`
	Tickers      pq.StringArray `gorm:"type:text[]" json:"tickers"`
	Transactions int            `json:"transactions"`
	RoundTrips   int            `json:"round_trips"`
	AdviceFailed bool           `json:"advice_failed"`
	Result       []byte         `gorm:"type:jsonb" json:"-"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

// TradeFromTransaction maps a normalized ledger row to its stored form
func TradeFromTransaction(userID uint, tx ledger.Transaction) Trade {
	t := Trade{
		UserID:       userID,
		ActivityDate: tx.ActivityDate,
		ProcessDate:  tx.ProcessDate,
		SettleDate:   tx.SettleDate,
		Instrument:   tx.Instrument,
		Description:  tx.Description,
		TradeCode:    tx.TradeCode,
		Quantity:     tx.Quantity,
		Price:        tx.Price,
		Amount:       tx.Amount,
		ParsedAction: tx.Action.String(),
	}
	if tx.Option != nil {
		typ := string(tx.Option.Type)
		strike := tx.Option.Strike
		exp := tx.Option.Expiration
		t.OptionType = &typ
		t.StrikePrice = &strike
		t.OptionExpiration = &exp
	}
	return t
}

// Transaction maps a stored row back to a ledger transaction
func (t Trade) Transaction() ledger.Transaction {
	tx := ledger.Transaction{
		ActivityDate: t.ActivityDate,
		ProcessDate:  t.ProcessDate,
		SettleDate:   t.SettleDate,
		Instrument:   t.Instrument,
		Description:  t.Description,
		TradeCode:    t.TradeCode,
		Action:       ledger.ParseAction(t.ParsedAction),
		Quantity:     t.Quantity,
		Price:        t.Price,
		Amount:       t.Amount,
	}
	if t.OptionType != nil && t.StrikePrice != nil && t.OptionExpiration != nil {
		tx.Option = &ledger.OptionLeg{
			Type:       ledger.OptionType(*t.OptionType),
			Strike:     *t.StrikePrice,
			Expiration: *t.OptionExpiration,
		}
	}
	return tx
}
