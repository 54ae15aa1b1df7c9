package database

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"trade-insight/ledger"
)

const tradeBatchSize = 200

// Repository handles user, trade and analysis run persistence
type Repository struct {
	db *Database
}

func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// CreateUser stores a new user; a taken username is a ValidationError
func (r *Repository) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	u := &User{Username: username, PasswordHash: passwordHash}
	if err := r.db.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key value") {
			return nil, NewValidationErrorWithValue("username", "already exists", username)
		}
		return nil, WrapDBError("CreateUser", err)
	}
	return u, nil
}

// GetUserByUsername looks a user up for login
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.db.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundErrorWithID("user", username)
	}
	if err != nil {
		return nil, WrapDBError("GetUserByUsername", err)
	}
	return &u, nil
}

// SaveTransactions appends ledger rows for a user in batches
func (r *Repository) SaveTransactions(ctx context.Context, userID uint, txs []ledger.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	rows := make([]Trade, len(txs))
	for i, tx := range txs {
		rows[i] = TradeFromTransaction(userID, tx)
	}
	if err := r.db.db.WithContext(ctx).CreateInBatches(rows, tradeBatchSize).Error; err != nil {
		return 0, WrapDBError("SaveTransactions", err)
	}
	return len(rows), nil
}

// GetTransactions loads all stored ledger rows for a user in upload order
func (r *Repository) GetTransactions(ctx context.Context, userID uint) ([]ledger.Transaction, error) {
	var rows []Trade
	if err := r.db.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, WrapDBError("GetTransactions", err)
	}
	out := make([]ledger.Transaction, len(rows))
	for i, row := range rows {
		out[i] = row.Transaction()
	}
	return out, nil
}

// DeleteTransactions removes every stored ledger row for a user
func (r *Repository) DeleteTransactions(ctx context.Context, userID uint) (int64, error) {
	res := r.db.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Trade{})
	if res.Error != nil {
		return 0, WrapDBError("DeleteTransactions", res.Error)
	}
	return res.RowsAffected, nil
}

// SaveAnalysisRun stores a completed analysis
func (r *Repository) SaveAnalysisRun(ctx context.Context, run *AnalysisRun) error {
	if run.ID == "" {
		return NewValidationError("id", "required")
	}
	if err := r.db.db.WithContext(ctx).Create(run).Error; err != nil {
		return WrapDBError("SaveAnalysisRun", err)
	}
	return nil
}

// GetAnalysisRun returns one of the user's runs
func (r *Repository) GetAnalysisRun(ctx context.Context, userID uint, id string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := r.db.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundErrorWithID("analysis run", id)
	}
	if err != nil {
		return nil, WrapDBError("GetAnalysisRun", err)
	}
	return &run, nil
}

// ListAnalysisRuns returns the user's most recent runs without payloads
func (r *Repository) ListAnalysisRuns(ctx context.Context, userID uint, limit int) ([]AnalysisRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []AnalysisRun
	err := r.db.db.WithContext(ctx).
		Select("id", "user_id", "tickers", "transactions", "round_trips", "advice_failed", "created_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, WrapDBError("ListAnalysisRuns", err)
	}
	return runs, nil
}
