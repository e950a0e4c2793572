package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserStore = (*UserRepo)(nil)

// UserRepo is the SQLite implementation of the UserStore port.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo bound to the given database.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a user and returns its id.
func (r *UserRepo) Create(ctx context.Context, username string, bonusQuota int64) (int64, error) {
	const query = `INSERT INTO users (username, bonus_quota) VALUES (?, ?)`
	res, err := r.db.Writer.ExecContext(ctx, query, username, bonusQuota)
	if err != nil {
		return 0, fmt.Errorf("insert user %q: %w", username, err)
	}
	return res.LastInsertId()
}

// GetByID returns the user or (nil, nil) when it does not exist.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT id, username, bonus_quota, created_at FROM users WHERE id = ?`

	var u model.User
	var createdAt string
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.BonusQuota, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for user %d: %w", id, err)
	}
	return &u, nil
}

// DeductBonusQuota subtracts amount from the user's bonus quota, flooring at
// zero, and returns the new value. The floor is applied in SQL so concurrent
// deductions cannot drive the quota negative.
func (r *UserRepo) DeductBonusQuota(ctx context.Context, id int64, amount int64) (int64, error) {
	const query = `UPDATE users SET bonus_quota = MAX(0, bonus_quota - ?) WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, amount, id); err != nil {
		return 0, fmt.Errorf("deduct bonus quota for user %d: %w", id, err)
	}

	var remaining int64
	err := r.db.Reader.QueryRowContext(ctx, `SELECT bonus_quota FROM users WHERE id = ?`, id).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("deduct bonus quota: user %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("read bonus quota for user %d: %w", id, err)
	}
	return remaining, nil
}
