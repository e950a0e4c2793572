package driven

import (
	"context"

	"github.com/credshare/credpool/internal/domain/model"
)

// UserStore is the driven port for credential owners.
type UserStore interface {
	// GetByID returns the user or (nil, nil) when it does not exist.
	GetByID(ctx context.Context, id int64) (*model.User, error)

	// DeductBonusQuota subtracts amount from the user's bonus quota,
	// flooring at zero, and returns the new value.
	DeductBonusQuota(ctx context.Context, id int64, amount int64) (int64, error)
}
