package model

import "time"

// User is a credential owner. Only the bonus-quota compensation path touches
// it: quota granted speculatively when a public credential was donated is
// clawed back if that credential later dies on an auth failure.
type User struct {
	ID         int64
	Username   string
	BonusQuota int64
	CreatedAt  time.Time
}
