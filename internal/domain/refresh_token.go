package domain

import "time"

// RefreshToken is the persisted side of a refresh credential. The row keeps
// only an HMAC of the full signed token string; a database dump must not
// yield usable credentials. The ID doubles as the jti embedded in the
// signed token, which is how presented tokens find their row.
type RefreshToken struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	TokenHash   string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	ExpiresAt   time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt   *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UserAgent   string     `gorm:"size:512" json:"user_agent"`
	IP          string     `gorm:"size:64" json:"ip"`
	LoginMethod string     `gorm:"size:32" json:"login_method"`
	Portal      string     `gorm:"size:32;index" json:"portal"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Usable reports whether the record still backs a valid refresh credential.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}
