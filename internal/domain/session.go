package domain

import "time"

// Session is a logical login lifespan, independent of any single token.
// It is soft-invalidated (is_active=false) and only physically deleted by
// the garbage collector, so ended logins stay visible for auditing.
type Session struct {
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	UserID         uint       `gorm:"index;not null" json:"user_id"`
	Portal         string     `gorm:"size:32;index;not null" json:"portal"`
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	InvalidatedAt  *time.Time `gorm:"index" json:"invalidated_at,omitempty"`
	LastAccessedAt time.Time  `gorm:"index" json:"last_accessed_at"`
	ExpiresAt      time.Time  `gorm:"index;not null" json:"expires_at"`
	UserAgent      string     `gorm:"size:512" json:"user_agent"`
	IP             string     `gorm:"size:64" json:"ip"`
	LoginMethod    string     `gorm:"size:32" json:"login_method"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Live reports whether the session is usable at instant now. A session
// whose expires_at equals now is already expired.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && s.InvalidatedAt == nil && s.ExpiresAt.After(now)
}
