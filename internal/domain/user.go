package domain

import "time"

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// User is the identity record consumed by the auth core. It is never
// mutated here except for just-in-time provisioning on first verified
// login through the external provider.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"size:255" json:"name"`
	Role      string    `gorm:"size:32;not null;default:teacher" json:"role"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	IsStudent bool      `gorm:"not null;default:false" json:"is_student"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
