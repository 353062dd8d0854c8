package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Member is a local snapshot of the profile service's user, needed for track checks and
// certificate delivery. Populated by the member sync worker.
type Member struct {
	ID             string  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string  `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Username       string  `gorm:"index;not null" json:"username"`
	Email          string  `json:"email,omitempty"`
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	Track          string  `gorm:"index" json:"track"`

	BannedUntil *time.Time `json:"banned_until,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// DisplayName prefers the full name and falls back to the username.
func (m *Member) DisplayName() string {
	var parts []string
	if m.FirstName != nil && strings.TrimSpace(*m.FirstName) != "" {
		parts = append(parts, strings.TrimSpace(*m.FirstName))
	}
	if m.LastName != nil && strings.TrimSpace(*m.LastName) != "" {
		parts = append(parts, strings.TrimSpace(*m.LastName))
	}
	if len(parts) == 0 {
		return m.Username
	}
	return strings.Join(parts, " ")
}
