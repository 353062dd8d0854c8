package models

import "time"

// DefaultChallengePoints is awarded when a challenge has no explicit point value.
const DefaultChallengePoints int64 = 50

// Challenge is owned by the content service; the engine only reads it.
type Challenge struct {
	ID         string  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Title      string  `gorm:"not null" json:"title"`
	Track      string  `gorm:"index;not null" json:"track"`
	PointValue *int64  `json:"point_value,omitempty"`
	ProjectID  *string `gorm:"type:uuid;index" json:"project_id,omitempty"`

	Timestamps
}

// Points returns the value credited on completion.
func (c *Challenge) Points() int64 {
	if c.PointValue == nil || *c.PointValue < 0 {
		return DefaultChallengePoints
	}
	return *c.PointValue
}

// Project groups challenges; reaching PointThreshold across its challenges completes it.
type Project struct {
	ID             string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	Track          string    `gorm:"index;not null" json:"track"`
	PointThreshold int64     `gorm:"not null;default:0" json:"point_threshold"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HighlightDuration is how long a redeemed highlight stays on a shared challenge.
const HighlightDuration = 24 * time.Hour

// SharedChallenge is a user's public post of a challenge they shared.
type SharedChallenge struct {
	ID                 string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	OwnerUserID        string     `gorm:"index:idx_shared_owner_challenge,priority:1;not null" json:"owner_user_id"`
	ChallengeID        string     `gorm:"index:idx_shared_owner_challenge,priority:2;not null" json:"challenge_id"`
	Caption            string     `gorm:"type:text" json:"caption,omitempty"`
	Highlighted        bool       `gorm:"default:false;index" json:"highlighted"`
	HighlightExpiresAt *time.Time `json:"highlight_expires_at,omitempty"`

	Timestamps
}

// HighlightActive reports whether the highlight is still in effect at now.
func (s *SharedChallenge) HighlightActive(now time.Time) bool {
	if !s.Highlighted {
		return false
	}
	return s.HighlightExpiresAt == nil || s.HighlightExpiresAt.After(now)
}
