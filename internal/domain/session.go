package domain

import "time"

// RefreshSession is the server-side record of a refresh token. Only the
// sha256 hash of the secret is ever stored. Rows are never deleted; revoked
// rows keep their replaced_by_hash link so rotation chains stay auditable
// and reuse of a consumed token can be detected.
type RefreshSession struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"user_id"`
	RefreshTokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt        *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	ReplacedByHash   *string    `gorm:"size:128" json:"-"`
	UserAgent        string     `gorm:"size:512" json:"user_agent"`
	IP               string     `gorm:"size:64" json:"ip"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Active reports whether the session can still be exchanged at the given
// instant.
func (s *RefreshSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// ConsumedByRotation distinguishes rows revoked by a successful rotation from
// rows revoked by logout. Presenting a rotation-consumed token again is the
// replay signal that triggers chain revocation.
func (s *RefreshSession) ConsumedByRotation() bool {
	return s.RevokedAt != nil && s.ReplacedByHash != nil
}
