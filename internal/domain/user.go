package domain

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"size:128;not null" json:"-"`
	TokenVersion int       `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserPublic is the only user shape allowed to leave the service layer.
type UserPublic struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
}

func (u *User) Public() UserPublic {
	return UserPublic{ID: u.ID, Email: u.Email}
}
