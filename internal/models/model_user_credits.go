package models

import "time"

// UserCredits is the per-user monthly allowance for AI generation calls.
type UserCredits struct {
	ID            string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	TotalCredits  int       `gorm:"column:total_credits;not null" json:"total_credits"`
	UsedCredits   int       `gorm:"column:used_credits;not null;default:0" json:"used_credits"`
	LastResetDate time.Time `gorm:"column:last_reset_date;not null" json:"last_reset_date"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (UserCredits) TableName() string {
	return "user_credits"
}

// Available never goes negative, even if used exceeds total.
func (u *UserCredits) Available() int {
	if u == nil || u.UsedCredits >= u.TotalCredits {
		return 0
	}
	return u.TotalCredits - u.UsedCredits
}
