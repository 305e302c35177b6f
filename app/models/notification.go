package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	NotificationKindTierUpgrade = "tier_upgrade"
)

type Notification struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	SellerID    uint       `gorm:"not null;index:idx_notifications_seller_kind,priority:1" json:"seller_id"`
	Kind        string     `gorm:"type:varchar(50);not null;index:idx_notifications_seller_kind,priority:2" json:"kind" validate:"oneof=tier_upgrade system"`
	Title       string     `gorm:"type:varchar(200)" json:"title" validate:"required,max=200"`
	Message     string     `gorm:"type:text" json:"message" validate:"required"`
	ReferenceID uint       `json:"reference_id"` // payment transaction the notification is about
	DeliveredAt *time.Time `gorm:"type:timestamp;default:null" json:"delivered_at,omitempty"`
	ReadAt      *time.Time `gorm:"type:timestamp;default:null" json:"read_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (n *Notification) Validate() error {
	v := validator.New()

	return v.Struct(n)
}
