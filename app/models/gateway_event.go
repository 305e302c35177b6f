package models

import "time"

const (
	GatewayEventSTKCallback = "stk_callback"
	GatewayEventC2BConfirm  = "c2b_confirm"
)

// GatewayEvent stores inbound gateway payloads with deduplication metadata so
// failed settlements stay queryable for remediation.
type GatewayEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Kind            string     `gorm:"type:varchar(20);not null;index:ux_gateway_events_kind_key,unique,priority:1" json:"kind"`
	EventKey        string     `gorm:"type:varchar(191);not null;index:ux_gateway_events_kind_key,unique,priority:2" json:"event_key"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ArchivedAt      *time.Time `gorm:"type:timestamp;default:null" json:"archived_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Succeeded reports whether the event was processed without error.
func (e *GatewayEvent) Succeeded() bool {
	return e != nil && e.ProcessedAt != nil && e.ProcessingError == ""
}
