package repository

import "time"

// MirrorEntity is the ingestion pipeline's copy of an inbound mail. Rows are
// written upstream; this service only stamps agent decisions onto them.
type MirrorEntity struct {
	ExternalMessageID string     `db:"gmail_message_id" gorm:"primaryKey;column:gmail_message_id"`
	Status            string     `db:"status"           gorm:"column:status;not null;default:'pending'"`
	ApprovedAt        *time.Time `db:"approved_at"      gorm:"column:approved_at"`
	RejectedAt        *time.Time `db:"rejected_at"      gorm:"column:rejected_at"`
	UpdatedAt         time.Time  `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
}

func (MirrorEntity) TableName() string {
	return "mail_ingest_mirror"
}
