package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	Filename      string `gorm:"not null"`
	MimeType      string `gorm:"not null"`
	SizeBytes     int64  `gorm:"not null"`
	Status        string `gorm:"not null;index"`
	StagingKey    string
	RedactedKey   string
	VaultKey      string
	PIICount      int `gorm:"column:pii_count;not null;default:0"`
	FailureReason string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type ExtractionModel struct {
	DocumentID  string         `gorm:"primaryKey"`
	Status      string         `gorm:"not null"`
	Fields      datatypes.JSON `gorm:"type:jsonb"`
	Error       string
	ExtractedAt *time.Time
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
