package models

import (
	"time"

	"github.com/google/uuid"
)

// Video is the content-addressed record for an assembled upload. ContentHash
// is the SHA-256 of the full payload and carries the dedup unique constraint.
type Video struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContentHash string     `gorm:"column:content_hash;not null;unique"`
	OwnerID     uuid.UUID  `gorm:"column:owner_id;type:uuid;not null"`
	FileName    string     `gorm:"column:file_name;not null"`
	MimeType    string     `gorm:"column:mime_type;not null"`
	SizeBytes   int64      `gorm:"column:size_bytes;not null"`
	StoragePath string     `gorm:"column:storage_path;not null"`
	GCSKey      *string    `gorm:"column:gcs_key"`
	ArchivedAt  *time.Time `gorm:"column:archived_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
