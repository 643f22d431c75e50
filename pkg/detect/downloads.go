package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/workflow"
)

// DownloadLog persists download attempts for the download rules.
type DownloadLog struct {
	db *gorm.DB
}

// NewDownloadLog creates a DownloadLog.
func NewDownloadLog(db *gorm.DB) *DownloadLog {
	return &DownloadLog{db: db}
}

// RecordDownload implements workflow.DownloadRecorder.
func (l *DownloadLog) RecordDownload(ctx context.Context, d workflow.Download) error {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	rec := &DownloadEventRecord{
		ID:         uuid.New().String(),
		UserID:     d.UserID,
		DocumentID: d.DocumentID,
		VersionID:  d.VersionID,
		IPAddress:  d.IPAddress,
		UserAgent:  d.UserAgent,
		Success:    d.Success,
		CreatedAt:  at.UTC(),
	}
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}
