package web

import (
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/eventlog"
)

// BackupDTO is a backup without its file contents.
type BackupDTO struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	UserID         string    `json:"userId,omitempty"`
	Reason         string    `json:"reason"`
	FileCount      int       `json:"fileCount"`
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EventDTO is one recorded learning event.
type EventDTO struct {
	ID             string                   `json:"id"`
	ProjectID      string                   `json:"projectId"`
	UserID         string                   `json:"userId,omitempty"`
	ConversationID string                   `json:"conversationId,omitempty"`
	Reason         string                   `json:"reason"`
	BackupID       string                   `json:"backupId"`
	FilesChanged   int                      `json:"filesChanged"`
	Histogram      map[patch.ChangeType]int `json:"histogram"`
	LinesAdded     int                      `json:"linesAdded"`
	LinesRemoved   int                      `json:"linesRemoved"`
	OccurredAt     time.Time                `json:"occurredAt"`
	CreatedAt      time.Time                `json:"createdAt"`
}

var copyOption = copier.Option{
	DeepCopy: true,
	Converters: []copier.TypeConverter{{
		SrcType: uuid.UUID{},
		DstType: copier.String,
		Fn: func(src any) (any, error) {
			id, ok := src.(uuid.UUID)
			if !ok {
				return nil, errors.Errorf("expect uuid, got %T", src)
			}
			return id.String(), nil
		},
	}},
}

func newBackupDTOs(records []patch.BackupRecord) ([]BackupDTO, error) {
	out := make([]BackupDTO, 0, len(records))
	if err := copier.CopyWithOption(&out, &records, copyOption); err != nil {
		return nil, errors.Wrap(err, "copy backups")
	}
	return out, nil
}

func newEventDTO(entry eventlog.Entry) (EventDTO, error) {
	var dto EventDTO
	if err := copier.CopyWithOption(&dto, &entry.LearningEvent, copyOption); err != nil {
		return EventDTO{}, errors.Wrap(err, "copy event")
	}
	dto.ID = entry.ID.String()
	dto.CreatedAt = entry.CreatedAt
	return dto, nil
}
