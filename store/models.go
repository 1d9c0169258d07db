package store

import (
	"encoding/json"
	"time"

	"github.com/isdmx/agentbox/execution"
	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

// ExecutionModel maps to the "executions" table.
type ExecutionModel struct {
	ID              string `gorm:"primaryKey"`
	ContainerID     string
	Provider        string `gorm:"not null;index"`
	Status          string `gorm:"not null;index"`
	ContainerStatus string
	SessionID       string
	Error           string `gorm:"type:text"`
	ErrorKind       string
	ExitCode        *int
	SubmittedAt     time.Time `gorm:"not null;index"`
	StartedAt       *time.Time
	FinishedAt      *time.Time
	UpdatedAt       time.Time
}

func (ExecutionModel) TableName() string { return "executions" }

// LogEntryModel maps to the "log_entries" table. Sequence numbers are unique
// per execution.
type LogEntryModel struct {
	ID             string    `gorm:"primaryKey"`
	ExecutionID    string    `gorm:"not null;uniqueIndex:idx_log_entries_execution_seq,priority:1"`
	SequenceNumber int64     `gorm:"not null;uniqueIndex:idx_log_entries_execution_seq,priority:2"`
	Timestamp      time.Time `gorm:"not null"`
	Level          string    `gorm:"not null"`
	Source         string    `gorm:"not null"`
	Message        string    `gorm:"type:text"`
	Metadata       string    `gorm:"type:text"`
	StackTrace     string    `gorm:"type:text"`
}

func (LogEntryModel) TableName() string { return "log_entries" }

// ArtifactModel maps to the "artifacts" table.
type ArtifactModel struct {
	ID             string `gorm:"primaryKey"`
	ExecutionID    string `gorm:"not null;index"`
	Type           string `gorm:"not null"`
	FilePath       string `gorm:"not null"`
	FileName       string `gorm:"not null"`
	Size           int64
	MimeType       string
	StoredPath     string `gorm:"not null"`
	StorageBackend string `gorm:"not null"`
	Checksum       string
	CreatedAt      time.Time
}

func (ArtifactModel) TableName() string { return "artifacts" }

// --- Log entries ---

func toLogEntryModel(e pipeline.LogEntry) LogEntryModel {
	var meta string
	if len(e.Metadata) > 0 {
		b, _ := json.Marshal(e.Metadata)
		meta = string(b)
	}
	return LogEntryModel{
		ID:             e.ID,
		ExecutionID:    e.ExecutionID,
		SequenceNumber: e.SequenceNumber,
		Timestamp:      e.Timestamp.UTC(),
		Level:          string(e.Level),
		Source:         e.Source,
		Message:        e.Message,
		Metadata:       meta,
		StackTrace:     e.StackTrace,
	}
}

func toLogEntry(m *LogEntryModel) pipeline.LogEntry {
	e := pipeline.LogEntry{
		ID:             m.ID,
		ExecutionID:    m.ExecutionID,
		SequenceNumber: m.SequenceNumber,
		Timestamp:      m.Timestamp.UTC(),
		Level:          pipeline.Level(m.Level),
		Source:         m.Source,
		Message:        m.Message,
		StackTrace:     m.StackTrace,
	}
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &e.Metadata)
	}
	return e
}

// --- Artifacts ---

func toArtifactModel(a pipeline.Artifact) ArtifactModel {
	return ArtifactModel{
		ID:             a.ID,
		ExecutionID:    a.ExecutionID,
		Type:           a.Type,
		FilePath:       a.FilePath,
		FileName:       a.FileName,
		Size:           a.Size,
		MimeType:       a.MimeType,
		StoredPath:     a.StoredPath,
		StorageBackend: string(a.StorageBackend),
		Checksum:       a.Checksum,
		CreatedAt:      a.CreatedAt.UTC(),
	}
}

func toArtifact(m *ArtifactModel) pipeline.Artifact {
	return pipeline.Artifact{
		ID:             m.ID,
		ExecutionID:    m.ExecutionID,
		Type:           m.Type,
		FilePath:       m.FilePath,
		FileName:       m.FileName,
		Size:           m.Size,
		MimeType:       m.MimeType,
		StoredPath:     m.StoredPath,
		StorageBackend: pipeline.StorageBackend(m.StorageBackend),
		Checksum:       m.Checksum,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

// --- Executions ---

func toExecutionModel(r execution.Response) ExecutionModel {
	return ExecutionModel{
		ID:              r.ExecutionID,
		ContainerID:     r.ContainerID,
		Provider:        string(r.Provider),
		Status:          string(r.Status),
		ContainerStatus: string(r.ContainerStatus),
		SessionID:       r.SessionID,
		Error:           r.Error,
		ErrorKind:       string(r.ErrorKind),
		ExitCode:        r.ExitCode,
		SubmittedAt:     r.SubmittedAt.UTC(),
		StartedAt:       utcPtr(r.StartedAt),
		FinishedAt:      utcPtr(r.FinishedAt),
	}
}

func toResponse(m *ExecutionModel) execution.Response {
	return execution.Response{
		ExecutionID:     m.ID,
		ContainerID:     m.ContainerID,
		Provider:        execution.ProviderKind(m.Provider),
		Status:          execution.Status(m.Status),
		ContainerStatus: sandbox.ContainerStatus(m.ContainerStatus),
		SessionID:       m.SessionID,
		Error:           m.Error,
		ErrorKind:       sandbox.Kind(m.ErrorKind),
		ExitCode:        m.ExitCode,
		SubmittedAt:     m.SubmittedAt.UTC(),
		StartedAt:       utcPtr(m.StartedAt),
		FinishedAt:      utcPtr(m.FinishedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
