package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Sources of log entries.
const (
	SourceStdout       = "stdout"
	SourceStderr       = "stderr"
	SourceOrchestrator = "orchestrator"
)

// LogEntry is one persisted line of execution output or one lifecycle event.
// SequenceNumber is strictly increasing per execution and never reused.
type LogEntry struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Level          Level          `json:"level"`
	Message        string         `json:"message"`
	Source         string         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	StackTrace     string         `json:"stack_trace,omitempty"`
	SequenceNumber int64          `json:"sequence_number"`
}

// StorageBackend names where artifact bytes live.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
	StorageGCS   StorageBackend = "gcs"
)

// Artifact is a captured output file. Records are immutable once saved.
type Artifact struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id"`
	Type           string         `json:"artifact_type"`
	FilePath       string         `json:"file_path"`
	FileName       string         `json:"file_name"`
	Size           int64          `json:"size"`
	MimeType       string         `json:"mime_type"`
	StoredPath     string         `json:"stored_path"`
	StorageBackend StorageBackend `json:"storage_backend"`
	Checksum       string         `json:"checksum,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ErrChecksumMismatch is returned by Verify when stored bytes differ from
// the bytes captured at collection time.
var ErrChecksumMismatch = errors.New("artifact checksum mismatch")

const checksumPrefix = "sha256:"

// Checksum returns the checksum string recorded for data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:])
}

// Verify re-computes the checksum over r and compares it with the recorded one.
// An artifact without a checksum always verifies.
func (a Artifact) Verify(r io.Reader) error {
	if a.Checksum == "" {
		return nil
	}
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", a.ID, err)
	}
	got := checksumPrefix + hex.EncodeToString(h.Sum(nil))
	if got != a.Checksum {
		return fmt.Errorf("%w: %s: recorded %s, computed %s", ErrChecksumMismatch, a.ID, a.Checksum, got)
	}
	return nil
}
