package store

import (
	"context"
	"fmt"

	"github.com/isdmx/agentbox/pipeline"
)

const logBatchSize = 100

// SaveLogEntries appends a batch of entries in one transaction.
func (s *Store) SaveLogEntries(ctx context.Context, entries []pipeline.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	models := make([]LogEntryModel, len(entries))
	for i, e := range entries {
		models[i] = toLogEntryModel(e)
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&models, logBatchSize).Error; err != nil {
		return fmt.Errorf("saving %d log entries: %w", len(entries), err)
	}
	return nil
}

// ListLogEntries returns entries after afterSeq in sequence order.
func (s *Store) ListLogEntries(ctx context.Context, executionID string, afterSeq int64, limit int) ([]pipeline.LogEntry, error) {
	q := s.db.WithContext(ctx).
		Where("execution_id = ? AND sequence_number > ?", executionID, afterSeq).
		Order("sequence_number ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []LogEntryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing log entries of %s: %w", executionID, err)
	}

	entries := make([]pipeline.LogEntry, len(models))
	for i := range models {
		entries[i] = toLogEntry(&models[i])
	}
	return entries, nil
}

// LastSequence returns the highest stored sequence number, or 0.
func (s *Store) LastSequence(ctx context.Context, executionID string) (int64, error) {
	var last int64
	if err := s.db.WithContext(ctx).
		Model(&LogEntryModel{}).
		Where("execution_id = ?", executionID).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&last).Error; err != nil {
		return 0, fmt.Errorf("reading last sequence of %s: %w", executionID, err)
	}
	return last, nil
}
