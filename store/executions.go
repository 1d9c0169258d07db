package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/isdmx/agentbox/execution"
	"github.com/isdmx/agentbox/sandbox"
)

// SaveExecution inserts or replaces the snapshot of an execution.
func (s *Store) SaveExecution(ctx context.Context, resp execution.Response) error {
	model := toExecutionModel(resp)
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("saving execution %s: %w", resp.ExecutionID, err)
	}
	return nil
}

// GetExecution returns the last recorded snapshot with its artifacts.
func (s *Store) GetExecution(ctx context.Context, id string) (execution.Response, error) {
	var model ExecutionModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return execution.Response{}, &sandbox.Error{Kind: sandbox.KindExecutionNotFound, Op: "get_execution", Message: fmt.Sprintf("execution %s not found", id)}
	}
	if err != nil {
		return execution.Response{}, fmt.Errorf("getting execution %s: %w", id, err)
	}

	resp := toResponse(&model)
	arts, err := s.ListArtifacts(ctx, id)
	if err != nil {
		return execution.Response{}, err
	}
	if len(arts) > 0 {
		resp.Artifacts = arts
	}
	return resp, nil
}

// ListExecutions returns recorded executions, newest first. An empty status
// matches every status; limit <= 0 defaults to 100.
func (s *Store) ListExecutions(ctx context.Context, status execution.Status, limit int) ([]execution.Response, error) {
	if limit <= 0 {
		limit = 100
	}

	q := s.db.WithContext(ctx).Order("submitted_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var models []ExecutionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	out := make([]execution.Response, len(models))
	for i := range models {
		out[i] = toResponse(&models[i])
	}
	return out, nil
}
