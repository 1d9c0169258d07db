package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

// SaveArtifact records an artifact. Records are immutable, so saving an id
// twice is rejected.
func (s *Store) SaveArtifact(ctx context.Context, a pipeline.Artifact) error {
	duplicate := sandbox.NewError(sandbox.KindInvalidRequest, "save_artifact", "artifact "+a.ID+" already recorded", nil)

	var n int64
	if err := s.db.WithContext(ctx).Model(&ArtifactModel{}).Where("id = ?", a.ID).Count(&n).Error; err != nil {
		return fmt.Errorf("checking artifact %s: %w", a.ID, err)
	}
	if n > 0 {
		return duplicate
	}

	model := toArtifactModel(a)
	err := s.db.WithContext(ctx).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return duplicate
	}
	if err != nil {
		return fmt.Errorf("saving artifact %s: %w", a.ID, err)
	}
	return nil
}

// ListArtifacts returns the artifacts of an execution in collection order.
func (s *Store) ListArtifacts(ctx context.Context, executionID string) ([]pipeline.Artifact, error) {
	var models []ArtifactModel
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing artifacts of %s: %w", executionID, err)
	}

	out := make([]pipeline.Artifact, len(models))
	for i := range models {
		out[i] = toArtifact(&models[i])
	}
	return out, nil
}

// GetArtifact returns one artifact record.
func (s *Store) GetArtifact(ctx context.Context, id string) (pipeline.Artifact, error) {
	var model ArtifactModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pipeline.Artifact{}, sandbox.NewError(sandbox.KindArtifactNotFound, "get_artifact", "artifact "+id+" not found", nil)
	}
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("getting artifact %s: %w", id, err)
	}
	return toArtifact(&model), nil
}
