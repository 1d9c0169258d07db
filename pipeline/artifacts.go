package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/sandbox"
)

// Artifact types derived from the mime type.
const (
	ArtifactText    = "text"
	ArtifactImage   = "image"
	ArtifactArchive = "archive"
	ArtifactData    = "data"
	ArtifactBinary  = "binary"
)

// ArtifactCollector captures files out of a container tar stream.
type ArtifactCollector struct {
	logger  *zap.Logger
	storage ArtifactStorage
	store   Store
	maxSize int64
	now     func() time.Time
}

// NewArtifactCollector returns a collector writing bytes to storage and
// records to store. Files larger than maxSize bytes are skipped; maxSize <= 0
// disables the limit.
func NewArtifactCollector(logger *zap.Logger, storage ArtifactStorage, store Store, maxSize int64) *ArtifactCollector {
	return &ArtifactCollector{
		logger:  logger.Named("artifacts"),
		storage: storage,
		store:   store,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Collect reads the tar stream r produced by copying srcRoot out of a
// container and stores every regular file whose container path matches
// pattern. An empty pattern matches everything. The tar entries are rooted at
// the base name of srcRoot, as the Docker archive endpoint produces them.
func (c *ArtifactCollector) Collect(ctx context.Context, executionID, srcRoot string, r io.Reader, pattern string) ([]Artifact, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, sandbox.InvalidRequest("collect_artifacts", fmt.Sprintf("invalid artifact pattern %q", pattern))
	}

	parent := path.Dir(path.Clean(srcRoot))
	tr := tar.NewReader(r)

	var collected []Artifact
	for {
		if err := ctx.Err(); err != nil {
			return collected, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return collected, sandbox.NewError(sandbox.KindArtifactTransfer, "collect_artifacts", "failed to read archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		filePath := path.Join(parent, hdr.Name)
		if pattern != "" {
			ok, _ := doublestar.Match(pattern, filePath)
			if !ok {
				continue
			}
		}

		if c.maxSize > 0 && hdr.Size > c.maxSize {
			c.logger.Warn("skipping oversized artifact",
				zap.String("execution_id", executionID),
				zap.String("path", filePath),
				zap.String("size", units.HumanSize(float64(hdr.Size))),
				zap.String("limit", units.HumanSize(float64(c.maxSize))),
			)
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return collected, sandbox.NewError(sandbox.KindArtifactTransfer, "collect_artifacts", "failed to read "+filePath, err)
		}

		a, err := c.save(ctx, executionID, filePath, data)
		if err != nil {
			return collected, err
		}
		collected = append(collected, a)
	}

	c.logger.Debug("artifacts collected",
		zap.String("execution_id", executionID),
		zap.String("source", srcRoot),
		zap.Int("count", len(collected)),
	)
	return collected, nil
}

func (c *ArtifactCollector) save(ctx context.Context, executionID, filePath string, data []byte) (Artifact, error) {
	id := uuid.NewString()
	name := path.Base(filePath)
	mimeType := DetectMimeType(name, data)

	storedPath, err := c.storage.Put(ctx, path.Join(executionID, id, name), bytes.NewReader(data), int64(len(data)), mimeType)
	if err != nil {
		return Artifact{}, err
	}

	a := Artifact{
		ID:             id,
		ExecutionID:    executionID,
		Type:           ArtifactType(mimeType),
		FilePath:       filePath,
		FileName:       name,
		Size:           int64(len(data)),
		MimeType:       mimeType,
		StoredPath:     storedPath,
		StorageBackend: c.storage.Backend(),
		Checksum:       Checksum(data),
		CreatedAt:      c.now().UTC(),
	}
	if err := c.store.SaveArtifact(ctx, a); err != nil {
		return Artifact{}, fmt.Errorf("failed to record artifact %s: %w", filePath, err)
	}
	return a, nil
}

// Open returns the stored bytes of an artifact after checking them against
// the recorded checksum.
func (c *ArtifactCollector) Open(ctx context.Context, a Artifact) ([]byte, error) {
	rc, err := c.storage.Open(ctx, a.StoredPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, sandbox.NewError(sandbox.KindArtifactTransfer, "open_artifact", a.StoredPath, err)
	}
	if err := a.Verify(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// DetectMimeType guesses from the file extension first and the content second.
func DetectMimeType(name string, data []byte) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// ArtifactType maps a mime type onto a coarse artifact category.
func ArtifactType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(base)

	switch {
	case strings.HasPrefix(base, "text/"):
		return ArtifactText
	case strings.HasPrefix(base, "image/"):
		return ArtifactImage
	case base == "application/json", base == "application/xml", base == "application/yaml",
		strings.HasSuffix(base, "+json"), strings.HasSuffix(base, "+xml"):
		return ArtifactData
	case base == "application/zip", base == "application/gzip", base == "application/x-gzip",
		base == "application/x-tar", base == "application/x-bzip2", base == "application/x-xz":
		return ArtifactArchive
	default:
		return ArtifactBinary
	}
}
