package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/agentbox/sandbox"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	l := NewLocalStorage(fs, "/data/artifacts")

	assert.Equal(t, StorageLocal, l.Backend())

	stored, err := l.Put(ctx, "exec-1/art-1/out.txt", strings.NewReader("payload"), 7, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "/data/artifacts/exec-1/art-1/out.txt", stored)

	rc, err := l.Open(ctx, stored)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	t.Run("KeyCannotEscapeRoot", func(t *testing.T) {
		stored, err := l.Put(ctx, "../../etc/passwd", strings.NewReader("x"), 1, "")
		require.NoError(t, err)
		assert.Equal(t, "/data/artifacts/etc/passwd", stored)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := l.Put(ctx, "", strings.NewReader("x"), 1, "")
		assert.Equal(t, sandbox.KindInvalidRequest, sandbox.KindOf(err))
	})

	t.Run("NoOverwrite", func(t *testing.T) {
		_, err := l.Put(ctx, "exec-1/art-1/out.txt", strings.NewReader("again"), 5, "")
		assert.Equal(t, sandbox.KindWorkspace, sandbox.KindOf(err))
	})

	t.Run("OpenMissing", func(t *testing.T) {
		_, err := l.Open(ctx, "/data/artifacts/missing")
		assert.Equal(t, sandbox.KindArtifactNotFound, sandbox.KindOf(err))
	})

	t.Run("OpenOutsideRoot", func(t *testing.T) {
		_, err := l.Open(ctx, "/etc/passwd")
		assert.Equal(t, sandbox.KindInvalidRequest, sandbox.KindOf(err))
	})
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Storage(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3Storage(fake, "bucket", "/artifacts/")

	assert.Equal(t, StorageS3, s.Backend())

	stored, err := s.Put(ctx, "exec-1/art-1/out.json", strings.NewReader(`{}`), 2, "application/json")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/artifacts/exec-1/art-1/out.json", stored)
	assert.Equal(t, "application/json", fake.types["bucket/artifacts/exec-1/art-1/out.json"])

	rc, err := s.Open(ctx, stored)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	t.Run("Missing", func(t *testing.T) {
		_, err := s.Open(ctx, "s3://bucket/artifacts/none")
		assert.Equal(t, sandbox.KindArtifactNotFound, sandbox.KindOf(err))
	})

	t.Run("InvalidPath", func(t *testing.T) {
		for _, p := range []string{"/local/path", "s3://bucket", "s3://bucket/"} {
			_, err := s.Open(ctx, p)
			assert.Equal(t, sandbox.KindInvalidRequest, sandbox.KindOf(err), p)
		}
	})

	t.Run("UploadFailure", func(t *testing.T) {
		fake.putErr = errors.New("access denied")
		defer func() { fake.putErr = nil }()

		_, err := s.Put(ctx, "exec-1/x", strings.NewReader("x"), 1, "")
		assert.Equal(t, sandbox.KindArtifactTransfer, sandbox.KindOf(err))
	})
}

func TestArtifactCollectorWithS3(t *testing.T) {
	fake := newFakeS3()
	store := NewMemoryStore()
	c := NewArtifactCollector(zaptest.NewLogger(t), NewS3Storage(fake, "bucket", ""), store, 0)

	got, err := c.Collect(context.Background(), "exec-1", "/workspace/out", outputTar(t), "/workspace/out/report.txt")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StorageS3, got[0].StorageBackend)
	assert.True(t, strings.HasPrefix(got[0].StoredPath, "s3://bucket/exec-1/"))

	data, err := c.Open(context.Background(), got[0])
	require.NoError(t, err)
	assert.Equal(t, "all tests passed\n", string(data))
}
