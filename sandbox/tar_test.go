package sandbox

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name    string
	content string
}

func createTestTar(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(e.content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(e.content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func readTar(t *testing.T, data []byte) map[string]string {
	t.Helper()

	out := make(map[string]string)
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeDir {
			out[hdr.Name] = "<dir>"
			continue
		}
		out[hdr.Name] = string(body)
	}
	return out
}

func TestCreateTarFromPath(t *testing.T) {
	t.Run("Directory", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/src/a.txt", []byte("alpha"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/src/sub/b.txt", []byte("beta"), 0o644))

		data, err := CreateTarFromPath(fs, "/src")
		require.NoError(t, err)

		entries := readTar(t, data)
		assert.Equal(t, "alpha", entries["a.txt"])
		assert.Equal(t, "<dir>", entries["sub"])
		assert.Equal(t, "beta", entries["sub/b.txt"])
		assert.Len(t, entries, 3)
	})

	t.Run("SingleFile", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/src/report.json", []byte(`{}`), 0o644))

		data, err := CreateTarFromPath(fs, "/src/report.json")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"report.json": "{}"}, readTar(t, data))
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := CreateTarFromPath(afero.NewMemMapFs(), "/nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to stat")
	})
}
