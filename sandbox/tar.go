package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0600
)

// CreateTarFromPath creates an uncompressed tar archive of srcPath. A
// directory is archived with paths relative to itself; a single file is
// archived under its base name.
func CreateTarFromPath(fs afero.Fs, srcPath string) ([]byte, error) {
	info, err := fs.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	var buf bytes.Buffer
	tarWriter := tar.NewWriter(&buf)

	if !info.IsDir() {
		if err := writeTarEntry(fs, tarWriter, srcPath, info.Name(), info); err != nil {
			return nil, err
		}
	} else {
		err = afero.Walk(fs, srcPath, func(file string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			relPath, err := filepath.Rel(srcPath, file)
			if err != nil {
				return err
			}
			if relPath == "." {
				return nil
			}
			return writeTarEntry(fs, tarWriter, file, filepath.ToSlash(relPath), fi)
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTarEntry(fs afero.Fs, tw *tar.Writer, file, name string, fi os.FileInfo) error {
	header, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if fi.IsDir() {
		return nil
	}

	data, err := fs.Open(file)
	if err != nil {
		return err
	}
	defer data.Close()

	_, err = io.Copy(tw, data)
	return err
}
