package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const localIDPrefix = "file:"

// localBackend serves uploads from a directory on the server's filesystem.
type localBackend struct {
	fs   afero.Fs
	root string
}

func newLocalBackend(root string) *localBackend {
	return &localBackend{
		fs:   afero.NewBasePathFs(afero.NewOsFs(), root),
		root: root,
	}
}

func (b *localBackend) validate(ctx context.Context) error {
	ok, err := afero.DirExists(b.fs, ".")
	if err != nil {
		return fmt.Errorf("uploads dir %s: %w", b.root, err)
	}
	if !ok {
		return fmt.Errorf("uploads dir %s: not a directory", b.root)
	}
	return nil
}

func (b *localBackend) list(ctx context.Context) ([]entry, error) {
	var entries []entry
	err := afero.Walk(b.fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		entries = append(entries, entry{
			sourceID: localIDPrefix + filepath.ToSlash(path),
			name:     info.Name(),
			size:     info.Size(),
			modTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *localBackend) read(ctx context.Context, sourceID string) ([]byte, error) {
	path := strings.TrimPrefix(sourceID, localIDPrefix)
	if path == sourceID || strings.Contains(path, "..") {
		return nil, fmt.Errorf("malformed file id %q", sourceID)
	}
	return afero.ReadFile(b.fs, path)
}
