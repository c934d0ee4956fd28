package promptnode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"strings"
)

var ErrImageNotFound = errors.New("image not found")

// ImageStore looks images up by name.
type ImageStore interface {
	GetImage(ctx context.Context, name string) (image.Image, error)
}

type ImageStoreFunc func(ctx context.Context, name string) (image.Image, error)

func (f ImageStoreFunc) GetImage(ctx context.Context, name string) (image.Image, error) {
	return f(ctx, name)
}

// DirImageStore resolves image names inside a filesystem.
// Names are slash separated paths; names escaping the root are rejected.
type DirImageStore struct {
	fsys fs.FS
}

func NewDirImageStore(fsys fs.FS) *DirImageStore {
	return &DirImageStore{fsys: fsys}
}

func NewDirImageStoreFromPath(dir string) *DirImageStore {
	return NewDirImageStore(os.DirFS(dir))
}

func (s *DirImageStore) GetImage(ctx context.Context, name string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := strings.TrimPrefix(name, "./")
	if p == "." || !fs.ValidPath(p) || strings.Contains(p, "\\") {
		return nil, fmt.Errorf("%w: invalid image name %q", ErrImageNotFound, name)
	}
	f, err := s.fsys.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrEncoding, name, err)
	}
	return img, nil
}
