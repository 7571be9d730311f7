package avatars

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/calderas/go-davext/internal"
)

// LocalBackend serves avatars from a directory of source images. The
// source for a principal is the file named after the last segment of the
// principal URI, with a ".png" or ".jpeg" extension.
type LocalBackend struct {
	root string
}

var _ Backend = (*LocalBackend)(nil)

func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: root}
}

func (b *LocalBackend) sourcePath(principal string) (string, error) {
	name := path.Base("/" + principal)
	if name == "/" || name == "." {
		return "", internal.HTTPErrorf(http.StatusBadRequest, "avatars: empty principal")
	}
	for _, ext := range []string{".png", ".jpeg"} {
		p := filepath.Join(b.root, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", internal.HTTPErrorf(http.StatusNotFound, "avatars: no avatar for principal %q", principal)
}

func (b *LocalBackend) Avatar(ctx context.Context, principal string, size int) (image.Image, *FileInfo, error) {
	p, err := b.sourcePath(principal)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("avatars: failed to decode %q: %w", p, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	info := &FileInfo{
		ETag:    fmt.Sprintf("%x%x%x", fi.ModTime().UnixNano(), fi.Size(), size),
		ModTime: fi.ModTime(),
	}
	return dst, info, nil
}
