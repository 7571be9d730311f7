// Package avatars exposes per-principal avatar images as a read-only
// virtual WebDAV collection.
//
// The collection contains one child per requested rendition, addressed as
// "{size}.{ext}" where size is the edge length in pixels and ext selects
// the output encoding. Children are materialized on demand: any size in
// (0, 1024] is served, whether or not a file of that name was ever
// uploaded.
package avatars

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calderas/go-davext/internal"
)

const (
	// DefaultSize is used when the size part of a child name is empty.
	DefaultSize = 64
	// MaxSize is the largest edge length a rendition may have.
	MaxSize = 1024

	// probeName is the rendition looked up to decide whether a principal
	// has an avatar at all.
	probeName = "96.jpeg"
)

// FileInfo carries the metadata of a source avatar image.
type FileInfo struct {
	ETag    string
	ModTime time.Time
}

// Backend provides source avatar images. Avatar returns the principal's
// avatar scaled to a square of the given edge length, or an HTTP 404
// error if the principal has none.
type Backend interface {
	Avatar(ctx context.Context, principal string, size int) (image.Image, *FileInfo, error)
}

// Collection is the virtual avatar collection of a single principal.
type Collection struct {
	Principal string
	Backend   Backend
}

// Child resolves a rendition by name. The name must be "{size}.{ext}"
// with ext "jpeg" or "png"; an empty size selects DefaultSize. It fails
// with 400 for a malformed size and 405 for an unsupported encoding or a
// size outside (0, MaxSize].
func (c *Collection) Child(name string) (*File, error) {
	base, ext, ok := strings.Cut(name, ".")
	if !ok {
		return nil, internal.HTTPErrorf(http.StatusMethodNotAllowed, "avatars: child %q has no extension", name)
	}
	if ext != "jpeg" && ext != "png" {
		return nil, internal.HTTPErrorf(http.StatusMethodNotAllowed, "avatars: unsupported image format %q", ext)
	}

	size := DefaultSize
	if base != "" {
		var err error
		size, err = strconv.Atoi(base)
		if err != nil {
			return nil, internal.HTTPErrorf(http.StatusBadRequest, "avatars: malformed size %q", base)
		}
	}
	if size <= 0 || size > MaxSize {
		return nil, internal.HTTPErrorf(http.StatusMethodNotAllowed, "avatars: size %d out of range", size)
	}

	return &File{
		collection: c,
		name:       name,
		size:       size,
		format:     ext,
	}, nil
}

// Children lists the renditions advertised for the principal. A single
// probe rendition is returned when the principal has an avatar, nothing
// otherwise.
func (c *Collection) Children(ctx context.Context) ([]*File, error) {
	f, err := c.Child(probeName)
	if err != nil {
		return nil, err
	}
	if _, err := f.Stat(ctx); err != nil {
		if internal.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return []*File{f}, nil
}

// File is a single avatar rendition.
type File struct {
	collection *Collection
	name       string
	size       int
	format     string
}

// Name returns the child name of the rendition within its collection.
func (f *File) Name() string {
	return f.name
}

// MIMEType returns the content type of the encoded rendition.
func (f *File) MIMEType() string {
	return "image/" + f.format
}

// Stat returns the metadata of the rendition's source image.
func (f *File) Stat(ctx context.Context) (*FileInfo, error) {
	_, fi, err := f.collection.Backend.Avatar(ctx, f.collection.Principal, f.size)
	if err != nil {
		return nil, err
	}
	return fi, nil
}

// Content encodes the scaled avatar in the rendition's format.
func (f *File) Content(ctx context.Context) ([]byte, *FileInfo, error) {
	img, fi, err := f.collection.Backend.Avatar(ctx, f.collection.Principal, f.size)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	switch f.format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	default:
		err = fmt.Errorf("avatars: unsupported image format %q", f.format)
	}
	if err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), fi, nil
}
