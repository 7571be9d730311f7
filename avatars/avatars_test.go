package avatars

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderas/go-davext/internal"
)

type memoryBackend map[string]image.Image

func (b memoryBackend) Avatar(ctx context.Context, principal string, size int) (image.Image, *FileInfo, error) {
	src, ok := b[principal]
	if !ok {
		return nil, nil, internal.HTTPErrorf(http.StatusNotFound, "no avatar for %q", principal)
	}
	// the stub ignores the scaling, but the size still shapes the output
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dst.Set(x, y, src.At(0, 0))
		}
	}
	fi := &FileInfo{
		ETag:    "stub-etag",
		ModTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	return dst, fi, nil
}

func testImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func testCollection() *Collection {
	backend := memoryBackend{"principals/users/alice": testImage(color.RGBA{R: 255, A: 255})}
	return &Collection{Principal: "principals/users/alice", Backend: backend}
}

func assertChildFails(t *testing.T, c *Collection, name string, code int) {
	t.Helper()
	_, err := c.Child(name)
	var httpErr *internal.HTTPError
	require.ErrorAs(t, err, &httpErr, "child %q", name)
	assert.Equal(t, code, httpErr.Code, "child %q", name)
}

func TestCollection_childNames(t *testing.T) {
	c := testCollection()

	f, err := c.Child("96.jpeg")
	require.NoError(t, err)
	assert.Equal(t, 96, f.size)
	assert.Equal(t, "image/jpeg", f.MIMEType())

	f, err = c.Child("1024.png")
	require.NoError(t, err)
	assert.Equal(t, 1024, f.size)

	f, err = c.Child(".png")
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, f.size)

	assertChildFails(t, c, "0.png", http.StatusMethodNotAllowed)
	assertChildFails(t, c, "-5.png", http.StatusMethodNotAllowed)
	assertChildFails(t, c, "1025.png", http.StatusMethodNotAllowed)
	assertChildFails(t, c, "64.gif", http.StatusMethodNotAllowed)
	assertChildFails(t, c, "64", http.StatusMethodNotAllowed)
	assertChildFails(t, c, "large.png", http.StatusBadRequest)
}

func TestCollection_children(t *testing.T) {
	c := testCollection()

	children, err := c.Children(context.Background())
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "96.jpeg", children[0].Name())

	missing := &Collection{Principal: "principals/users/bob", Backend: c.Backend}
	children, err = missing.Children(context.Background())
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestFile_content(t *testing.T) {
	c := testCollection()

	f, err := c.Child("32.png")
	require.NoError(t, err)

	data, fi, err := f.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stub-etag", fi.ETag)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), img.Bounds())
}

func TestLocalBackend(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(color.RGBA{G: 255, A: 255})))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.png"), buf.Bytes(), 0o600))

	backend := NewLocalBackend(dir)

	img, fi, err := backend.Avatar(context.Background(), "principals/users/alice", 16)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
	assert.NotEmpty(t, fi.ETag)

	_, _, err = backend.Avatar(context.Background(), "principals/users/bob", 16)
	assert.True(t, internal.IsNotFound(err))
}

func testHandler() *Handler {
	backend := memoryBackend{"alice": testImage(color.RGBA{B: 255, A: 255})}
	return &Handler{Backend: backend, Prefix: "/avatars"}
}

func TestHandler_get(t *testing.T) {
	h := testHandler()

	r := httptest.NewRequest(http.MethodGet, "/avatars/alice/96.jpeg", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, `"stub-etag"`, resp.Header.Get("ETag"))

	r = httptest.NewRequest(http.MethodGet, "/avatars/bob/96.jpeg", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)

	r = httptest.NewRequest(http.MethodGet, "/avatars/alice/2048.png", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Result().StatusCode)
}

type zeroModTimeBackend struct {
	inner memoryBackend
}

func (b zeroModTimeBackend) Avatar(ctx context.Context, principal string, size int) (image.Image, *FileInfo, error) {
	img, fi, err := b.inner.Avatar(ctx, principal, size)
	if err != nil {
		return nil, nil, err
	}
	fi.ModTime = time.Time{}
	return img, fi, nil
}

func TestHandler_zeroModTime(t *testing.T) {
	backend := zeroModTimeBackend{inner: memoryBackend{"alice": testImage(color.RGBA{B: 255, A: 255})}}
	h := &Handler{Backend: backend, Prefix: "/avatars"}

	r := httptest.NewRequest(http.MethodGet, "/avatars/alice/96.jpeg", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Last-Modified"))

	body := `<?xml version="1.0" encoding="UTF-8"?>
		<propfind xmlns="DAV:">
			<prop><getlastmodified/></prop>
		</propfind>`
	r = httptest.NewRequest("PROPFIND", "/avatars/alice/96.jpeg", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/xml")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusMultiStatus, w.Result().StatusCode)
	out := w.Body.String()
	assert.Contains(t, out, "404")
	assert.NotContains(t, out, "0001")
}

func TestHandler_readOnly(t *testing.T) {
	h := testHandler()

	for _, method := range []string{http.MethodPut, http.MethodPost, http.MethodDelete, "PROPPATCH", "MKCOL", "COPY", "MOVE"} {
		r := httptest.NewRequest(method, "/avatars/alice/96.jpeg", strings.NewReader("x"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Result().StatusCode, "method %v", method)
	}
}

func TestHandler_propfind(t *testing.T) {
	h := testHandler()

	body := `<?xml version="1.0" encoding="UTF-8"?>
		<propfind xmlns="DAV:">
			<prop>
				<resourcetype/>
				<getcontenttype/>
			</prop>
		</propfind>`
	r := httptest.NewRequest("PROPFIND", "/avatars/alice/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/xml")
	r.Header.Set("Depth", "1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	out := w.Body.String()
	assert.Contains(t, out, "/avatars/alice/96.jpeg")
	assert.Contains(t, out, "image/jpeg")
}
