package avatars

import (
	"encoding/xml"
	"net/http"
	"path"
	"strings"

	"github.com/calderas/go-davext/internal"
)

// Handler serves the avatar collections of all principals below a URL
// prefix. The collection for a principal lives at "{prefix}/{name}/" and
// its renditions at "{prefix}/{name}/{size}.{ext}". The tree is
// read-only: every mutating method is rejected with 403.
type Handler struct {
	Backend Backend
	Prefix  string
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		err = h.handleGet(w, r)
	case "PROPFIND":
		err = h.handlePropfind(w, r)
	case http.MethodOptions:
		w.Header().Set("Allow", "OPTIONS, GET, HEAD, PROPFIND")
		w.Header().Add("DAV", "1, 3")
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut, http.MethodPost, http.MethodDelete, "PROPPATCH", "MKCOL", "COPY", "MOVE":
		err = internal.HTTPErrorf(http.StatusForbidden, "avatars: collection is read-only")
	default:
		err = internal.HTTPErrorf(http.StatusMethodNotAllowed, "avatars: unsupported method")
	}
	if err != nil {
		internal.ServeError(w, err)
	}
}

// resolve splits the request path into the principal's collection and,
// when the path names a rendition, its child name.
func (h *Handler) resolve(reqPath string) (*Collection, string, error) {
	p := strings.Trim(strings.TrimPrefix(reqPath, h.Prefix), "/")
	if p == "" {
		return nil, "", internal.HTTPErrorf(http.StatusNotFound, "avatars: no principal in request path")
	}

	dir, last := path.Split(p)
	if strings.Contains(last, ".") {
		principal := strings.Trim(dir, "/")
		if principal == "" {
			return nil, "", internal.HTTPErrorf(http.StatusNotFound, "avatars: no principal in request path")
		}
		return &Collection{Principal: principal, Backend: h.Backend}, last, nil
	}
	return &Collection{Principal: p, Backend: h.Backend}, "", nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) error {
	c, name, err := h.resolve(r.URL.Path)
	if err != nil {
		return err
	}
	if name == "" {
		return internal.HTTPErrorf(http.StatusMethodNotAllowed, "avatars: cannot GET a collection")
	}

	f, err := c.Child(name)
	if err != nil {
		return err
	}
	data, fi, err := f.Content(r.Context())
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", f.MIMEType())
	w.Header().Set("ETag", internal.ETag(fi.ETag).String())
	if !fi.ModTime.IsZero() {
		w.Header().Set("Last-Modified", fi.ModTime.UTC().Format(http.TimeFormat))
	}
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = w.Write(data)
	return err
}

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request) error {
	var propfind internal.Propfind
	if err := internal.DecodeXMLRequest(r, &propfind); err != nil {
		return err
	}

	depth := internal.DepthZero
	if s := r.Header.Get("Depth"); s != "" {
		var err error
		depth, err = internal.ParseDepth(s)
		if err != nil {
			return &internal.HTTPError{Code: http.StatusBadRequest, Err: err}
		}
	}

	c, name, err := h.resolve(r.URL.Path)
	if err != nil {
		return err
	}

	var ms *internal.Multistatus
	if name != "" {
		f, err := c.Child(name)
		if err != nil {
			return err
		}
		resp, err := h.propfindFile(r, c, f, &propfind)
		if err != nil {
			return err
		}
		ms = internal.NewMultistatus(*resp)
	} else {
		resp, err := h.propfindCollection(c, &propfind)
		if err != nil {
			return err
		}
		ms = internal.NewMultistatus(*resp)

		if depth != internal.DepthZero {
			children, err := c.Children(r.Context())
			if err != nil {
				return err
			}
			for _, f := range children {
				resp, err := h.propfindFile(r, c, f, &propfind)
				if err != nil {
					return err
				}
				ms.Responses = append(ms.Responses, *resp)
			}
		}
	}

	return internal.ServeMultistatus(w, ms)
}

func (h *Handler) collectionPath(c *Collection) string {
	return path.Join(h.Prefix, c.Principal) + "/"
}

func (h *Handler) propfindCollection(c *Collection, propfind *internal.Propfind) (*internal.Response, error) {
	props := map[xml.Name]internal.PropfindFunc{
		internal.ResourceTypeName: func(*internal.RawXMLValue) (interface{}, error) {
			return internal.NewResourceType(internal.CollectionName), nil
		},
		internal.DisplayNameName: func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.DisplayName{Name: path.Base(c.Principal)}, nil
		},
	}
	return internal.NewPropfindResponse(h.collectionPath(c), propfind, props)
}

func (h *Handler) propfindFile(r *http.Request, c *Collection, f *File, propfind *internal.Propfind) (*internal.Response, error) {
	props := map[xml.Name]internal.PropfindFunc{
		internal.GetContentTypeName: func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.GetContentType{Type: f.MIMEType()}, nil
		},
		internal.GetETagName: func(*internal.RawXMLValue) (interface{}, error) {
			fi, err := f.Stat(r.Context())
			if err != nil {
				return nil, err
			}
			return &internal.GetETag{ETag: internal.ETag(fi.ETag)}, nil
		},
		internal.GetLastModifiedName: func(*internal.RawXMLValue) (interface{}, error) {
			fi, err := f.Stat(r.Context())
			if err != nil {
				return nil, err
			}
			if fi.ModTime.IsZero() {
				return nil, internal.HTTPErrorf(http.StatusNotFound, "avatars: backend reports no modification time")
			}
			return &internal.GetLastModified{LastModified: internal.Time(fi.ModTime)}, nil
		},
	}
	return internal.NewPropfindResponse(h.collectionPath(c)+f.Name(), propfind, props)
}
