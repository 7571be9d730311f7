package proxy

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/calderas/go-davext/internal"
)

// Handler exposes the proxy groups of a principal tree over WebDAV. It
// answers PROPFIND for the RFC 3744 group properties and PROPPATCH for
// DAV:group-member-set on the proxy group principals.
type Handler struct {
	Resolver *Resolver
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case "PROPFIND":
		err = h.handlePropfind(w, r)
	case "PROPPATCH":
		err = h.handleProppatch(w, r)
	case http.MethodOptions:
		w.Header().Set("Allow", "OPTIONS, PROPFIND, PROPPATCH")
		w.Header().Add("DAV", "1, 3, access-control")
		w.WriteHeader(http.StatusNoContent)
	default:
		err = internal.HTTPErrorf(http.StatusMethodNotAllowed, "proxy: unsupported method")
	}
	if err != nil {
		internal.ServeError(w, err)
	}
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

	uri := strings.Trim(r.URL.Path, "/")
	resp, err := h.propfindPrincipal(r, uri, &propfind)
	if err != nil {
		return err
	}
	ms := internal.NewMultistatus(*resp)

	if depth != internal.DepthZero && !h.Resolver.IsProxyPrincipal(uri) {
		for _, suffix := range []string{ReadSuffix, WriteSuffix} {
			child, err := h.propfindPrincipal(r, uri+"/"+suffix, &propfind)
			if err != nil {
				return err
			}
			ms.Responses = append(ms.Responses, *child)
		}
	}

	return internal.ServeMultistatus(w, ms)
}

func (h *Handler) propfindPrincipal(r *http.Request, uri string, propfind *internal.Propfind) (*internal.Response, error) {
	props := map[xml.Name]internal.PropfindFunc{
		internal.ResourceTypeName: func(*internal.RawXMLValue) (interface{}, error) {
			return internal.NewResourceType(internal.CollectionName, internal.PrincipalName), nil
		},
		internal.GroupMembershipName: func(*internal.RawXMLValue) (interface{}, error) {
			groups, err := h.Resolver.GroupMembership(r.Context(), uri)
			if err != nil {
				return nil, err
			}
			return &internal.GroupMembership{Href: hrefs(groups)}, nil
		},
	}

	if h.Resolver.IsProxyPrincipal(uri) {
		props[internal.GroupMemberSetName] = func(*internal.RawXMLValue) (interface{}, error) {
			members, err := h.Resolver.GroupMemberSet(r.Context(), uri)
			if err != nil {
				return nil, err
			}
			return &internal.GroupMemberSet{Href: hrefs(members)}, nil
		}
	} else {
		props[internal.DisplayNameName] = func(*internal.RawXMLValue) (interface{}, error) {
			principal, err := h.Resolver.principals.PrincipalByPath(r.Context(), uri)
			if err != nil {
				return nil, err
			}
			return &internal.DisplayName{Name: principal.DisplayName}, nil
		}
	}

	return internal.NewPropfindResponse("/"+uri, propfind, props)
}

func (h *Handler) handleProppatch(w http.ResponseWriter, r *http.Request) error {
	var update internal.PropertyUpdate
	if err := internal.DecodeXMLRequest(r, &update); err != nil {
		return err
	}

	uri := strings.Trim(r.URL.Path, "/")
	resp := internal.NewOKResponse("/" + uri)

	for _, set := range update.Set {
		for _, raw := range set.Prop.Raw {
			name, ok := raw.XMLName()
			if !ok {
				continue
			}
			if name != internal.GroupMemberSetName {
				emptyVal := internal.NewRawXMLElement(name, nil, nil)
				if err := resp.EncodeProp(http.StatusForbidden, emptyVal); err != nil {
					return err
				}
				continue
			}

			var memberSet internal.GroupMemberSet
			if err := raw.Decode(&memberSet); err != nil {
				return internal.HTTPErrorFromError(err)
			}
			members := make([]string, len(memberSet.Href))
			for i, href := range memberSet.Href {
				members[i] = href.Path
			}

			if err := h.Resolver.SetGroupMemberSet(r.Context(), uri, members); err != nil {
				return err
			}

			emptyVal := internal.NewRawXMLElement(name, nil, nil)
			if err := resp.EncodeProp(http.StatusOK, emptyVal); err != nil {
				return err
			}
		}
	}
	for _, remove := range update.Remove {
		for _, raw := range remove.Prop.Raw {
			if name, ok := raw.XMLName(); ok {
				emptyVal := internal.NewRawXMLElement(name, nil, nil)
				if err := resp.EncodeProp(http.StatusForbidden, emptyVal); err != nil {
					return err
				}
			}
		}
	}

	return internal.ServeMultistatus(w, internal.NewMultistatus(*resp))
}

func hrefs(paths []string) []internal.Href {
	l := make([]internal.Href, len(paths))
	for i, p := range paths {
		l[i] = internal.Href{Path: "/" + strings.Trim(p, "/") + "/"}
	}
	return l
}
