package internal

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Namespace is the standard WebDAV XML namespace.
const Namespace = "DAV:"

var (
	ResourceTypeName         = xml.Name{Space: Namespace, Local: "resourcetype"}
	DisplayNameName          = xml.Name{Space: Namespace, Local: "displayname"}
	GetContentTypeName       = xml.Name{Space: Namespace, Local: "getcontenttype"}
	GetLastModifiedName      = xml.Name{Space: Namespace, Local: "getlastmodified"}
	GetETagName              = xml.Name{Space: Namespace, Local: "getetag"}
	CurrentUserPrincipalName = xml.Name{Space: Namespace, Local: "current-user-principal"}
	GroupMemberSetName       = xml.Name{Space: Namespace, Local: "group-member-set"}
	GroupMembershipName      = xml.Name{Space: Namespace, Local: "group-membership"}
)

// Status is an HTTP status line, as used in multistatus responses.
type Status struct {
	Code int
	Text string
}

func (s *Status) MarshalText() ([]byte, error) {
	text := s.Text
	if text == "" {
		text = http.StatusText(s.Code)
	}
	return []byte(fmt.Sprintf("HTTP/1.1 %v %v", s.Code, text)), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	parts := strings.SplitN(string(b), " ", 3)
	if len(parts) != 3 {
		return fmt.Errorf("davext: invalid HTTP status %q: expected 3 fields", string(b))
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("davext: invalid HTTP status %q: failed to parse code: %v", string(b), err)
	}

	s.Code = code
	s.Text = parts[2]
	return nil
}

// Err returns an error if the status is not a success.
func (s *Status) Err() error {
	if s == nil {
		return nil
	}

	// TODO: handle 2xx, 3xx
	if s.Code != http.StatusOK {
		return &HTTPError{Code: s.Code}
	}
	return nil
}

type Href url.URL

func (h *Href) String() string {
	u := (*url.URL)(h)
	return u.String()
}

func (h *Href) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Href) UnmarshalText(b []byte) error {
	u, err := url.Parse(string(b))
	if err != nil {
		return err
	}
	*h = Href(*u)
	return nil
}

// https://tools.ietf.org/html/rfc4918#section-14.16
type Multistatus struct {
	XMLName             xml.Name   `xml:"DAV: multistatus"`
	Responses           []Response `xml:"response"`
	ResponseDescription string     `xml:"responsedescription,omitempty"`
}

func NewMultistatus(resps ...Response) *Multistatus {
	return &Multistatus{Responses: resps}
}

// Get returns the response for the resource with the provided path.
func (ms *Multistatus) Get(p string) (*Response, error) {
	// Clean the path to avoid issues with trailing slashes
	p = path.Clean(p)
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		for _, h := range resp.Hrefs {
			if path.Clean(h.Path) == p {
				return resp, resp.Err()
			}
		}
	}

	return nil, fmt.Errorf("davext: missing response for path %q", p)
}

// https://tools.ietf.org/html/rfc4918#section-14.24
type Response struct {
	XMLName             xml.Name   `xml:"DAV: response"`
	Hrefs               []Href     `xml:"href"`
	Propstats           []Propstat `xml:"propstat,omitempty"`
	ResponseDescription string     `xml:"responsedescription,omitempty"`
	Status              *Status    `xml:"status,omitempty"`
	Error               *Error     `xml:"error,omitempty"`
}

func NewOKResponse(p string) *Response {
	href := Href{Path: p}
	return &Response{Hrefs: []Href{href}}
}

func NewErrorResponse(p string, err error) *Response {
	code := http.StatusInternalServerError
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
	}

	var errElt *Error
	errors.As(err, &errElt)

	href := Href{Path: p}
	return &Response{
		Hrefs:               []Href{href},
		Status:              &Status{Code: code},
		ResponseDescription: err.Error(),
		Error:               errElt,
	}
}

func (resp *Response) Err() error {
	if resp.Status == nil || resp.Status.Code/100 == 2 {
		return nil
	}

	var err error
	if resp.Error != nil {
		err = resp.Error
	}
	if resp.ResponseDescription != "" {
		if err != nil {
			err = fmt.Errorf("%v (%w)", resp.ResponseDescription, err)
		} else {
			err = fmt.Errorf("%v", resp.ResponseDescription)
		}
	}

	return &HTTPError{Code: resp.Status.Code, Err: err}
}

func (resp *Response) Path() (string, error) {
	err := resp.Err()
	var p string
	if len(resp.Hrefs) == 1 {
		p = resp.Hrefs[0].Path
	} else if err == nil {
		err = fmt.Errorf("davext: malformed response: expected exactly one href element, got %v", len(resp.Hrefs))
	}
	return p, err
}

// DecodeProp decodes a set of properties from the response. Each value must
// be a pointer to a struct with an XMLName field.
func (resp *Response) DecodeProp(values ...interface{}) error {
	for _, v := range values {
		name, err := valueXMLName(v)
		if err != nil {
			return err
		}
		if err := resp.Err(); err != nil {
			return fmt.Errorf("davext: failed to decode property %q: %w", name, err)
		}
		ok := false
		for i := range resp.Propstats {
			propstat := &resp.Propstats[i]
			raw := propstat.Prop.Get(name)
			if raw == nil {
				continue
			}
			if err := propstat.Status.Err(); err != nil {
				return fmt.Errorf("davext: failed to decode property %q: %w", name, err)
			}
			if err := raw.Decode(v); err != nil {
				return fmt.Errorf("davext: failed to decode property %q: %w", name, err)
			}
			ok = true
			break
		}
		if !ok {
			return HTTPErrorf(http.StatusNotFound, "davext: missing property %s", name)
		}
	}

	return nil
}

// EncodeProp encodes a property value into the response, under the propstat
// matching the provided status code.
func (resp *Response) EncodeProp(code int, v interface{}) error {
	raw, err := EncodeRawXMLElement(v)
	if err != nil {
		return err
	}

	for i := range resp.Propstats {
		propstat := &resp.Propstats[i]
		if propstat.Status.Code == code {
			propstat.Prop.Raw = append(propstat.Prop.Raw, *raw)
			return nil
		}
	}

	propstat := Propstat{Status: Status{Code: code}}
	propstat.Prop.Raw = []RawXMLValue{*raw}
	resp.Propstats = append(resp.Propstats, propstat)
	return nil
}

// https://tools.ietf.org/html/rfc4918#section-14.22
type Propstat struct {
	XMLName             xml.Name `xml:"DAV: propstat"`
	Prop                Prop     `xml:"prop"`
	Status              Status   `xml:"status"`
	ResponseDescription string   `xml:"responsedescription,omitempty"`
	Error               *Error   `xml:"error,omitempty"`
}

// https://tools.ietf.org/html/rfc4918#section-14.18
type Prop struct {
	XMLName xml.Name      `xml:"DAV: prop"`
	Raw     []RawXMLValue `xml:",any"`
}

// EncodeProp builds a Prop element from a list of property values.
func EncodeProp(values ...interface{}) (*Prop, error) {
	l := make([]RawXMLValue, len(values))
	for i, v := range values {
		raw, err := EncodeRawXMLElement(v)
		if err != nil {
			return nil, err
		}
		l[i] = *raw
	}
	return &Prop{Raw: l}, nil
}

// Get returns the raw value of the property with the provided name, if any.
func (p *Prop) Get(name xml.Name) *RawXMLValue {
	for i := range p.Raw {
		raw := &p.Raw[i]
		if n, ok := raw.XMLName(); ok && name == n {
			return raw
		}
	}
	return nil
}

// Decode decodes a property value by its XML name.
func (p *Prop) Decode(v interface{}) error {
	name, err := valueXMLName(v)
	if err != nil {
		return err
	}

	raw := p.Get(name)
	if raw == nil {
		return HTTPErrorf(http.StatusNotFound, "davext: missing property %s", name)
	}

	return raw.Decode(v)
}

// XMLNames returns the names of the properties, in document order and with
// duplicates removed.
func (p *Prop) XMLNames() []xml.Name {
	if p == nil {
		return nil
	}
	seen := make(map[xml.Name]bool, len(p.Raw))
	var l []xml.Name
	for i := range p.Raw {
		if name, ok := p.Raw[i].XMLName(); ok && !seen[name] {
			seen[name] = true
			l = append(l, name)
		}
	}
	return l
}

// https://tools.ietf.org/html/rfc4918#section-14.20
type Propfind struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	Prop     *Prop     `xml:"prop,omitempty"`
	AllProp  *struct{} `xml:"allprop,omitempty"`
	PropName *struct{} `xml:"propname,omitempty"`
}

// NewPropNamePropfind builds a Propfind requesting the provided properties
// by name.
func NewPropNamePropfind(names ...xml.Name) *Propfind {
	children := make([]RawXMLValue, len(names))
	for i, name := range names {
		children[i] = *NewRawXMLElement(name, nil, nil)
	}
	return &Propfind{Prop: &Prop{Raw: children}}
}

// https://tools.ietf.org/html/rfc4918#section-14.19
type PropertyUpdate struct {
	XMLName xml.Name `xml:"DAV: propertyupdate"`
	Remove  []Remove `xml:"remove"`
	Set     []Set    `xml:"set"`
}

// https://tools.ietf.org/html/rfc4918#section-14.23
type Remove struct {
	XMLName xml.Name `xml:"DAV: remove"`
	Prop    Prop     `xml:"prop"`
}

// https://tools.ietf.org/html/rfc4918#section-14.26
type Set struct {
	XMLName xml.Name `xml:"DAV: set"`
	Prop    Prop     `xml:"prop"`
}

// https://tools.ietf.org/html/rfc4918#section-15.9
type ResourceType struct {
	XMLName xml.Name      `xml:"DAV: resourcetype"`
	Raw     []RawXMLValue `xml:",any"`
}

func NewResourceType(names ...xml.Name) *ResourceType {
	l := make([]RawXMLValue, len(names))
	for i, name := range names {
		l[i] = *NewRawXMLElement(name, nil, nil)
	}
	return &ResourceType{Raw: l}
}

func (t *ResourceType) Is(name xml.Name) bool {
	for _, raw := range t.Raw {
		if n, ok := raw.XMLName(); ok && name == n {
			return true
		}
	}
	return false
}

var (
	CollectionName = xml.Name{Space: Namespace, Local: "collection"}
	PrincipalName  = xml.Name{Space: Namespace, Local: "principal"}
)

// https://tools.ietf.org/html/rfc4918#section-15.4
type GetContentLength struct {
	XMLName xml.Name `xml:"DAV: getcontentlength"`
	Length  int64    `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc4918#section-15.5
type GetContentType struct {
	XMLName xml.Name `xml:"DAV: getcontenttype"`
	Type    string   `xml:",chardata"`
}

// Time is a timestamp serialized in the HTTP date format, as used by
// getlastmodified.
type Time time.Time

func (t *Time) UnmarshalText(b []byte) error {
	tt, err := http.ParseTime(string(b))
	if err != nil {
		return err
	}
	*t = Time(tt)
	return nil
}

func (t *Time) MarshalText() ([]byte, error) {
	s := time.Time(*t).UTC().Format(http.TimeFormat)
	return []byte(s), nil
}

// https://tools.ietf.org/html/rfc4918#section-15.7
type GetLastModified struct {
	XMLName      xml.Name `xml:"DAV: getlastmodified"`
	LastModified Time     `xml:",chardata"`
}

// ETag is an HTTP entity tag. It's serialized with surrounding double
// quotes.
type ETag string

func (etag *ETag) UnmarshalText(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("davext: failed to unquote ETag: %v", err)
	}
	*etag = ETag(s)
	return nil
}

func (etag ETag) MarshalText() ([]byte, error) {
	return []byte(etag.String()), nil
}

func (etag ETag) String() string {
	return fmt.Sprintf("%q", string(etag))
}

// https://tools.ietf.org/html/rfc4918#section-15.6
type GetETag struct {
	XMLName xml.Name `xml:"DAV: getetag"`
	ETag    ETag     `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc4918#section-15.2
type DisplayName struct {
	XMLName xml.Name `xml:"DAV: displayname"`
	Name    string   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc5397#section-3
type CurrentUserPrincipal struct {
	XMLName         xml.Name  `xml:"DAV: current-user-principal"`
	Href            Href      `xml:"href,omitempty"`
	Unauthenticated *struct{} `xml:"unauthenticated,omitempty"`
}

// https://tools.ietf.org/html/rfc4918#section-14.5
type Error struct {
	XMLName xml.Name      `xml:"DAV: error"`
	Raw     []RawXMLValue `xml:",any"`
}

func (err *Error) Error() string {
	b, _ := xml.Marshal(err)
	return string(b)
}

// valueXMLName extracts the XML name of a property value from the tag of
// its XMLName field.
func valueXMLName(v interface{}) (xml.Name, error) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return xml.Name{}, fmt.Errorf("davext: %T is not a struct", v)
	}
	nameField, ok := t.FieldByName("XMLName")
	if !ok {
		return xml.Name{}, fmt.Errorf("davext: %T is missing an XMLName struct field", v)
	}
	tag, ok := nameField.Tag.Lookup("xml")
	if !ok {
		return xml.Name{}, fmt.Errorf("davext: %T is missing an xml tag on its XMLName field", v)
	}
	name := strings.Split(tag, ",")[0]
	nameParts := strings.Split(name, " ")
	if len(nameParts) != 2 {
		return xml.Name{}, fmt.Errorf("davext: expected a namespace and a local name in %T's xml tag", v)
	}
	return xml.Name{Space: nameParts[0], Local: nameParts[1]}, nil
}
