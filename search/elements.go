package search

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/calderas/go-davext/internal"
)

var (
	calendarDataName = xml.Name{Space: Namespace, Local: "calendar-data"}
	addressDataName  = xml.Name{Space: Namespace, Local: "address-data"}
)

// Request body of a search REPORT. The element vocabulary is shared by both
// report roots; unrecognized child elements are ignored.
type searchReq struct {
	Prop         *internal.Prop `xml:"DAV: prop"`
	CompFilters  []compFilter   `xml:"http://calderas.io/ns comp-filter"`
	PropFilters  []propFilter   `xml:"http://calderas.io/ns prop-filter"`
	ParamFilters []paramFilter  `xml:"http://calderas.io/ns param-filter"`
	SearchTerms  []searchTerm   `xml:"http://calderas.io/ns search-term"`
	Limit        *limit         `xml:"http://calderas.io/ns limit"`
	Offset       *offset        `xml:"http://calderas.io/ns offset"`
}

type calendarSearch struct {
	XMLName xml.Name `xml:"http://calderas.io/ns calendar-search"`
	searchReq
}

type addressbookSearch struct {
	XMLName xml.Name `xml:"http://calderas.io/ns addressbook-search"`
	searchReq
}

type reportReq struct {
	Calendar    *calendarSearch
	AddressBook *addressbookSearch
}

func (r *reportReq) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	switch start.Name {
	case xml.Name{Space: Namespace, Local: "calendar-search"}:
		r.Calendar = &calendarSearch{}
		return d.DecodeElement(r.Calendar, &start)
	case xml.Name{Space: Namespace, Local: "addressbook-search"}:
		r.AddressBook = &addressbookSearch{}
		return d.DecodeElement(r.AddressBook, &start)
	default:
		return internal.HTTPErrorf(http.StatusBadRequest, "search: unsupported REPORT root %v %v", start.Name.Space, start.Name.Local)
	}
}

type compFilter struct {
	XMLName      xml.Name     `xml:"http://calderas.io/ns comp-filter"`
	Name         string       `xml:"name,attr"`
	IsNotDefined *struct{}    `xml:"is-not-defined,omitempty"`
	TimeRange    *timeRange   `xml:"time-range,omitempty"`
	PropFilters  []propFilter `xml:"prop-filter,omitempty"`
	CompFilters  []compFilter `xml:"comp-filter,omitempty"`
}

type propFilter struct {
	XMLName      xml.Name      `xml:"http://calderas.io/ns prop-filter"`
	Name         string        `xml:"name,attr"`
	IsNotDefined *struct{}     `xml:"is-not-defined,omitempty"`
	TimeRange    *timeRange    `xml:"time-range,omitempty"`
	TextMatch    *textMatch    `xml:"text-match,omitempty"`
	ParamFilter  []paramFilter `xml:"param-filter,omitempty"`
}

type paramFilter struct {
	XMLName      xml.Name   `xml:"http://calderas.io/ns param-filter"`
	Name         string     `xml:"name,attr"`
	IsNotDefined *struct{}  `xml:"is-not-defined,omitempty"`
	TextMatch    *textMatch `xml:"text-match,omitempty"`
}

type textMatch struct {
	XMLName         xml.Name        `xml:"http://calderas.io/ns text-match"`
	Collation       string          `xml:"collation,attr,omitempty"`
	NegateCondition negateCondition `xml:"negate-condition,attr,omitempty"`
	Text            string          `xml:",chardata"`
}

// search-term carries the same attributes as text-match.
type searchTerm struct {
	XMLName         xml.Name        `xml:"http://calderas.io/ns search-term"`
	Collation       string          `xml:"collation,attr,omitempty"`
	NegateCondition negateCondition `xml:"negate-condition,attr,omitempty"`
	Text            string          `xml:",chardata"`
}

type negateCondition bool

func (nc *negateCondition) UnmarshalText(b []byte) error {
	switch s := string(b); s {
	case "yes":
		*nc = true
	case "no":
		*nc = false
	default:
		return fmt.Errorf("search: invalid negate-condition value %q", s)
	}
	return nil
}

func (nc negateCondition) MarshalText() ([]byte, error) {
	if nc {
		return []byte("yes"), nil
	}
	return nil, nil
}

type timeRange struct {
	XMLName xml.Name         `xml:"http://calderas.io/ns time-range"`
	Start   *dateWithUTCTime `xml:"start,attr,omitempty"`
	End     *dateWithUTCTime `xml:"end,attr,omitempty"`
}

const dateWithUTCTimeFormat = "20060102T150405Z"

// "date with UTC time" value, as defined in RFC 4791 section 9.9.
type dateWithUTCTime time.Time

func (t *dateWithUTCTime) UnmarshalText(b []byte) error {
	res, err := time.ParseInLocation(dateWithUTCTimeFormat, string(b), time.UTC)
	if err != nil {
		return err
	}
	*t = dateWithUTCTime(res)
	return nil
}

func (t *dateWithUTCTime) MarshalText() ([]byte, error) {
	s := time.Time(*t).UTC().Format(dateWithUTCTimeFormat)
	return []byte(s), nil
}

type limit struct {
	XMLName xml.Name `xml:"http://calderas.io/ns limit"`
	Value   int64    `xml:",chardata"`
}

type offset struct {
	XMLName xml.Name `xml:"http://calderas.io/ns offset"`
	Value   int64    `xml:",chardata"`
}

// Response-only elements carrying the serialized object data.
type calendarDataResp struct {
	XMLName xml.Name `xml:"http://calderas.io/ns calendar-data"`
	Data    []byte   `xml:",chardata"`
}

type addressDataResp struct {
	XMLName xml.Name `xml:"http://calderas.io/ns address-data"`
	Data    []byte   `xml:",chardata"`
}
