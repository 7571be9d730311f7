// Package search implements a calendar and address book search REPORT.
//
// The report is carried in a vendor namespace and combines a component
// filter tree in the style of RFC 4791 section 9.7 with a free-text search
// term, a limit and an offset. Two report roots share the same vocabulary:
// calendar-search matches iCalendar objects, addressbook-search matches
// vCard objects.
package search

import (
	"encoding/xml"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
)

// Namespace is the XML namespace of the search report and its child
// elements.
const Namespace = "http://calderas.io/ns"

// Query is the parsed form of a search REPORT request.
type Query struct {
	// Props lists the properties requested for each matching object,
	// deduplicated and in document order.
	Props []xml.Name
	Filter Filter
	// Limit caps the number of returned objects. Zero means unbounded.
	Limit uint
	// Offset is the number of matching objects to skip.
	Offset uint
}

// Filter is the filter tree of a search request.
//
// Comps scope the search to components, Props and Params restrict which
// properties and parameters of the scoped components are considered, and
// Term is the mandatory free-text term matched against the values of the
// considered properties.
type Filter struct {
	Comps  []CompFilter
	Props  []PropFilter
	Params []ParamFilter
	// Term is never empty: parsing fails if the request carries no
	// search-term element.
	Term TextMatch
}

// CompFilter matches a component and its nested constraints.
type CompFilter struct {
	Name         string
	IsNotDefined bool
	Start, End   time.Time
	Props        []PropFilter
	Comps        []CompFilter
}

// PropFilter matches a property by name, optionally constrained by a time
// range, parameter filters and a text match.
type PropFilter struct {
	Name         string
	IsNotDefined bool
	Start, End   time.Time
	Params       []ParamFilter
	TextMatch    *TextMatch
}

// ParamFilter matches a property parameter by name.
type ParamFilter struct {
	Name         string
	IsNotDefined bool
	TextMatch    *TextMatch
}

// TextMatch is a textual match with an optional collation.
type TextMatch struct {
	Text            string
	Collation       string
	NegateCondition bool
}

// CalendarObject is a stored iCalendar object.
type CalendarObject struct {
	Path    string
	ModTime time.Time
	ETag    string
	Data    *ical.Calendar
}

// AddressObject is a stored vCard object.
type AddressObject struct {
	Path    string
	ModTime time.Time
	ETag    string
	Card    vcard.Card
}
