package search

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"

	"github.com/calderas/go-davext"
	"github.com/calderas/go-davext/internal"
)

// Backend is a search server backend. It owns the stored calendar and
// address objects; the handler owns the wire format and the filter
// evaluation contract.
type Backend interface {
	CalendarHomeSetPath(ctx context.Context) (string, error)
	AddressBookHomeSetPath(ctx context.Context) (string, error)

	// SearchCalendarObjects returns the calendar objects matching the
	// query, honoring its limit and offset. Backends without a native
	// query engine can list their objects and call FilterCalendarObjects.
	SearchCalendarObjects(ctx context.Context, query *Query) ([]CalendarObject, error)
	SearchAddressObjects(ctx context.Context, query *Query) ([]AddressObject, error)

	davext.UserPrincipalBackend
}

// Handler handles search REPORT requests.
type Handler struct {
	Backend Backend
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Backend == nil {
		http.Error(w, "search: no backend available", http.StatusInternalServerError)
		return
	}

	var err error
	switch r.Method {
	case "REPORT":
		err = h.handleReport(w, r)
	default:
		err = internal.HTTPErrorf(http.StatusMethodNotAllowed, "search: unsupported method")
	}

	if err != nil {
		internal.ServeError(w, err)
	}
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) error {
	var report reportReq
	if err := internal.DecodeXMLRequest(r, &report); err != nil {
		return err
	}

	if report.Calendar != nil {
		return h.handleCalendarSearch(w, r, &report.Calendar.searchReq)
	} else if report.AddressBook != nil {
		return h.handleAddressBookSearch(w, r, &report.AddressBook.searchReq)
	}
	return internal.HTTPErrorf(http.StatusBadRequest, "search: expected calendar-search or addressbook-search element in REPORT request")
}

func (h *Handler) handleCalendarSearch(w http.ResponseWriter, r *http.Request, req *searchReq) error {
	query, err := decodeSearchRequest(req)
	if err != nil {
		return err
	}

	cos, err := h.Backend.SearchCalendarObjects(r.Context(), query)
	if err != nil {
		return err
	}

	resps := make([]internal.Response, 0, len(cos))
	for i := range cos {
		resp, err := propfindCalendarObject(query, &cos[i])
		if err != nil {
			return err
		}
		resps = append(resps, *resp)
	}

	return internal.ServeMultistatus(w, internal.NewMultistatus(resps...))
}

func (h *Handler) handleAddressBookSearch(w http.ResponseWriter, r *http.Request, req *searchReq) error {
	query, err := decodeSearchRequest(req)
	if err != nil {
		return err
	}

	aos, err := h.Backend.SearchAddressObjects(r.Context(), query)
	if err != nil {
		return err
	}

	resps := make([]internal.Response, 0, len(aos))
	for i := range aos {
		resp, err := propfindAddressObject(query, &aos[i])
		if err != nil {
			return err
		}
		resps = append(resps, *resp)
	}

	return internal.ServeMultistatus(w, internal.NewMultistatus(resps...))
}

// decodeSearchRequest validates the report body and builds the query. All
// structural violations are reported as 400 errors naming the offending
// element.
func decodeSearchRequest(req *searchReq) (*Query, error) {
	if len(req.CompFilters) == 0 && len(req.PropFilters) == 0 && len(req.ParamFilters) == 0 {
		return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: report contains no comp-filter, prop-filter or param-filter element")
	}
	if len(req.CompFilters) == 0 {
		return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: prop-filter and param-filter elements require at least one comp-filter element")
	}
	if len(req.SearchTerms) == 0 {
		return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: report is missing the mandatory search-term element")
	}
	if len(req.PropFilters) == 0 && len(req.ParamFilters) == 0 {
		return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: report needs at least one prop-filter or param-filter element")
	}

	var q Query
	q.Props = req.Prop.XMLNames()

	for _, el := range req.CompFilters {
		cf, err := decodeCompFilter(&el)
		if err != nil {
			return nil, err
		}
		q.Filter.Comps = append(q.Filter.Comps, *cf)
	}
	for _, el := range req.PropFilters {
		pf, err := decodePropFilter(&el)
		if err != nil {
			return nil, err
		}
		q.Filter.Props = append(q.Filter.Props, *pf)
	}
	for _, el := range req.ParamFilters {
		pf, err := decodeParamFilter(&el)
		if err != nil {
			return nil, err
		}
		q.Filter.Params = append(q.Filter.Params, *pf)
	}

	// Repeated search-term elements overwrite each other, the last one
	// wins.
	term := req.SearchTerms[len(req.SearchTerms)-1]
	q.Filter.Term = TextMatch{
		Text:            term.Text,
		Collation:       term.Collation,
		NegateCondition: bool(term.NegateCondition),
	}

	if req.Limit != nil {
		if req.Limit.Value <= 0 {
			return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: limit must be a positive integer")
		}
		q.Limit = uint(req.Limit.Value)
	}
	if req.Offset != nil {
		if req.Offset.Value < 0 {
			return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: offset must not be negative")
		}
		q.Offset = uint(req.Offset.Value)
	}

	return &q, nil
}

func decodeParamFilter(el *paramFilter) (*ParamFilter, error) {
	pf := &ParamFilter{Name: el.Name}
	if el.IsNotDefined != nil {
		if el.TextMatch != nil {
			return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: failed to parse param-filter: if is-not-defined is provided, text-match can't be provided")
		}
		pf.IsNotDefined = true
	}
	if el.TextMatch != nil {
		pf.TextMatch = decodeTextMatch(el.TextMatch)
	}
	return pf, nil
}

func decodePropFilter(el *propFilter) (*PropFilter, error) {
	pf := &PropFilter{Name: el.Name}
	if el.IsNotDefined != nil {
		if el.TextMatch != nil || el.TimeRange != nil || len(el.ParamFilter) > 0 {
			return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: failed to parse prop-filter: if is-not-defined is provided, text-match, time-range, or param-filter can't be provided")
		}
		pf.IsNotDefined = true
	}
	if el.TextMatch != nil {
		pf.TextMatch = decodeTextMatch(el.TextMatch)
	}
	if el.TimeRange != nil {
		pf.Start, pf.End = decodeTimeRange(el.TimeRange)
	}
	for _, paramEl := range el.ParamFilter {
		paramFi, err := decodeParamFilter(&paramEl)
		if err != nil {
			return nil, err
		}
		pf.Params = append(pf.Params, *paramFi)
	}
	return pf, nil
}

func decodeCompFilter(el *compFilter) (*CompFilter, error) {
	cf := &CompFilter{Name: el.Name}
	if el.IsNotDefined != nil {
		if el.TimeRange != nil || len(el.PropFilters) > 0 || len(el.CompFilters) > 0 {
			return nil, internal.HTTPErrorf(http.StatusBadRequest, "search: failed to parse comp-filter: if is-not-defined is provided, time-range, prop-filter, or comp-filter can't be provided")
		}
		cf.IsNotDefined = true
	}
	if el.TimeRange != nil {
		cf.Start, cf.End = decodeTimeRange(el.TimeRange)
	}
	for _, pfEl := range el.PropFilters {
		pf, err := decodePropFilter(&pfEl)
		if err != nil {
			return nil, err
		}
		cf.Props = append(cf.Props, *pf)
	}
	for _, childEl := range el.CompFilters {
		child, err := decodeCompFilter(&childEl)
		if err != nil {
			return nil, err
		}
		cf.Comps = append(cf.Comps, *child)
	}
	return cf, nil
}

func decodeTextMatch(el *textMatch) *TextMatch {
	return &TextMatch{
		Text:            el.Text,
		Collation:       el.Collation,
		NegateCondition: bool(el.NegateCondition),
	}
}

func decodeTimeRange(el *timeRange) (start, end time.Time) {
	if el.Start != nil {
		start = time.Time(*el.Start)
	}
	if el.End != nil {
		end = time.Time(*el.End)
	}
	return start, end
}

func propfindCalendarObject(query *Query, co *CalendarObject) (*internal.Response, error) {
	props := map[xml.Name]internal.PropfindFunc{
		internal.GetContentTypeName: func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.GetContentType{Type: ical.MIMEType}, nil
		},
		calendarDataName: func(*internal.RawXMLValue) (interface{}, error) {
			var buf bytes.Buffer
			if err := ical.NewEncoder(&buf).Encode(co.Data); err != nil {
				return nil, fmt.Errorf("search: failed to encode calendar object: %w", err)
			}
			return &calendarDataResp{Data: buf.Bytes()}, nil
		},
	}
	if co.ETag != "" {
		props[internal.GetETagName] = func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.GetETag{ETag: internal.ETag(co.ETag)}, nil
		}
	}
	if !co.ModTime.IsZero() {
		props[internal.GetLastModifiedName] = func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.GetLastModified{LastModified: internal.Time(co.ModTime)}, nil
		}
	}

	propfind := internal.NewPropNamePropfind(query.Props...)
	return internal.NewPropfindResponse(co.Path, propfind, props)
}

func propfindAddressObject(query *Query, ao *AddressObject) (*internal.Response, error) {
	props := map[xml.Name]internal.PropfindFunc{
		internal.GetContentTypeName: func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.GetContentType{Type: vcard.MIMEType}, nil
		},
		addressDataName: func(*internal.RawXMLValue) (interface{}, error) {
			var buf bytes.Buffer
			if err := vcard.NewEncoder(&buf).Encode(ao.Card); err != nil {
				return nil, fmt.Errorf("search: failed to encode address object: %w", err)
			}
			return &addressDataResp{Data: buf.Bytes()}, nil
		},
	}
	if ao.ETag != "" {
		props[internal.GetETagName] = func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.GetETag{ETag: internal.ETag(ao.ETag)}, nil
		}
	}
	if !ao.ModTime.IsZero() {
		props[internal.GetLastModifiedName] = func(*internal.RawXMLValue) (interface{}, error) {
			return &internal.GetLastModified{LastModified: internal.Time(ao.ModTime)}, nil
		}
	}

	propfind := internal.NewPropNamePropfind(query.Props...)
	return internal.NewPropfindResponse(ao.Path, propfind, props)
}
