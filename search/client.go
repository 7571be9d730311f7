package search

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"

	"github.com/calderas/go-davext/internal"
)

// Client provides access to a remote server implementing the search
// REPORT.
type Client struct {
	ic *internal.Client
}

func NewClient(c internal.HTTPClient, endpoint string) (*Client, error) {
	ic, err := internal.NewClient(c, endpoint)
	if err != nil {
		return nil, err
	}
	return &Client{ic}, nil
}

// QueryCalendar performs a calendar-search REPORT against the collection at
// the provided path.
func (c *Client) QueryCalendar(path string, query *Query) ([]CalendarObject, error) {
	req := calendarSearch{searchReq: encodeSearchRequest(query)}

	httpReq, err := c.ic.NewXMLRequest("REPORT", path, &req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Add("Depth", "1")

	ms, err := c.ic.DoMultiStatus(httpReq)
	if err != nil {
		return nil, err
	}

	l := make([]CalendarObject, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		p, err := resp.Path()
		if err != nil {
			return nil, err
		}

		co := CalendarObject{Path: p}

		var data calendarDataResp
		if err := resp.DecodeProp(&data); err != nil {
			return nil, err
		}
		cal, err := ical.NewDecoder(strings.NewReader(string(data.Data))).Decode()
		if err != nil {
			return nil, err
		}
		co.Data = cal

		var getETag internal.GetETag
		if err := resp.DecodeProp(&getETag); err == nil {
			co.ETag = string(getETag.ETag)
		} else if !internal.IsNotFound(err) {
			return nil, err
		}

		var getMod internal.GetLastModified
		if err := resp.DecodeProp(&getMod); err == nil {
			co.ModTime = time.Time(getMod.LastModified)
		} else if !internal.IsNotFound(err) {
			return nil, err
		}

		l = append(l, co)
	}
	return l, nil
}

// QueryAddressBook performs an addressbook-search REPORT against the
// collection at the provided path.
func (c *Client) QueryAddressBook(path string, query *Query) ([]AddressObject, error) {
	req := addressbookSearch{searchReq: encodeSearchRequest(query)}

	httpReq, err := c.ic.NewXMLRequest("REPORT", path, &req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Add("Depth", "1")

	ms, err := c.ic.DoMultiStatus(httpReq)
	if err != nil {
		return nil, err
	}

	l := make([]AddressObject, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		p, err := resp.Path()
		if err != nil {
			return nil, err
		}

		ao := AddressObject{Path: p}

		var data addressDataResp
		if err := resp.DecodeProp(&data); err != nil {
			return nil, err
		}
		card, err := vcard.NewDecoder(strings.NewReader(string(data.Data))).Decode()
		if err != nil {
			return nil, err
		}
		ao.Card = card

		var getETag internal.GetETag
		if err := resp.DecodeProp(&getETag); err == nil {
			ao.ETag = string(getETag.ETag)
		} else if !internal.IsNotFound(err) {
			return nil, err
		}

		var getMod internal.GetLastModified
		if err := resp.DecodeProp(&getMod); err == nil {
			ao.ModTime = time.Time(getMod.LastModified)
		} else if !internal.IsNotFound(err) {
			return nil, err
		}

		l = append(l, ao)
	}
	return l, nil
}

func encodeSearchRequest(query *Query) searchReq {
	var req searchReq

	if len(query.Props) > 0 {
		req.Prop = internal.NewPropNamePropfind(query.Props...).Prop
	}

	for _, cf := range query.Filter.Comps {
		req.CompFilters = append(req.CompFilters, encodeCompFilter(&cf))
	}
	for _, pf := range query.Filter.Props {
		req.PropFilters = append(req.PropFilters, encodePropFilter(&pf))
	}
	for _, pmf := range query.Filter.Params {
		req.ParamFilters = append(req.ParamFilters, encodeParamFilter(&pmf))
	}

	req.SearchTerms = []searchTerm{{
		Collation:       query.Filter.Term.Collation,
		NegateCondition: negateCondition(query.Filter.Term.NegateCondition),
		Text:            query.Filter.Term.Text,
	}}

	if query.Limit > 0 {
		req.Limit = &limit{Value: int64(query.Limit)}
	}
	if query.Offset > 0 {
		req.Offset = &offset{Value: int64(query.Offset)}
	}

	return req
}

func encodeCompFilter(cf *CompFilter) compFilter {
	el := compFilter{Name: cf.Name}
	if cf.IsNotDefined {
		el.IsNotDefined = &struct{}{}
	}
	el.TimeRange = encodeTimeRange(cf.Start, cf.End)
	for _, pf := range cf.Props {
		el.PropFilters = append(el.PropFilters, encodePropFilter(&pf))
	}
	for _, child := range cf.Comps {
		el.CompFilters = append(el.CompFilters, encodeCompFilter(&child))
	}
	return el
}

func encodePropFilter(pf *PropFilter) propFilter {
	el := propFilter{Name: pf.Name}
	if pf.IsNotDefined {
		el.IsNotDefined = &struct{}{}
	}
	el.TimeRange = encodeTimeRange(pf.Start, pf.End)
	if pf.TextMatch != nil {
		el.TextMatch = encodeTextMatch(pf.TextMatch)
	}
	for _, pmf := range pf.Params {
		el.ParamFilter = append(el.ParamFilter, encodeParamFilter(&pmf))
	}
	return el
}

func encodeParamFilter(pmf *ParamFilter) paramFilter {
	el := paramFilter{Name: pmf.Name}
	if pmf.IsNotDefined {
		el.IsNotDefined = &struct{}{}
	}
	if pmf.TextMatch != nil {
		el.TextMatch = encodeTextMatch(pmf.TextMatch)
	}
	return el
}

func encodeTextMatch(tm *TextMatch) *textMatch {
	return &textMatch{
		Collation:       tm.Collation,
		NegateCondition: negateCondition(tm.NegateCondition),
		Text:            tm.Text,
	}
}

func encodeTimeRange(start, end time.Time) *timeRange {
	if start.IsZero() && end.IsZero() {
		return nil
	}
	tr := &timeRange{}
	if !start.IsZero() {
		s := dateWithUTCTime(start)
		tr.Start = &s
	}
	if !end.IsZero() {
		e := dateWithUTCTime(end)
		tr.End = &e
	}
	return tr
}
