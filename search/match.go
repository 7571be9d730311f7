package search

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
)

// Collations understood by text matching. The default octet collation
// compares raw bytes, the casemap collations compare case-insensitively.
const (
	CollationOctet          = "i;octet"
	CollationASCIICasemap   = "i;ascii-casemap"
	CollationUnicodeCasemap = "i;unicode-casemap"
)

// FilterCalendarObjects returns the filtered list of calendar objects
// matching the provided query, honoring its offset and limit.
func FilterCalendarObjects(query *Query, cos []CalendarObject) ([]CalendarObject, error) {
	if query == nil {
		// FIXME: should we always return a copy of the provided slice?
		return cos, nil
	}

	var out []CalendarObject
	for _, co := range cos {
		ok, err := Match(&query.Filter, &co)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, co)
	}
	return window(out, query.Offset, query.Limit), nil
}

// FilterAddressObjects returns the filtered list of address objects
// matching the provided query, honoring its offset and limit.
func FilterAddressObjects(query *Query, aos []AddressObject) ([]AddressObject, error) {
	if query == nil {
		return aos, nil
	}

	var out []AddressObject
	for _, ao := range aos {
		ok, err := MatchAddressObject(&query.Filter, &ao)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, ao)
	}
	return window(out, query.Offset, query.Limit), nil
}

func window[T any](l []T, offset, limit uint) []T {
	if offset >= uint(len(l)) {
		return nil
	}
	l = l[offset:]
	if limit > 0 && limit < uint(len(l)) {
		l = l[:limit]
	}
	return l
}

// Match reports whether the provided calendar object matches the filter.
func Match(filter *Filter, co *CalendarObject) (bool, error) {
	if co.Data == nil || co.Data.Component == nil {
		panic("search: request to process empty calendar object")
	}
	root := co.Data.Component

	for _, cf := range filter.Comps {
		ok, err := matchCompFilter(cf, root)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	scoped := scopedComponents(root, filter.Comps)

	for _, pf := range filter.Props {
		ok, err := anyComponentMatchesProp(pf, scoped)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	for _, pmf := range filter.Params {
		if !anyComponentMatchesParam(pmf, scoped) {
			return false, nil
		}
	}

	return matchSearchTerm(filter, scoped), nil
}

// scopedComponents returns the children of the root component selected by
// the comp filters. Property and parameter filters and the search term only
// consider these components.
func scopedComponents(root *ical.Component, comps []CompFilter) []*ical.Component {
	var l []*ical.Component
	for _, child := range root.Children {
		for _, cf := range comps {
			if child.Name == cf.Name {
				l = append(l, child)
				break
			}
		}
	}
	return l
}

func anyComponentMatchesProp(filter PropFilter, comps []*ical.Component) (bool, error) {
	for _, comp := range comps {
		ok, err := matchPropFilter(filter, comp)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func anyComponentMatchesParam(filter ParamFilter, comps []*ical.Component) bool {
	for _, comp := range comps {
		for _, props := range comp.Props {
			for i := range props {
				if matchParamFilter(filter, &props[i]) {
					return true
				}
			}
		}
	}
	return false
}

// matchSearchTerm matches the mandatory search term against the values of
// the properties the filters name: properties selected by a prop-filter,
// and properties carrying a parameter selected by a param-filter.
func matchSearchTerm(filter *Filter, comps []*ical.Component) bool {
	for _, comp := range comps {
		for _, pf := range filter.Props {
			for _, prop := range comp.Props[strings.ToUpper(pf.Name)] {
				if matchTextMatch(filter.Term, prop.Value) {
					return true
				}
			}
		}
		for _, pmf := range filter.Params {
			for _, props := range comp.Props {
				for i := range props {
					prop := &props[i]
					if prop.Params.Get(pmf.Name) == "" {
						continue
					}
					if matchTextMatch(filter.Term, prop.Value) {
						return true
					}
				}
			}
		}
	}
	// no considered property carries a value at all
	return filter.Term.NegateCondition
}

func matchComp(filter CompFilter, comp *ical.Component) (bool, error) {
	if comp.Name != filter.Name {
		return filter.IsNotDefined, nil
	}

	if !filter.Start.IsZero() || !filter.End.IsZero() {
		match, err := matchCompTimeRange(filter.Start, filter.End, comp)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	for _, compFilter := range filter.Comps {
		match, err := matchCompFilter(compFilter, comp)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	for _, propFilter := range filter.Props {
		match, err := matchPropFilter(propFilter, comp)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

// matchCompFilter matches a component filter against the children of the
// provided component.
func matchCompFilter(filter CompFilter, comp *ical.Component) (bool, error) {
	var matches []*ical.Component

	for _, child := range comp.Children {
		match, err := matchComp(filter, child)
		if err != nil {
			return false, err
		} else if match {
			matches = append(matches, child)
		}
	}
	if len(matches) == 0 {
		return filter.IsNotDefined, nil
	}
	return true, nil
}

func matchPropFilter(filter PropFilter, comp *ical.Component) (bool, error) {
	// TODO: this only matches the first field, there can be multiple
	field := comp.Props.Get(filter.Name)
	if field == nil {
		return filter.IsNotDefined, nil
	} else if filter.IsNotDefined {
		return false, nil
	}

	for _, paramFilter := range filter.Params {
		if !matchParamFilter(paramFilter, field) {
			return false, nil
		}
	}

	if !filter.Start.IsZero() {
		match, err := matchPropTimeRange(filter.Start, filter.End, field)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	} else if filter.TextMatch != nil {
		if !matchTextMatch(*filter.TextMatch, field.Value) {
			return false, nil
		}
		return true, nil
	}
	// empty prop-filter, property exists
	return true, nil
}

func matchCompTimeRange(start, end time.Time, comp *ical.Component) (bool, error) {
	// See https://datatracker.ietf.org/doc/html/rfc4791#section-9.9
	// The "start" attribute specifies the inclusive start of the time range,
	// and the "end" attribute specifies the non-inclusive end of the time
	// range. Both attributes MUST be specified as "date with UTC time"
	// value.

	// evaluate recurring components
	rset, err := comp.RecurrenceSet(time.UTC)
	if err != nil {
		return false, err
	}
	if rset != nil {
		// TODO: first occurrence after start only looks at DTSTART, so an
		// event starting before [start, end) but still intersecting the
		// interval is missed.
		if firstAfterStart := rset.After(start, true); firstAfterStart.IsZero() {
			return false, nil
		} else if end.IsZero() || firstAfterStart.Before(end) {
			return true, nil
		} else {
			return false, nil
		}
	}

	// TODO handle more than just events
	if comp.Name != ical.CompEvent {
		return false, nil
	}
	event := ical.Event{Component: comp}

	eventStart, err := event.DateTimeStart(time.UTC)
	if err != nil {
		return false, err
	}
	eventEnd, err := event.DateTimeEnd(time.UTC)
	if err != nil {
		return false, err
	}
	durationZero := eventStart.Equal(eventEnd)

	// test if [eventStart, eventEnd) intersects [start, end); a
	// zero-duration event matches if eventStart is contained in [start,
	// end), per the table in RFC 4791 section 9.9
	startCmp := eventStart.Compare(end)
	endCmp := eventEnd.Compare(start)
	if start.IsZero() && startCmp < 0 {
		return true, nil
	} else if end.IsZero() && (endCmp > 0 || (durationZero && endCmp >= 0)) {
		return true, nil
	} else if (startCmp < 0 && endCmp > 0) || (durationZero && endCmp >= 0 && startCmp < 0) {
		return true, nil
	}
	return false, nil
}

func matchPropTimeRange(start, end time.Time, field *ical.Prop) (bool, error) {
	// See https://datatracker.ietf.org/doc/html/rfc4791#section-9.9

	ptime, err := field.DateTime(start.Location())
	if err != nil {
		return false, err
	}
	if ptime.After(start) && (end.IsZero() || ptime.Before(end)) {
		return true, nil
	}
	return false, nil
}

func matchParamFilter(filter ParamFilter, field *ical.Prop) bool {
	// TODO there can be multiple values
	value := field.Params.Get(filter.Name)
	if value == "" {
		return filter.IsNotDefined
	} else if filter.IsNotDefined {
		return false
	}
	if filter.TextMatch != nil {
		return matchTextMatch(*filter.TextMatch, value)
	}
	return true
}

func matchTextMatch(txt TextMatch, value string) bool {
	var match bool
	switch txt.Collation {
	case CollationASCIICasemap, CollationUnicodeCasemap:
		match = strings.Contains(strings.ToLower(value), strings.ToLower(txt.Text))
	default:
		// CollationOctet and unknown collations
		match = strings.Contains(value, txt.Text)
	}
	if txt.NegateCondition {
		match = !match
	}
	return match
}

// MatchAddressObject reports whether the provided address object matches
// the filter. Component filters only select vCard objects when they name
// VCARD; property and parameter filters apply to the card's fields.
func MatchAddressObject(filter *Filter, ao *AddressObject) (bool, error) {
	for _, cf := range filter.Comps {
		defined := cf.Name == "VCARD"
		if defined == cf.IsNotDefined {
			return false, nil
		}
		// nested prop-filters on the VCARD component apply to the card's
		// fields
		for _, pf := range cf.Props {
			if !matchCardPropFilter(pf, ao.Card) {
				return false, nil
			}
		}
	}

	for _, pf := range filter.Props {
		if !matchCardPropFilter(pf, ao.Card) {
			return false, nil
		}
	}
	for _, pmf := range filter.Params {
		if !anyFieldMatchesParam(pmf, ao.Card) {
			return false, nil
		}
	}

	return matchCardSearchTerm(filter, ao.Card), nil
}

func matchCardPropFilter(filter PropFilter, card vcard.Card) bool {
	field := card.Get(filter.Name)
	if field == nil {
		return filter.IsNotDefined
	} else if filter.IsNotDefined {
		return false
	}

	for _, paramFilter := range filter.Params {
		if !matchCardParamFilter(paramFilter, field) {
			return false
		}
	}
	if filter.TextMatch != nil {
		return matchTextMatch(*filter.TextMatch, field.Value)
	}
	return true
}

func matchCardParamFilter(filter ParamFilter, field *vcard.Field) bool {
	value := field.Params.Get(filter.Name)
	if value == "" {
		return filter.IsNotDefined
	} else if filter.IsNotDefined {
		return false
	}
	if filter.TextMatch != nil {
		return matchTextMatch(*filter.TextMatch, value)
	}
	return true
}

func anyFieldMatchesParam(filter ParamFilter, card vcard.Card) bool {
	for _, fields := range card {
		for _, field := range fields {
			if matchCardParamFilter(filter, field) {
				return true
			}
		}
	}
	return false
}

func matchCardSearchTerm(filter *Filter, card vcard.Card) bool {
	for _, pf := range filter.Props {
		for _, field := range card[strings.ToUpper(pf.Name)] {
			if matchTextMatch(filter.Term, field.Value) {
				return true
			}
		}
	}
	for _, pmf := range filter.Params {
		for _, fields := range card {
			for _, field := range fields {
				if field.Params.Get(pmf.Name) == "" {
					continue
				}
				if matchTextMatch(filter.Term, field.Value) {
					return true
				}
			}
		}
	}
	return filter.Term.NegateCondition
}
