package internal

import (
	"encoding/xml"
)

/*
rfc3744#section-4.3

This property of a group principal identifies the principals that are
direct members of this group.  Since a group may be a member of
another group, a group may also have indirect members (i.e., the
members of its direct members).  A URL in the DAV:group-member-set
for a principal MUST be the DAV:principal-URL of that principal.
*/
type GroupMemberSet struct {
	XMLName xml.Name `xml:"DAV: group-member-set"`
	Href    []Href   `xml:"href,omitempty"`
}

/*
rfc3744#section-4.4

This protected property identifies the groups in which the principal
is directly a member.  Note that a server may allow a group to be a
member of another group, in which case the DAV:group-membership of
those other groups would need to be queried in order to determine the
groups in which the principal is indirectly a member.  Support for
this property is REQUIRED.
*/
type GroupMembership struct {
	XMLName xml.Name `xml:"DAV: group-membership"`
	Href    []Href   `xml:"href,omitempty"`
}
