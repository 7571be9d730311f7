package proxy

import (
	"github.com/calderas/go-davext/internal"
)

// Client provides access to the calendar-proxy properties of a remote
// principal tree.
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

// GroupMemberSet fetches the members of the proxy group at the provided
// path.
func (c *Client) GroupMemberSet(path string) ([]string, error) {
	propfind := internal.NewPropNamePropfind(internal.GroupMemberSetName)
	resp, err := c.ic.PropfindFlat(path, propfind)
	if err != nil {
		return nil, err
	}

	var set internal.GroupMemberSet
	if err := resp.DecodeProp(&set); err != nil {
		return nil, err
	}
	return hrefPaths(set.Href), nil
}

// GroupMembership fetches the proxy groups the principal at the provided
// path is a member of.
func (c *Client) GroupMembership(path string) ([]string, error) {
	propfind := internal.NewPropNamePropfind(internal.GroupMembershipName)
	resp, err := c.ic.PropfindFlat(path, propfind)
	if err != nil {
		return nil, err
	}

	var membership internal.GroupMembership
	if err := resp.DecodeProp(&membership); err != nil {
		return nil, err
	}
	return hrefPaths(membership.Href), nil
}

// SetGroupMemberSet replaces the members of the proxy group at the
// provided path.
func (c *Client) SetGroupMemberSet(path string, members []string) error {
	set := internal.GroupMemberSet{Href: hrefs(members)}
	prop, err := internal.EncodeProp(&set)
	if err != nil {
		return err
	}
	update := internal.PropertyUpdate{Set: []internal.Set{{Prop: *prop}}}

	req, err := c.ic.NewXMLRequest("PROPPATCH", path, &update)
	if err != nil {
		return err
	}

	ms, err := c.ic.DoMultiStatus(req)
	if err != nil {
		return err
	}
	resp, err := ms.Get(c.ic.ResolveHref(path).Path)
	if err != nil {
		return err
	}
	for i := range resp.Propstats {
		if err := resp.Propstats[i].Status.Err(); err != nil {
			return err
		}
	}
	return nil
}

func hrefPaths(l []internal.Href) []string {
	paths := make([]string, len(l))
	for i := range l {
		paths[i] = l[i].Path
	}
	return paths
}
