// Package proxy implements calendar delegation ("calendar-proxy")
// principal resolution, as used by CalDAV scheduling extensions.
//
// A principal URI like "principals/users/alice/calendar-proxy-write"
// denotes a virtual group principal whose members are the accounts alice
// delegated write access to. The group's membership is persisted as
// relations in a Store; the Resolver answers the group questions the
// surrounding WebDAV ACL machinery asks.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/calderas/go-davext"
	"github.com/calderas/go-davext/internal"
)

// Proxy group URI suffixes.
const (
	ReadSuffix  = "calendar-proxy-read"
	WriteSuffix = "calendar-proxy-write"
)

// Permission is a bitmask of the access level a relation grants.
type Permission int

const (
	PermissionRead  Permission = 1
	PermissionWrite Permission = 2
)

// Relation is one delegation edge: the owner grants the proxy access to
// their calendars at the level encoded in Permissions. Write access is
// always combined with read access (PermissionRead|PermissionWrite).
type Relation struct {
	ID          string
	OwnerID     string
	ProxyID     string
	Permissions Permission
}

// Store persists proxy relations. Implementations must keep at most one
// relation per owner/proxy pair: the Resolver merges permission bits into
// the existing relation instead of inserting a second one, and pruning
// relies on looking relations up by proxy within an owner's set.
// Implementations are expected to propagate failures unchanged; the
// Resolver performs no retries.
type Store interface {
	RelationsByOwner(ctx context.Context, ownerID string) ([]Relation, error)
	RelationsByProxy(ctx context.Context, proxyID string) ([]Relation, error)
	Insert(ctx context.Context, rel *Relation) error
	Update(ctx context.Context, rel *Relation) error
	Delete(ctx context.Context, id string) error
}

// Resolver answers group membership questions for calendar-proxy virtual
// principals.
type Resolver struct {
	prefix     string
	principals davext.PrincipalBackend
	store      Store
}

// NewResolver creates a Resolver for principals under the provided prefix,
// e.g. "principals/users".
func NewResolver(prefix string, principals davext.PrincipalBackend, store Store) *Resolver {
	return &Resolver{
		prefix:     strings.Trim(prefix, "/"),
		principals: principals,
		store:      store,
	}
}

// splitPrincipal splits a principal URI into its parent collection and its
// final segment.
func splitPrincipal(uri string) (parent, name string) {
	uri = strings.Trim(uri, "/")
	i := strings.LastIndex(uri, "/")
	if i < 0 {
		return "", uri
	}
	return uri[:i], uri[i+1:]
}

// IsProxyPrincipal reports whether the principal URI denotes a
// calendar-proxy virtual principal owned by this resolver.
func (r *Resolver) IsProxyPrincipal(uri string) bool {
	realPrincipal, suffix := splitPrincipal(uri)
	if suffix != ReadSuffix && suffix != WriteSuffix {
		return false
	}
	prefix, _ := splitPrincipal(realPrincipal)
	return prefix == r.prefix
}

// GroupMemberSet returns the member principal URIs of a proxy group. For
// principals that are not proxy groups it returns an empty set.
func (r *Resolver) GroupMemberSet(ctx context.Context, uri string) ([]string, error) {
	if !r.IsProxyPrincipal(uri) {
		return nil, nil
	}

	ownerPath, suffix := splitPrincipal(uri)
	owner, err := r.principals.PrincipalByPath(ctx, ownerPath)
	if err != nil {
		return nil, err
	}

	want := PermissionRead
	if suffix == WriteSuffix {
		want = PermissionRead | PermissionWrite
	}

	relations, err := r.store.RelationsByOwner(ctx, owner.Path)
	if err != nil {
		return nil, err
	}

	var members []string
	for _, rel := range relations {
		if rel.Permissions == want {
			members = append(members, rel.ProxyID)
		}
	}
	return members, nil
}

// GroupMembership returns the proxy groups the principal is a member of,
// as synthetic group URIs "{owner}/calendar-proxy-read" and
// "{owner}/calendar-proxy-write". Principals outside this resolver's
// prefix yield an empty set.
func (r *Resolver) GroupMembership(ctx context.Context, uri string) ([]string, error) {
	uri = strings.Trim(uri, "/")
	prefix, _ := splitPrincipal(uri)
	if prefix != r.prefix {
		return nil, nil
	}

	principal, err := r.principals.PrincipalByPath(ctx, uri)
	if err != nil {
		return nil, err
	}

	relations, err := r.store.RelationsByProxy(ctx, principal.Path)
	if err != nil {
		return nil, err
	}

	var groups []string
	for _, rel := range relations {
		switch rel.Permissions {
		case PermissionRead:
			groups = append(groups, rel.OwnerID+"/"+ReadSuffix)
		case PermissionRead | PermissionWrite:
			groups = append(groups, rel.OwnerID+"/"+WriteSuffix)
		}
	}
	return groups, nil
}

// SetGroupMemberSet replaces the membership of a proxy group.
//
// Members already holding the other access level keep it: granting write
// to an existing reader ORs the write bit into the relation, and omitting
// a member only deletes relations whose bitmask equals exactly the
// group's level. There is no downgrade path: bits are only ever added,
// relations only ever deleted outright.
//
// The update is not transactional: a store failure partway through leaves
// the relations the completed iterations produced.
func (r *Resolver) SetGroupMemberSet(ctx context.Context, uri string, members []string) error {
	ownerPath, suffix := splitPrincipal(uri)

	var want Permission
	switch suffix {
	case ReadSuffix:
		want = PermissionRead
	case WriteSuffix:
		want = PermissionRead | PermissionWrite
	default:
		return internal.HTTPErrorf(http.StatusMethodNotAllowed, "proxy: %q is not a calendar-proxy group", uri)
	}

	owner, err := r.principals.PrincipalByPath(ctx, ownerPath)
	if err != nil {
		return err
	}

	existing, err := r.store.RelationsByOwner(ctx, owner.Path)
	if err != nil {
		return err
	}
	remaining := make(map[string]Relation, len(existing))
	for _, rel := range existing {
		remaining[rel.ProxyID] = rel
	}

	for _, member := range members {
		member = strings.Trim(member, "/")
		if prefix, _ := splitPrincipal(member); prefix != r.prefix {
			return internal.HTTPErrorf(http.StatusBadRequest, "proxy: invalid member %q: principal prefix %q is not served by this backend", member, prefix)
		}
		proxy, err := r.principals.PrincipalByPath(ctx, member)
		if err != nil {
			return err
		}

		if rel, ok := remaining[proxy.Path]; ok {
			delete(remaining, proxy.Path)
			if rel.Permissions&want == want {
				continue
			}
			rel.Permissions |= want
			if err := r.store.Update(ctx, &rel); err != nil {
				return fmt.Errorf("proxy: failed to update relation: %w", err)
			}
		} else {
			rel := Relation{
				OwnerID:     owner.Path,
				ProxyID:     proxy.Path,
				Permissions: want,
			}
			if err := r.store.Insert(ctx, &rel); err != nil {
				return fmt.Errorf("proxy: failed to insert relation: %w", err)
			}
		}
	}

	// prune members omitted from the new list, leaving the other access
	// level untouched
	for _, rel := range remaining {
		if rel.Permissions != want {
			continue
		}
		if err := r.store.Delete(ctx, rel.ID); err != nil {
			return fmt.Errorf("proxy: failed to delete relation: %w", err)
		}
	}

	return nil
}
