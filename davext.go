// Package davext provides server-side WebDAV extensions: a calendar and
// address book search REPORT, calendar delegation ("calendar-proxy")
// principal resolution, and a read-only avatar collection.
//
// The package itself only holds the types shared by the sub-packages: the
// error kind used to signal the HTTP status of a failure, and the principal
// record resolved by the host application.
package davext

import (
	"context"

	"github.com/calderas/go-davext/internal"
)

// NewHTTPError creates a new error wrapping the HTTP status code it should
// be reported with.
//
// The status code is used by handlers to produce the error response, and by
// callers to tell apart malformed requests (400), forbidden mutations (403),
// missing resources (404) and unsupported operations (405).
func NewHTTPError(statusCode int, cause error) error {
	return &internal.HTTPError{Code: statusCode, Err: cause}
}

// IsNotFound returns true if the error is an HTTP 404 Not Found error.
func IsNotFound(err error) bool {
	return internal.IsNotFound(err)
}

// Principal is a resolved principal record.
type Principal struct {
	// Path is the principal URI, e.g. "principals/users/alice".
	Path        string
	Name        string
	DisplayName string
	Email       string
}

// PrincipalBackend resolves principal records by path. It's supplied by the
// host application.
type PrincipalBackend interface {
	// PrincipalByPath returns the principal record for the given principal
	// URI. If the principal doesn't exist, it returns an HTTP 404 error.
	PrincipalByPath(ctx context.Context, path string) (*Principal, error)
}

// UserPrincipalBackend returns the currently authenticated user's principal
// path.
type UserPrincipalBackend interface {
	CurrentUserPrincipal(ctx context.Context) (string, error)
}
