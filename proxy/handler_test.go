package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*Client, *Resolver) {
	t.Helper()
	resolver, _ := setupResolver(t)
	srv := httptest.NewServer(&Handler{Resolver: resolver})
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.Client(), srv.URL)
	require.NoError(t, err)
	return client, resolver
}

func TestHandler_roundTrip(t *testing.T) {
	client, _ := setupServer(t)

	err := client.SetGroupMemberSet("/principals/users/alice/calendar-proxy-write",
		[]string{"/principals/users/bob/"})
	require.NoError(t, err)

	members, err := client.GroupMemberSet("/principals/users/alice/calendar-proxy-write")
	require.NoError(t, err)
	assert.Equal(t, []string{"/principals/users/bob/"}, members)

	groups, err := client.GroupMembership("/principals/users/bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"/principals/users/alice/calendar-proxy-write/"}, groups)
}

func TestHandler_propfindDepthOne(t *testing.T) {
	_, resolver := setupServer(t)

	require.NoError(t, resolver.SetGroupMemberSet(context.Background(),
		"principals/users/alice/calendar-proxy-read", []string{"principals/users/carol"}))

	body := `<?xml version="1.0" encoding="UTF-8"?>
		<propfind xmlns="DAV:">
			<prop>
				<resourcetype/>
				<group-member-set/>
				<group-membership/>
			</prop>
		</propfind>`
	r := httptest.NewRequest("PROPFIND", "/principals/users/alice", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/xml")
	r.Header.Set("Depth", "1")
	w := httptest.NewRecorder()
	(&Handler{Resolver: resolver}).ServeHTTP(w, r)

	require.Equal(t, http.StatusMultiStatus, w.Result().StatusCode)
	out := w.Body.String()
	assert.Contains(t, out, "/principals/users/alice/calendar-proxy-read")
	assert.Contains(t, out, "/principals/users/alice/calendar-proxy-write")
	assert.Contains(t, out, "/principals/users/carol/")
}

func TestHandler_proppatchRejectsOtherProps(t *testing.T) {
	_, resolver := setupServer(t)

	body := `<?xml version="1.0" encoding="UTF-8"?>
		<propertyupdate xmlns="DAV:">
			<set><prop><displayname>Alice</displayname></prop></set>
		</propertyupdate>`
	r := httptest.NewRequest("PROPPATCH", "/principals/users/alice/calendar-proxy-read", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()
	(&Handler{Resolver: resolver}).ServeHTTP(w, r)

	require.Equal(t, http.StatusMultiStatus, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "403")
}

func TestHandler_unsupportedMethod(t *testing.T) {
	_, resolver := setupServer(t)

	r := httptest.NewRequest(http.MethodDelete, "/principals/users/alice/calendar-proxy-read", nil)
	w := httptest.NewRecorder()
	(&Handler{Resolver: resolver}).ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Result().StatusCode)
}

func TestHandler_additiveOverHTTP(t *testing.T) {
	client, _ := setupServer(t)

	require.NoError(t, client.SetGroupMemberSet("/principals/users/alice/calendar-proxy-read",
		[]string{"/principals/users/bob/", "/principals/users/carol/"}))
	require.NoError(t, client.SetGroupMemberSet("/principals/users/alice/calendar-proxy-write",
		[]string{"/principals/users/bob/"}))

	readers, err := client.GroupMemberSet("/principals/users/alice/calendar-proxy-read")
	require.NoError(t, err)
	sort.Strings(readers)
	assert.Equal(t, []string{"/principals/users/carol/"}, readers)

	writers, err := client.GroupMemberSet("/principals/users/alice/calendar-proxy-write")
	require.NoError(t, err)
	assert.Equal(t, []string{"/principals/users/bob/"}, writers)
}
