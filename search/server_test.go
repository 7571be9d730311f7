package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackend struct {
	cos []CalendarObject
	aos []AddressObject
}

func (b *testBackend) CalendarHomeSetPath(ctx context.Context) (string, error) {
	return "/calendars/alice/", nil
}

func (b *testBackend) AddressBookHomeSetPath(ctx context.Context) (string, error) {
	return "/contacts/alice/", nil
}

func (b *testBackend) CurrentUserPrincipal(ctx context.Context) (string, error) {
	return "/principals/users/alice/", nil
}

func (b *testBackend) SearchCalendarObjects(ctx context.Context, query *Query) ([]CalendarObject, error) {
	return FilterCalendarObjects(query, b.cos)
}

func (b *testBackend) SearchAddressObjects(ctx context.Context, query *Query) ([]AddressObject, error) {
	return FilterAddressObjects(query, b.aos)
}

func serveReport(t *testing.T, backend Backend, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := &Handler{Backend: backend}
	r := httptest.NewRequest("REPORT", "/calendars/alice/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleReport_rejections(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want string
	}{
		{
			name: "no filters",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<search-term>meeting</search-term>
			</calendar-search>`,
			want: "no comp-filter, prop-filter or param-filter",
		},
		{
			name: "prop-filter without comp-filter",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<prop-filter name="SUMMARY"/>
				<search-term>meeting</search-term>
			</calendar-search>`,
			want: "require at least one comp-filter",
		},
		{
			name: "param-filter without comp-filter",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<param-filter name="CN"/>
				<search-term>meeting</search-term>
			</calendar-search>`,
			want: "require at least one comp-filter",
		},
		{
			name: "missing search-term",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<comp-filter name="VEVENT"/>
				<prop-filter name="SUMMARY"/>
			</calendar-search>`,
			want: "missing the mandatory search-term",
		},
		{
			name: "comp-filter only",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<comp-filter name="VEVENT"/>
				<search-term>meeting</search-term>
			</calendar-search>`,
			want: "at least one prop-filter or param-filter",
		},
		{
			name: "non-positive limit",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<comp-filter name="VEVENT"/>
				<prop-filter name="SUMMARY"/>
				<search-term>meeting</search-term>
				<limit>0</limit>
			</calendar-search>`,
			want: "limit must be a positive integer",
		},
		{
			name: "negative offset",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<comp-filter name="VEVENT"/>
				<prop-filter name="SUMMARY"/>
				<search-term>meeting</search-term>
				<offset>-1</offset>
			</calendar-search>`,
			want: "offset must not be negative",
		},
		{
			name: "is-not-defined with text-match",
			body: `<calendar-search xmlns="http://calderas.io/ns">
				<comp-filter name="VEVENT"/>
				<prop-filter name="SUMMARY">
					<is-not-defined/>
					<text-match>meeting</text-match>
				</prop-filter>
				<search-term>meeting</search-term>
			</calendar-search>`,
			want: "if is-not-defined is provided",
		},
		{
			name: "unknown report root",
			body: `<principal-search xmlns="http://calderas.io/ns">
				<search-term>meeting</search-term>
			</principal-search>`,
			want: "unsupported REPORT root",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := serveReport(t, &testBackend{}, tc.body)
			resp := w.Result()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, w.Body.String(), tc.want)
		})
	}
}

func TestHandleReport_unsupportedMethod(t *testing.T) {
	h := &Handler{Backend: &testBackend{}}
	r := httptest.NewRequest(http.MethodGet, "/calendars/alice/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Result().StatusCode)
}

func TestHandleCalendarSearch(t *testing.T) {
	backend := &testBackend{cos: []CalendarObject{
		parseCalendarObject(t, "/calendars/alice/meeting-1.ics", meetingICS),
		parseCalendarObject(t, "/calendars/alice/lunch-1.ics", lunchICS),
	}}

	body := `<calendar-search xmlns="http://calderas.io/ns" xmlns:D="DAV:">
		<D:prop>
			<calendar-data/>
			<D:getcontenttype/>
		</D:prop>
		<comp-filter name="VEVENT"/>
		<prop-filter name="SUMMARY"/>
		<search-term collation="i;ascii-casemap">meeting</search-term>
	</calendar-search>`

	w := serveReport(t, backend, body)
	resp := w.Result()
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	out := w.Body.String()
	assert.Contains(t, out, "/calendars/alice/meeting-1.ics")
	assert.NotContains(t, out, "/calendars/alice/lunch-1.ics")
	assert.Contains(t, out, "Team meeting")
	assert.Contains(t, out, "text/calendar")
}

func TestHandleAddressBookSearch(t *testing.T) {
	backend := &testBackend{aos: []AddressObject{
		parseAddressObject(t, "/contacts/alice/alice.vcf", aliceVCF),
	}}

	body := `<addressbook-search xmlns="http://calderas.io/ns" xmlns:D="DAV:">
		<D:prop>
			<address-data/>
		</D:prop>
		<comp-filter name="VCARD"/>
		<prop-filter name="FN"/>
		<search-term collation="i;ascii-casemap">alice</search-term>
	</addressbook-search>`

	w := serveReport(t, backend, body)
	resp := w.Result()
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	out := w.Body.String()
	assert.Contains(t, out, "/contacts/alice/alice.vcf")
	assert.Contains(t, out, "Alice Example")
}

func TestHandleReport_lastSearchTermWins(t *testing.T) {
	backend := &testBackend{cos: []CalendarObject{
		parseCalendarObject(t, "/calendars/alice/meeting-1.ics", meetingICS),
	}}

	body := `<calendar-search xmlns="http://calderas.io/ns" xmlns:D="DAV:">
		<D:prop><D:getcontenttype/></D:prop>
		<comp-filter name="VEVENT"/>
		<prop-filter name="SUMMARY"/>
		<search-term collation="i;ascii-casemap">meeting</search-term>
		<search-term collation="i;ascii-casemap">standup</search-term>
	</calendar-search>`

	w := serveReport(t, backend, body)
	require.Equal(t, http.StatusMultiStatus, w.Result().StatusCode)
	assert.NotContains(t, w.Body.String(), "meeting-1.ics")
}

func TestHandleReport_requestedPropsOnly(t *testing.T) {
	backend := &testBackend{cos: []CalendarObject{
		parseCalendarObject(t, "/calendars/alice/meeting-1.ics", meetingICS),
	}}

	// getcontenttype is requested twice but reported once; getetag is
	// not requested and must not appear
	body := `<calendar-search xmlns="http://calderas.io/ns" xmlns:D="DAV:">
		<D:prop>
			<D:getcontenttype/>
			<D:getcontenttype/>
		</D:prop>
		<comp-filter name="VEVENT"/>
		<prop-filter name="SUMMARY"/>
		<search-term collation="i;ascii-casemap">meeting</search-term>
	</calendar-search>`

	w := serveReport(t, backend, body)
	require.Equal(t, http.StatusMultiStatus, w.Result().StatusCode)

	out := w.Body.String()
	assert.Equal(t, 1, strings.Count(out, "text/calendar"))
	assert.NotContains(t, out, "getetag")
}
