package search

import (
	"encoding/xml"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderas/go-davext/internal"
)

func setupClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	srv := httptest.NewServer(&Handler{Backend: backend})
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.Client(), srv.URL)
	require.NoError(t, err)
	return client
}

func TestClient_queryCalendar(t *testing.T) {
	backend := &testBackend{cos: []CalendarObject{
		parseCalendarObject(t, "/calendars/alice/meeting-1.ics", meetingICS),
		parseCalendarObject(t, "/calendars/alice/lunch-1.ics", lunchICS),
	}}
	client := setupClient(t, backend)

	query := &Query{
		Props: []xml.Name{calendarDataName, internal.GetContentTypeName},
		Filter: Filter{
			Comps: []CompFilter{{Name: "VEVENT"}},
			Props: []PropFilter{{Name: "SUMMARY"}},
			Term:  TextMatch{Text: "meeting", Collation: CollationASCIICasemap},
		},
	}
	cos, err := client.QueryCalendar("/calendars/alice/", query)
	require.NoError(t, err)
	require.Len(t, cos, 1)
	assert.Equal(t, "/calendars/alice/meeting-1.ics", cos[0].Path)

	prop := cos[0].Data.Children[0].Props.Get("SUMMARY")
	require.NotNil(t, prop)
	assert.Equal(t, "Team meeting", prop.Value)
}

func TestClient_queryAddressBook(t *testing.T) {
	backend := &testBackend{aos: []AddressObject{
		parseAddressObject(t, "/contacts/alice/alice.vcf", aliceVCF),
	}}
	client := setupClient(t, backend)

	query := &Query{
		Props: []xml.Name{addressDataName},
		Filter: Filter{
			Comps: []CompFilter{{Name: "VCARD"}},
			Props: []PropFilter{{Name: "FN"}},
			Term:  TextMatch{Text: "alice", Collation: CollationASCIICasemap},
		},
	}
	aos, err := client.QueryAddressBook("/contacts/alice/", query)
	require.NoError(t, err)
	require.Len(t, aos, 1)
	assert.Equal(t, "/contacts/alice/alice.vcf", aos[0].Path)
	assert.Equal(t, "Alice Example", aos[0].Card.Value("FN"))
}
