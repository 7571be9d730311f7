// Command davext-server runs a demo server exposing the search REPORT,
// the calendar-proxy principal properties and the avatar collections on
// top of directory-backed storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"

	"github.com/calderas/go-davext"
	"github.com/calderas/go-davext/avatars"
	"github.com/calderas/go-davext/proxy"
	"github.com/calderas/go-davext/proxy/sqlite"
	"github.com/calderas/go-davext/search"
)

var (
	addr         = flag.String("addr", ":8080", "listening address")
	calendarsDir = flag.String("calendars", "", "directory with .ics files")
	contactsDir  = flag.String("contacts", "", "directory with .vcf files")
	avatarsDir   = flag.String("avatars", "", "directory with avatar source images")
	dbPath       = flag.String("db", "davext.db", "path to the proxy relation database")
	users        = flag.String("users", "alice", "comma-separated list of demo user names")
)

const principalPrefix = "principals/users"

type demoPrincipals map[string]*davext.Principal

func newDemoPrincipals(names []string) demoPrincipals {
	m := make(demoPrincipals, len(names))
	for _, name := range names {
		p := principalPrefix + "/" + name
		m[p] = &davext.Principal{Path: p, Name: name, DisplayName: name}
	}
	return m
}

func (m demoPrincipals) PrincipalByPath(ctx context.Context, path string) (*davext.Principal, error) {
	if p, ok := m[strings.Trim(path, "/")]; ok {
		return p, nil
	}
	return nil, davext.NewHTTPError(http.StatusNotFound, fmt.Errorf("unknown principal %q", path))
}

// demoBackend serves the search REPORT from objects loaded off disk at
// startup.
type demoBackend struct {
	cos []search.CalendarObject
	aos []search.AddressObject
}

func newDemoBackend(calendarsDir, contactsDir string) (*demoBackend, error) {
	b := &demoBackend{}

	if calendarsDir != "" {
		paths, err := filepath.Glob(filepath.Join(calendarsDir, "*.ics"))
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			f, err := os.Open(p)
			if err != nil {
				return nil, err
			}
			cal, err := ical.NewDecoder(f).Decode()
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to parse %q: %w", p, err)
			}
			b.cos = append(b.cos, search.CalendarObject{
				Path: "/calendars/" + filepath.Base(p),
				Data: cal,
			})
		}
	}

	if contactsDir != "" {
		paths, err := filepath.Glob(filepath.Join(contactsDir, "*.vcf"))
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			f, err := os.Open(p)
			if err != nil {
				return nil, err
			}
			card, err := vcard.NewDecoder(f).Decode()
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to parse %q: %w", p, err)
			}
			b.aos = append(b.aos, search.AddressObject{
				Path: "/contacts/" + filepath.Base(p),
				Card: card,
			})
		}
	}

	return b, nil
}

func (b *demoBackend) CalendarHomeSetPath(ctx context.Context) (string, error) {
	return "/calendars/", nil
}

func (b *demoBackend) AddressBookHomeSetPath(ctx context.Context) (string, error) {
	return "/contacts/", nil
}

func (b *demoBackend) CurrentUserPrincipal(ctx context.Context) (string, error) {
	return "/" + principalPrefix + "/alice/", nil
}

func (b *demoBackend) SearchCalendarObjects(ctx context.Context, query *search.Query) ([]search.CalendarObject, error) {
	return search.FilterCalendarObjects(query, b.cos)
}

func (b *demoBackend) SearchAddressObjects(ctx context.Context, query *search.Query) ([]search.AddressObject, error) {
	return search.FilterAddressObjects(query, b.aos)
}

func main() {
	flag.Parse()

	principals := newDemoPrincipals(strings.Split(*users, ","))

	backend, err := newDemoBackend(*calendarsDir, *contactsDir)
	if err != nil {
		log.Fatalf("failed to load objects: %v", err)
	}
	log.Printf("loaded %v calendar objects and %v address objects", len(backend.cos), len(backend.aos))

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open proxy store: %v", err)
	}
	defer store.Close()

	mux := http.NewServeMux()
	mux.Handle("/calendars/", &search.Handler{Backend: backend})
	mux.Handle("/contacts/", &search.Handler{Backend: backend})
	mux.Handle("/"+principalPrefix+"/", &proxy.Handler{
		Resolver: proxy.NewResolver(principalPrefix, principals, store),
	})
	if *avatarsDir != "" {
		mux.Handle("/avatars/", &avatars.Handler{
			Backend: avatars.NewLocalBackend(*avatarsDir),
			Prefix:  "/avatars",
		})
	}

	log.Printf("listening on %v", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
