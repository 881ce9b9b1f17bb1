// Package deeplink parses the bsr:// deep link format (spec.md §6) used
// to prefill the add-recorder flow from an external link: only parsing
// lives here, since the UI that consumes a Link is out of scope.
package deeplink

import (
	"net/url"
	"strings"

	"bsr/internal/apperr"
)

// Link is a parsed bsr:// deep link.
type Link struct {
	Platform string
	RoomID   string
	Query    url.Values
}

// Parse parses a URI of the form bsr://live.<platform>.com/<room_id>[?...].
func Parse(raw string) (Link, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, apperr.New(apperr.Config, "deeplink.Parse", err)
	}
	if u.Scheme != "bsr" {
		return Link{}, apperr.Newf(apperr.Config, "deeplink.Parse", "unsupported scheme %q, expected bsr", u.Scheme)
	}

	const hostPrefix = "live."
	const hostSuffix = ".com"
	if !strings.HasPrefix(u.Host, hostPrefix) || !strings.HasSuffix(u.Host, hostSuffix) {
		return Link{}, apperr.Newf(apperr.Config, "deeplink.Parse", "malformed host %q, expected live.<platform>.com", u.Host)
	}
	platform := strings.TrimSuffix(strings.TrimPrefix(u.Host, hostPrefix), hostSuffix)
	if platform == "" {
		return Link{}, apperr.Newf(apperr.Config, "deeplink.Parse", "empty platform in host %q", u.Host)
	}

	roomID := strings.Trim(u.Path, "/")
	if roomID == "" {
		return Link{}, apperr.Newf(apperr.Config, "deeplink.Parse", "missing room id in path %q", u.Path)
	}

	return Link{Platform: platform, RoomID: roomID, Query: u.Query()}, nil
}
