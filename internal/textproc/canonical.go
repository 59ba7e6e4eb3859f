package textproc

import (
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during canonicalization.
// They identify campaigns, not content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
}

// CanonicalURL normalizes a URL for use as a deduplication key: the host is
// lowercased, the fragment dropped, and known tracking parameters removed.
// Unparseable input is returned unchanged so the caller still has a key.
func CanonicalURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for param := range q {
			if _, tracked := trackingParams[strings.ToLower(param)]; tracked {
				q.Del(param)
			}
		}
		u.RawQuery = q.Encode()
	}

	// A bare trailing slash on the root path is not a distinct page.
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}

	return u.String()
}

// Domain extracts the lowercased host (without port) from a URL.
// Returns the empty string when the URL does not parse.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
