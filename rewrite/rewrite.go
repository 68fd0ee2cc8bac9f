// Package rewrite turns share links of supported sites into links on the
// mirror domains selected in the user's preferences. Mirror sites serve
// proper link previews (embeds) in chat applications.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/yacchi/bettershare"
)

// ErrUnsupportedSite is returned by ShareableURL for links it cannot rewrite.
var ErrUnsupportedSite = errors.New("unsupported site")

// RedditPostURL cleans a Reddit share link: the query string (tracking
// parameters) is dropped and old./new. subdomains are mapped to the plain
// reddit. domain.
func RedditPostURL(raw string) string {
	u, _, _ := strings.Cut(raw, "?")
	u = strings.Replace(u, "old.reddit.", "reddit.", 1)
	u = strings.Replace(u, "new.reddit.", "reddit.", 1)
	return u
}

// ConvertRedditURL replaces the first "reddit." in link with the mirror
// selected by pref. Unknown preferences leave link unchanged.
func ConvertRedditURL(link string, pref bettershare.RedditPreference) string {
	switch pref {
	case bettershare.RedditRxddit:
		return strings.Replace(link, "reddit.", "rxddit.", 1)
	case bettershare.RedditVxReddit:
		return strings.Replace(link, "reddit.", "vxreddit.", 1)
	default:
		return link
	}
}

// ConvertXURL moves an x.com or twitter.com link (including the www. and
// mobile. hosts) to "<pref>.com" and drops the query string and fragment.
// Other links and unknown preferences are returned unchanged.
func ConvertXURL(link string, pref bettershare.XPreference) string {
	if _, err := bettershare.ParseXPreference(string(pref)); err != nil {
		return link
	}
	u, err := url.Parse(link)
	if err != nil || siteOf(u.Hostname()) != bettershare.SiteX {
		return link
	}
	u.Host = string(pref) + ".com"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ConvertInstagramURL moves an instagram.com link to the mirror selected by
// pref and drops the query string. Other links and unknown preferences are
// returned unchanged.
func ConvertInstagramURL(link string, pref bettershare.InstagramPreference) string {
	if _, err := bettershare.ParseInstagramPreference(string(pref)); err != nil {
		return link
	}
	u, err := url.Parse(link)
	if err != nil || siteOf(u.Hostname()) != bettershare.SiteInstagram {
		return link
	}
	u.Host = string(pref) + ".com"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ShareableURL rewrites link according to prefs, choosing the rule by host.
func ShareableURL(link string, prefs bettershare.UserPreferences) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", link, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSite, link)
	}
	// Host names are case-insensitive; the rules match lowercase ones.
	u.Host = strings.ToLower(u.Host)

	switch siteOf(u.Hostname()) {
	case bettershare.SiteReddit:
		return ConvertRedditURL(RedditPostURL(u.String()), prefs.Reddit), nil
	case bettershare.SiteX:
		return ConvertXURL(u.String(), prefs.X), nil
	case bettershare.SiteInstagram:
		return ConvertInstagramURL(u.String(), prefs.Instagram), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSite, u.Hostname())
	}
}

// siteOf maps a host name to the site it belongs to, or "".
func siteOf(host string) bettershare.Site {
	host = strings.ToLower(host)
	for _, prefix := range []string{"www.", "old.", "new.", "mobile."} {
		if h, ok := strings.CutPrefix(host, prefix); ok {
			host = h
			break
		}
	}
	switch host {
	case "reddit.com":
		return bettershare.SiteReddit
	case "x.com", "twitter.com":
		return bettershare.SiteX
	case "instagram.com":
		return bettershare.SiteInstagram
	default:
		return ""
	}
}
