package bettershare

import (
	"errors"
	"fmt"
)

// CurrentVersion is the schema version of the preferences record. Records
// stored with any other version are ignored.
const CurrentVersion = "1"

// PreferencesKey is the storage key of the preferences record.
const PreferencesKey = "preferences"

// ErrInvalidPreference is returned when a value is not one of the allowed
// options for a site.
var ErrInvalidPreference = errors.New("invalid preference")

// RedditPreference selects the Reddit mirror domain.
type RedditPreference string

// Reddit mirrors.
const (
	RedditVxReddit RedditPreference = "vxreddit"
	RedditRxddit   RedditPreference = "rxddit"
)

// XPreference selects the X/Twitter mirror domain.
type XPreference string

// X mirrors.
const (
	XFixupX    XPreference = "fixupx"
	XFxTwitter XPreference = "fxtwitter"
	XTwittpr   XPreference = "twittpr"
	XVxTwitter XPreference = "vxtwitter"
)

// InstagramPreference selects the Instagram mirror domain.
type InstagramPreference string

// Instagram mirrors.
const (
	InstagramDDInstagram InstagramPreference = "ddinstagram"
)

var (
	redditOptions    = []RedditPreference{RedditVxReddit, RedditRxddit}
	xOptions         = []XPreference{XFixupX, XFxTwitter, XTwittpr, XVxTwitter}
	instagramOptions = []InstagramPreference{InstagramDDInstagram}
)

// RedditOptions returns the allowed Reddit preferences.
func RedditOptions() []RedditPreference { return append([]RedditPreference(nil), redditOptions...) }

// XOptions returns the allowed X preferences.
func XOptions() []XPreference { return append([]XPreference(nil), xOptions...) }

// InstagramOptions returns the allowed Instagram preferences.
func InstagramOptions() []InstagramPreference {
	return append([]InstagramPreference(nil), instagramOptions...)
}

// ParseRedditPreference validates s as a RedditPreference.
func ParseRedditPreference(s string) (RedditPreference, error) {
	return parseOption("reddit", s, redditOptions)
}

// ParseXPreference validates s as an XPreference.
func ParseXPreference(s string) (XPreference, error) {
	return parseOption("x", s, xOptions)
}

// ParseInstagramPreference validates s as an InstagramPreference.
func ParseInstagramPreference(s string) (InstagramPreference, error) {
	return parseOption("instagram", s, instagramOptions)
}

func parseOption[T ~string](site, s string, options []T) (T, error) {
	for _, o := range options {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w for %s: %q (allowed: %v)", ErrInvalidPreference, site, s, options)
}

// Site names a site whose links can be rewritten.
type Site string

// Supported sites.
const (
	SiteReddit    Site = "reddit"
	SiteX         Site = "x"
	SiteInstagram Site = "instagram"
)

// Sites returns every supported site.
func Sites() []Site {
	return []Site{SiteReddit, SiteX, SiteInstagram}
}

// UserPreferences is the preferences record.
type UserPreferences struct {
	Version   string              `json:"version"`
	Reddit    RedditPreference    `json:"reddit"`
	X         XPreference         `json:"x"`
	Instagram InstagramPreference `json:"instagram"`
}

// DefaultPreferences returns a fresh copy of the default preferences.
func DefaultPreferences() UserPreferences {
	return UserPreferences{
		Version:   CurrentVersion,
		Reddit:    RedditVxReddit,
		X:         XFixupX,
		Instagram: InstagramDDInstagram,
	}
}

// IsCurrentVersion reports whether a stored value is a preferences record of
// the current version. Only the version is inspected; the site fields are
// trusted as stored.
func IsCurrentVersion(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m["version"].(string)
	return ok && v == CurrentVersion
}

// Record returns p in its storage shape.
func (p UserPreferences) Record() map[string]any {
	return map[string]any{
		"version":   p.Version,
		"reddit":    string(p.Reddit),
		"x":         string(p.X),
		"instagram": string(p.Instagram),
	}
}

// Validate checks the version and every site field. Stores do not call it;
// it is meant for input from users.
func (p UserPreferences) Validate() error {
	var errs []error
	if p.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported version %q", p.Version))
	}
	if _, err := ParseRedditPreference(string(p.Reddit)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseXPreference(string(p.X)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseInstagramPreference(string(p.Instagram)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Get returns the preference for site as a string.
func (p UserPreferences) Get(site Site) (string, error) {
	switch site {
	case SiteReddit:
		return string(p.Reddit), nil
	case SiteX:
		return string(p.X), nil
	case SiteInstagram:
		return string(p.Instagram), nil
	default:
		return "", fmt.Errorf("unknown site %q", site)
	}
}

// With returns a copy of p with the preference for site set to value.
func (p UserPreferences) With(site Site, value string) (UserPreferences, error) {
	switch site {
	case SiteReddit:
		v, err := ParseRedditPreference(value)
		if err != nil {
			return p, err
		}
		p.Reddit = v
	case SiteX:
		v, err := ParseXPreference(value)
		if err != nil {
			return p, err
		}
		p.X = v
	case SiteInstagram:
		v, err := ParseInstagramPreference(value)
		if err != nil {
			return p, err
		}
		p.Instagram = v
	default:
		return p, fmt.Errorf("unknown site %q", site)
	}
	return p, nil
}
