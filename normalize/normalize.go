// Package normalize canonicalizes URL strings so that equivalent URLs compare equal.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidConfig is returned when Options cannot be used
var ErrInvalidConfig = errors.New("invalid normalize options")

// schemePrefix matches an explicit scheme at the start of the input
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// Options controls which differences between URLs are considered insignificant
type Options struct {
	IgnoreProtocol      bool   // Force the scheme to DefaultScheme
	IgnoreWWW           bool   // Strip a single leading "www." label
	IgnoreTrailingSlash bool   // Strip trailing slashes except for the root path
	CaseInsensitive     bool   // Lowercase the path (the host is always lowercased)
	IgnoreQueryParams   bool   // Drop the query; otherwise params are sorted by key
	IgnoreFragment      bool   // Drop the fragment
	DefaultScheme       string // Scheme added to inputs without one, and forced when IgnoreProtocol is set
}

// DefaultOptions returns the options used for matching
func DefaultOptions() Options {
	return Options{
		IgnoreProtocol:      true,
		IgnoreWWW:           true,
		IgnoreTrailingSlash: true,
		CaseInsensitive:     true,
		IgnoreQueryParams:   false,
		IgnoreFragment:      true,
		DefaultScheme:       "https",
	}
}

// Validate checks the options for contract violations
func (o Options) Validate() error {
	if o.DefaultScheme == "" {
		return fmt.Errorf("%w: default scheme is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(o.DefaultScheme, ":/ ") {
		return fmt.Errorf("%w: default scheme %q must not contain separators", ErrInvalidConfig, o.DefaultScheme)
	}
	return nil
}

// URL is a normalized URL together with the components it was built from
type URL struct {
	Raw       string     // Input as given
	Canonical string     // Comparable form
	Scheme    string
	Host      string     // Lowercased, IDNA-encoded, without www. (if ignored) or default port
	Path      string     // Always starts with "/"
	Segments  []string   // Non-empty path segments, unescaped where possible
	Query     url.Values // Empty when ignored
	Fragment  string
	Degraded  bool       // Parsing failed and Canonical is a lexical fallback
	Original  Components // Components before normalization, for describing transformations
}

// Components holds a URL's pieces as they appeared in the input
type Components struct {
	Scheme   string
	Host     string
	Path     string
	RawQuery string
	Fragment string
}

// LastSegment returns the final non-empty path segment, or "" for the root
func (u URL) LastSegment() string {
	if len(u.Segments) == 0 {
		return ""
	}
	return u.Segments[len(u.Segments)-1]
}

// Normalizer applies a fixed set of Options
type Normalizer struct {
	opts Options
}

// New creates a Normalizer, rejecting invalid options
func New(opts Options) (*Normalizer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{opts: opts}, nil
}

// Default returns a Normalizer using DefaultOptions
func Default() *Normalizer {
	return &Normalizer{opts: DefaultOptions()}
}

// Options returns the options the normalizer was created with
func (n *Normalizer) Options() Options {
	return n.opts
}

// String normalizes raw and returns only the canonical form
func (n *Normalizer) String(raw string) string {
	return n.Normalize(raw).Canonical
}

// Normalize canonicalizes raw. It never fails: input that cannot be parsed
// falls back to a lexical form and is marked Degraded.
func (n *Normalizer) Normalize(raw string) URL {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return n.degraded(raw, trimmed)
	}

	withScheme := trimmed
	if strings.HasPrefix(withScheme, "//") {
		withScheme = n.opts.DefaultScheme + ":" + withScheme
	} else if !schemePrefix.MatchString(withScheme) {
		withScheme = n.opts.DefaultScheme + "://" + withScheme
	}

	parsed, err := url.Parse(withScheme)
	if err != nil || parsed.Host == "" || parsed.Opaque != "" {
		return n.degraded(raw, trimmed)
	}

	result := URL{
		Raw: raw,
		Original: Components{
			Scheme:   strings.ToLower(parsed.Scheme),
			Host:     parsed.Host,
			Path:     parsed.EscapedPath(),
			RawQuery: parsed.RawQuery,
			Fragment: parsed.Fragment,
		},
	}

	result.Scheme = strings.ToLower(parsed.Scheme)
	if n.opts.IgnoreProtocol {
		result.Scheme = n.opts.DefaultScheme
	}

	host, ok := normalizeHost(parsed, result.Scheme)
	if !ok {
		return n.degraded(raw, trimmed)
	}
	if n.opts.IgnoreWWW {
		host = strings.TrimPrefix(host, "www.")
	}
	if host == "" {
		return n.degraded(raw, trimmed)
	}
	result.Host = host

	result.Path = n.normalizePath(parsed)
	result.Segments = SplitPath(result.Path)

	if !n.opts.IgnoreQueryParams && parsed.RawQuery != "" {
		if q := parseQuery(parsed.RawQuery); len(q) > 0 {
			result.Query = q
		}
	}
	if result.Query == nil {
		result.Query = url.Values{}
	}

	if !n.opts.IgnoreFragment {
		result.Fragment = parsed.Fragment
	}

	result.Canonical = result.serialize()
	return result
}

// parseQuery parses a raw query. Queries the standard parser rejects, such as
// ones separated by ";", are split on both "&" and ";" so no pair is lost.
func parseQuery(raw string) url.Values {
	if q, err := url.ParseQuery(raw); err == nil {
		return q
	}
	pairs := strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ';' })
	q := url.Values{}
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		q.Add(key, value)
	}
	return q
}

// degraded builds the lexical fallback used when the input cannot be parsed
func (n *Normalizer) degraded(raw, trimmed string) URL {
	canonical := strings.ToLower(trimmed)
	if len(canonical) > 1 {
		canonical = strings.TrimRight(canonical, "/")
	}
	return URL{
		Raw:       raw,
		Canonical: canonical,
		Path:      "/",
		Segments:  []string{},
		Query:     url.Values{},
		Degraded:  true,
		Original:  Components{Path: trimmed},
	}
}

func (n *Normalizer) normalizePath(parsed *url.URL) string {
	p := parsed.EscapedPath()
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if n.opts.CaseInsensitive {
		p = strings.ToLower(p)
	}
	if n.opts.IgnoreTrailingSlash {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// normalizeHost lowercases the hostname, converts it to its ASCII form and
// drops ports that are the default for either the input or the output scheme
func normalizeHost(parsed *url.URL, scheme string) (string, bool) {
	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return "", false
	}
	hostname = strings.TrimSuffix(hostname, ".")
	if ascii, err := idna.Lookup.ToASCII(hostname); err == nil && ascii != "" {
		hostname = ascii
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}

	port := parsed.Port()
	if port == "" || isDefaultPort(strings.ToLower(parsed.Scheme), port) || isDefaultPort(scheme, port) {
		return hostname, true
	}
	return hostname + ":" + port, true
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func (u URL) serialize() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(u.Path)
	if len(u.Query) > 0 {
		// Encode sorts by key
		b.WriteByte('?')
		b.WriteString(u.Query.Encode())
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(url.PathEscape(u.Fragment))
	}
	return b.String()
}

// SplitPath splits a URL path into its non-empty segments, unescaping each
// segment when it is validly escaped
func SplitPath(p string) []string {
	parts := strings.Split(p, "/")
	segs := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(part); err == nil {
			part = unescaped
		}
		segs = append(segs, part)
	}
	return segs
}
