package slug

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RootSlug is the slug of a domain root node
const RootSlug = "home"

var (
	nonSlugChars   = regexp.MustCompile("[^a-z0-9-]+")
	repeatedDashes = regexp.MustCompile("-+")
	separators     = regexp.MustCompile(`[-_+.~\s]+`)
	fileExtension  = regexp.MustCompile(`\.(html?|php|aspx?|jsp)$`)
)

// Generate creates a URL-friendly slug from a string
func Generate(s string) string {
	if s == "" {
		return ""
	}

	// Convert to lowercase
	s = strings.ToLower(s)

	// Transliterate unicode to ASCII
	s = transliterate(s)

	// Replace spaces, underscores and slashes with hyphens
	s = strings.NewReplacer(" ", "-", "_", "-", "/", "-").Replace(s)

	s = nonSlugChars.ReplaceAllString(s, "")
	s = repeatedDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	// Limit length to 100 characters
	if len(s) > 100 {
		s = s[:100]
		// Trim any trailing hyphen after truncation
		s = strings.TrimRight(s, "-")
	}

	return s
}

// GenerateWithFallback generates a slug, falling back to a default if the input produces an empty slug
func GenerateWithFallback(s, fallback string) string {
	slug := Generate(s)
	if slug == "" {
		return Generate(fallback)
	}
	return slug
}

// FromSegments returns the slug of a page identified by its path segments:
// the last segment, or RootSlug when there are none
func FromSegments(segments []string) string {
	if len(segments) == 0 {
		return RootSlug
	}
	return segments[len(segments)-1]
}

// Humanize turns a slug into a display title.
// "smart-phones_2024" becomes "Smart Phones 2024".
func Humanize(slug string) string {
	slug = fileExtension.ReplaceAllString(slug, "")
	words := strings.Fields(separators.ReplaceAllString(slug, " "))
	if len(words) == 0 {
		return ""
	}
	caser := cases.Title(language.English)
	return caser.String(strings.Join(words, " "))
}

// transliterate converts unicode characters to ASCII equivalents
func transliterate(s string) string {
	// Normalize unicode characters to NFD form (decomposed)
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// isMn checks if a rune is a nonspacing mark (accents, diacritics)
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

// MakeUnique appends a number to a slug to make it unique
func MakeUnique(slug string, counter int) string {
	if counter == 0 {
		return slug
	}
	return fmt.Sprintf("%s-%d", slug, counter)
}
