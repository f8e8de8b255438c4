// Package normalize turns billable entities, style names and sizes into
// tracking identifiers.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallbacks used when an identifier is missing.
const (
	FallbackBillable = "UNDEFINED_ENTITY"
	FallbackStyle    = "NO_STYLE"
	FallbackSize     = "NO_SIZE"
)

// Case selects the casing applied after normalization.
type Case int

const (
	Upper Case = iota
	Lower
)

// combiningMarks is the Combining Diacritical Marks block (U+0300..U+036F).
var combiningMarks = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x0300, Hi: 0x036f, Stride: 1}},
}

var spaceRun = regexp.MustCompile(` +`)

// Normalize decomposes s, strips combining diacritics, replaces each run of
// spaces with a single underscore and applies the requested casing.
func Normalize(s string, c Case) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(combiningMarks)))
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = spaceRun.ReplaceAllString(stripped, "_")
	if c == Lower {
		return strings.ToLower(stripped)
	}
	return strings.ToUpper(stripped)
}

// Billable returns the upper-cased billable entity code.
func Billable(code string) string {
	if code == "" {
		code = FallbackBillable
	}
	return Normalize(code, Upper)
}

// CreativeID returns "<style>-<size>" with the style name lower-cased. The
// size is appended as given.
func CreativeID(styleName, size string) string {
	if styleName == "" {
		styleName = FallbackStyle
	}
	if size == "" {
		size = FallbackSize
	}
	return Normalize(styleName, Lower) + "-" + size
}
