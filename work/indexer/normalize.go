package indexer

import (
	"strings"

	"github.com/grafana/regexp"
)

// Compiled once; normalization runs on every channel of every catalog and on
// every search term, so these sit on the hot path.
var (
	reCountryPrefix = regexp.MustCompile(`(?i)^[A-Z]{2,3}[-:]\s+`)
	reSuffixQualTag = regexp.MustCompile(`(?i)\|\s?[A-Z]{2,3}\s?(8K|4K|UHD|FHD|HD|SD|HDR)$`)
	reSuffixTagQual = regexp.MustCompile(`(?i)\|\s?(8K|4K|UHD|FHD|HD|SD|HDR)\s?[A-Z]{2,3}$`)
	reSuffixTag     = regexp.MustCompile(`(?i)\|\s?[A-Z]{2,3}$`)
	reQuality       = regexp.MustCompile(`\b(8k|4k|uhd|fhd|hd|sd|hdr)\b`)
	reLastSegment   = regexp.MustCompile(`.*[|\-:\]]\s+(.*)`)
	reLeadingParen  = regexp.MustCompile(`^\(.*?\)`)
	reTrailingParen = regexp.MustCompile(`\(.*?\)$`)
	reTrailingBrack = regexp.MustCompile(`\[.*?\]$`)
	reNonAlnum      = regexp.MustCompile(`[^a-z0-9]`)
)

// Normalize collapses a provider channel name down to the compact key that
// search matches against. Country prefixes, quality tags, bracketed
// decorations and separators are stripped, aliases are folded, and whatever
// survives is reduced to lowercase alphanumerics.
//
// The function is idempotent: feeding a key back through produces the same
// key, so search terms and stored keys stay in the same space.
//
//	Normalize("US: ESPN HD")  == "espn"
//	Normalize("UK - Sky Sports Main Event 4K") == "skysportsmainevent"
func Normalize(name string) string {
	s := strings.TrimSpace(name)
	s = reCountryPrefix.ReplaceAllString(s, "")
	s = reSuffixQualTag.ReplaceAllString(s, "")
	s = reSuffixTagQual.ReplaceAllString(s, "")
	s = reSuffixTag.ReplaceAllString(s, "")

	s = strings.ToLower(s)
	s = reQuality.ReplaceAllString(s, "")

	// brand folds the providers never agree on
	s = strings.ReplaceAll(s, "bally", "fanduel")
	s = strings.ReplaceAll(s, "network", "")

	// keep only the segment after the last separator, e.g. "group | name"
	s = reLastSegment.ReplaceAllString(s, "$1")

	s = reLeadingParen.ReplaceAllString(s, "")
	s = reTrailingParen.ReplaceAllString(s, "")
	s = reTrailingBrack.ReplaceAllString(s, "")

	return reNonAlnum.ReplaceAllString(s, "")
}
