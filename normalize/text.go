// Package normalize canonicalizes the noisy strings scraped from IPO sites:
// company names and symbols into join keys, and free-form numbers, dates and
// grey market premium text into typed values.
package normalize

import (
	"regexp"
	"strings"
)

var (
	htmlTagRegex     = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	nonAlnumRegex    = regexp.MustCompile(`[^a-z0-9]+`)
	symbolStripRegex = regexp.MustCompile(`[^A-Z0-9]`)
	exchangeTagRegex = regexp.MustCompile(`(?i)\s*\b(bse|nse)\b\s*(sme)?\s*\b[uoc]?\s*$`)
	trailingIPORegex = regexp.MustCompile(`(?i)\s+ipo\s*$`)
)

// corporateSuffixes are the legal-form words dropped from the end of a name
// when deriving a key, plus the listing markers tables append. They are
// removed repeatedly, so "ABC Pvt Ltd" reduces to "ABC". Descriptive words
// such as "Technologies" or "India" stay part of the key.
var corporateSuffixes = map[string]bool{
	"ltd":     true,
	"limited": true,
	"pvt":     true,
	"private": true,
	"inc":     true,
	"ipo":     true,
	"sme":     true,
}

var notAvailableValues = map[string]bool{
	"tba":                 true,
	"to be announced":     true,
	"to be decided":       true,
	"tbd":                 true,
	"n/a":                 true,
	"na":                  true,
	"not available":       true,
	"not applicable":      true,
	"not disclosed":       true,
	"awaited":             true,
	"pending":             true,
	"coming soon":         true,
	"will be updated":     true,
	"yet to be announced": true,
	"--":                  true,
	"-":                   true,
	"":                    true,
	"nil":                 true,
	"null":                true,
}

var headerVocabulary = []string{
	"company",
	"company name",
	"issuer company",
	"ipo name",
	"ipo",
	"name",
	"issuer",
}

// IsNotAvailable reports placeholder text such as "TBA", "N/A" or "-"
func IsNotAvailable(text string) bool {
	return notAvailableValues[strings.ToLower(strings.TrimSpace(text))]
}

// IsHeaderLabel reports whether a first-cell text looks like a table header
func IsHeaderLabel(text string) bool {
	label := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ":")))
	for _, h := range headerVocabulary {
		if label == h {
			return true
		}
	}
	return false
}

// CleanText strips tags and collapses whitespace
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = htmlTagRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CleanCompanyName removes the exchange/status markers and a trailing "IPO"
// that listing tables append to company names.
func CleanCompanyName(name string) string {
	name = CleanText(name)
	name = exchangeTagRegex.ReplaceAllString(name, "")
	name = trailingIPORegex.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// Key derives the canonical join key from a company name. Case, punctuation,
// exchange markers and trailing legal-form words do not affect the result.
// Distinct companies can reduce to the same key; the aggregator flags such
// collisions.
func Key(companyName string) string {
	lowered := strings.ToLower(CleanCompanyName(companyName))
	lowered = strings.ReplaceAll(lowered, "&", " and ")
	words := strings.Fields(nonAlnumRegex.ReplaceAllString(lowered, " "))
	if len(words) == 0 {
		return ""
	}

	// the first word is never stripped
	end := len(words)
	for end > 1 && corporateSuffixes[words[end-1]] {
		end--
	}

	return strings.ToUpper(strings.Join(words[:end], ""))
}

// Symbol normalizes an exchange symbol to upper-case alphanumerics. It
// returns "" for placeholders.
func Symbol(raw string) string {
	raw = strings.TrimSpace(raw)
	if IsNotAvailable(raw) {
		return ""
	}
	return symbolStripRegex.ReplaceAllString(strings.ToUpper(raw), "")
}

// GroupKey picks the join key of a raw record: the explicit symbol when the
// source reported one, the company name key otherwise.
func GroupKey(symbol, companyName string) string {
	if s := Symbol(symbol); s != "" {
		return s
	}
	return Key(companyName)
}
