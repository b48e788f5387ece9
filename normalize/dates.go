package normalize

import (
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
)

// dateLayouts covers the formats used by the listing sites
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 02, 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 02, 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"2-Jan-06",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"02-01-2006",
	"2-1-2006",
	"02/01/2006",
	"2/1/2006",
}

// Date parses a date in any known layout and truncates it to midnight UTC so
// that dates from different sources compare equal. Placeholders yield nil.
func Date(text string) *time.Time {
	text = CleanText(text)
	if IsNotAvailable(text) {
		return nil
	}

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
			return &day
		}
	}
	return nil
}

// SameDay reports whether two optional dates fall on the same day
func SameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Status maps the status vocabulary of the sources onto the persisted set
func Status(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "o", "open", "live", "active", "current", "ongoing":
		return models.StatusOpen
	case "u", "upcoming", "forthcoming", "opening soon":
		return models.StatusUpcoming
	case "c", "closed", "allotment", "result out", "basis of allotment":
		return models.StatusClosed
	case "l", "listed":
		return models.StatusListed
	default:
		return ""
	}
}

// StatusFromDates derives the lifecycle status from the issue timeline
func StatusFromDates(openDate, closeDate, listingDate *time.Time, now time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch {
	case listingDate != nil && !today.Before(*listingDate):
		return models.StatusListed
	case closeDate != nil && today.After(*closeDate):
		return models.StatusClosed
	case openDate != nil && !today.Before(*openDate):
		return models.StatusOpen
	case openDate != nil:
		return models.StatusUpcoming
	default:
		return models.StatusUnknown
	}
}
