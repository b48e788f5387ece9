package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	signedNumberRegex   = regexp.MustCompile(`(?i)([+-])?\s?(?:₹|rs\.?|inr|\$)?\s?([+-])?(\d[\d,]*(?:\.\d+)?|\.\d+)`)
	unsignedNumberRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	percentRegex        = regexp.MustCompile(`([+-]?\d[\d,]*(?:\.\d+)?)\s*%`)
	parenthesizedRegex  = regexp.MustCompile(`\([^)]*\)`)
	lakhRegex           = regexp.MustCompile(`(?i)\b(lakh|lakhs|lac|lacs)\b`)
)

func prepareNumericText(text string) string {
	text = CleanText(text)
	text = strings.ReplaceAll(text, "−", "-")
	text = strings.ReplaceAll(text, "–", "-")
	return text
}

func parseDigits(digits string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// ExtractNumeric returns the first number found in free-form text such as
// "+₹125", "₹1,200.50 Cr", "3.22x" or "-5.8%". It returns nil when the text
// is a placeholder or holds no number.
func ExtractNumeric(text string) *float64 {
	text = prepareNumericText(text)
	if IsNotAvailable(text) {
		return nil
	}

	match := signedNumberRegex.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	value, ok := parseDigits(match[3])
	if !ok {
		return nil
	}
	if match[1] == "-" || match[2] == "-" {
		value = -value
	}
	return &value
}

// Float is ExtractNumeric with a zero sentinel for missing values
func Float(text string) float64 {
	if v := ExtractNumeric(text); v != nil {
		return *v
	}
	return 0
}

// Multiple parses subscription multiples like "3.22x" or "526.56 times"
func Multiple(text string) *float64 {
	return ExtractNumeric(text)
}

// Percent parses a percentage, preferring the number attached to a % sign
func Percent(text string) *float64 {
	text = prepareNumericText(text)
	if IsNotAvailable(text) {
		return nil
	}
	if match := percentRegex.FindStringSubmatch(text); match != nil {
		if value, ok := parseDigits(strings.TrimPrefix(match[1], "+")); ok {
			return &value
		}
	}
	return ExtractNumeric(text)
}

// Crores parses an issue size into ₹ crore. Values quoted in lakh are
// converted.
func Crores(text string) *float64 {
	value := ExtractNumeric(text)
	if value == nil {
		return nil
	}
	if lakhRegex.MatchString(text) {
		converted := *value / 100
		return &converted
	}
	return value
}

// Int parses an integer count such as a lot size ("150 Shares")
func Int(text string) *int {
	value := ExtractNumeric(text)
	if value == nil {
		return nil
	}
	n := int(math.Round(*value))
	return &n
}

// PriceBand parses "₹95 - ₹100", "95 to 100" or a single "₹100" into the
// low and high ends of the band.
func PriceBand(text string) (low *float64, high *float64) {
	text = prepareNumericText(text)
	if IsNotAvailable(text) {
		return nil, nil
	}

	matches := unsignedNumberRegex.FindAllString(text, 2)
	var values []float64
	for _, m := range matches {
		if v, ok := parseDigits(m); ok {
			values = append(values, v)
		}
	}

	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return &values[0], &values[0]
	default:
		lo, hi := values[0], values[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		return &lo, &hi
	}
}

// ParseGMP parses grey market premium text. "+₹125 (26.3%)" yields 125 and
// 26.3; unparseable text such as "N/A" yields 0 and nil.
func ParseGMP(text string) (gmp float64, percent *float64) {
	text = prepareNumericText(text)
	if IsNotAvailable(text) {
		return 0, nil
	}

	if match := percentRegex.FindStringSubmatch(text); match != nil {
		if value, ok := parseDigits(strings.TrimPrefix(match[1], "+")); ok {
			percent = &value
		}
	}

	valueText := parenthesizedRegex.ReplaceAllString(text, "")
	if percent != nil {
		valueText = percentRegex.ReplaceAllString(valueText, "")
	}
	return Float(valueText), percent
}
