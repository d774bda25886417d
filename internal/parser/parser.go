package parser

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/maltedev/listing-scraper/internal/models"
)

// NumericPrice keeps only the digits and dots of a listed price, with
// digits of any script written as ASCII. The missing-price sentinel maps
// to "0".
func NumericPrice(raw string) string {
	if raw == models.NotAvailable {
		return "0"
	}

	var b strings.Builder
	for _, r := range raw {
		if d, ok := asciiDigit(r); ok {
			b.WriteRune(d)
		} else if r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseCount reads the first run of digits in raw. It returns 0 when raw is
// the sentinel, holds no digits or overflows an int, so "2.3K sold" is 2.
func ParseCount(raw, sentinel string) int {
	if raw == sentinel {
		return 0
	}

	var run strings.Builder
	for _, r := range raw {
		d, ok := asciiDigit(r)
		if !ok {
			if run.Len() > 0 {
				break
			}
			continue
		}
		run.WriteRune(d)
	}
	if run.Len() == 0 {
		return 0
	}

	n, err := strconv.Atoi(run.String())
	if err != nil {
		return 0
	}
	return n
}

// asciiDigit maps a decimal digit of any script to '0'..'9'. Unicode lays
// decimal digits out in contiguous blocks of ten, each starting at zero.
func asciiDigit(r rune) (rune, bool) {
	if r >= '0' && r <= '9' {
		return r, true
	}
	if !unicode.IsDigit(r) {
		return 0, false
	}
	start := r
	for unicode.IsDigit(start - 1) {
		start--
	}
	return '0' + (r-start)%10, true
}

// CleanText collapses runs of whitespace, including the non-breaking spaces
// the storefront pads prices with.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
