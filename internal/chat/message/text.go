// Package message prepares user supplied chat text for relaying.
package message

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxTextSize - upper bound of chat and private message text,
	// it is the budget under the default 4096 bytes frame.
	MaxTextSize = 3584

	// EnvelopeReserve - bytes kept for the relayed frame around its text:
	// type, two identities of max length, timestamp and JSON punctuation.
	EnvelopeReserve = 160
)

// Budget - encoded text budget for frames limited to maxFrame bytes.
// Returns zero when the frame can't carry any text.
func Budget(maxFrame int) int {
	budget := maxFrame - EnvelopeReserve
	if budget > MaxTextSize {
		budget = MaxTextSize
	}
	if budget < 0 {
		return 0
	}
	return budget
}

// Truncate - cuts s to at most max bytes without splitting a multi-byte character.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	n := max
	// s[n] is the first dropped byte; step back while it continues the previous rune
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Fit - cuts s on a character boundary so its JSON string encoding
// (quotes excluded) takes at most max bytes.
func Fit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	size := 0
	for i, r := range s {
		var n int
		if r == utf8.RuneError {
			_, width := utf8.DecodeRuneInString(s[i:])
			n = encodedSize(r, width)
		} else {
			n = encodedSize(r, utf8.RuneLen(r))
		}
		if size+n > max {
			return s[:i]
		}
		size += n
	}
	return s
}

// encodedSize - bytes taken by rune r of width bytes in a JSON string written without HTML escaping.
func encodedSize(r rune, width int) int {
	switch {
	case r == '"' || r == '\\' || r == '\n' || r == '\r' || r == '\t':
		return 2
	case r < 0x20, r == '\u2028', r == '\u2029':
		return 6
	case r == utf8.RuneError && width == 1:
		// invalid byte is replaced with �
		return 6
	default:
		return width
	}
}

// Clean - trims surrounding white space and fits the result into max encoded bytes.
func Clean(s string, max int) string {
	return strings.TrimSpace(Fit(strings.TrimSpace(s), max))
}
