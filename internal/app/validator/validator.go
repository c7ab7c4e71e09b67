// Package validator normalises and checks the user-supplied parts of an entry.
package validator

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxDigits = 16
	MaxTitleLength   = 255
)

var (
	schemePattern = regexp.MustCompile(`(?i)^https?://`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// NormalizeNumber keeps only the ASCII digits of raw.
func NormalizeNumber(raw string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
}

// NormalizeURL trims raw and prefixes https:// unless it already starts with
// http:// or https://. Anything else is left for IsValidURL to reject.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !schemePattern.MatchString(u) {
		u = "https://" + u
	}
	return u
}

// IsValidURL accepts absolute http and https URLs with a host and, if present,
// a non-empty port.
func IsValidURL(raw string) bool {
	if raw == "" || strings.ContainsAny(raw, " \t\r\n") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if strings.HasSuffix(u.Host, ":") {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Hostname() != ""
}

// SanitizeTitle collapses whitespace to single spaces and drops control characters.
func SanitizeTitle(raw string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(stripControl(raw, false), " "))
}

// SanitizeNote trims the note and drops control characters, keeping line breaks.
func SanitizeNote(raw string) string {
	return strings.TrimSpace(stripControl(strings.ReplaceAll(raw, "\r\n", "\n"), true))
}

// TitleTooLong reports whether a sanitised title exceeds the column width.
func TitleTooLong(title string) bool {
	return utf8.RuneCountInString(title) > MaxTitleLength
}

func stripControl(s string, keepNewlines bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' && keepNewlines:
			return r
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case r < 0x20 || r == 0x7f || r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
}

// Validator carries the configurable number rules.
type Validator struct {
	maxDigits int
}

// New returns a Validator; maxDigits <= 0 falls back to DefaultMaxDigits.
func New(maxDigits int) *Validator {
	if maxDigits <= 0 {
		maxDigits = DefaultMaxDigits
	}
	return &Validator{maxDigits: maxDigits}
}

// MaxDigits is the longest accepted number.
func (v *Validator) MaxDigits() int { return v.maxDigits }

// IsValidNumber reports whether raw normalises to between 1 and MaxDigits digits.
func (v *Validator) IsValidNumber(raw string) bool {
	n := len(NormalizeNumber(raw))
	return n >= 1 && n <= v.maxDigits
}
