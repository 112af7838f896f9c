package registry

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrIllegalName reports a proposed thread name containing characters other
// than word characters and whitespace.
var ErrIllegalName = errors.New("registry: thread names may only contain letters, digits, underscores and spaces")

// AutoNameLimit is the number of characters kept when naming a thread after
// its first message.
const AutoNameLimit = 30

var illegalNameChars = regexp.MustCompile(`[^\w\s]`)

// SanitizeName strips every character that is not a word character or
// whitespace and trims the result.
func SanitizeName(name string) string {
	return strings.TrimSpace(illegalNameChars.ReplaceAllString(name, ""))
}

// ValidateName returns ErrIllegalName when name would be altered by
// sanitization beyond surrounding whitespace.
func ValidateName(name string) error {
	if illegalNameChars.MatchString(name) {
		return ErrIllegalName
	}
	return nil
}

// NameFromUtterance derives a thread name from the first user message: the
// sanitized text cut to AutoNameLimit characters, with "..." appended when
// it was cut.
func NameFromUtterance(text string) string {
	clean := SanitizeName(text)
	if utf8.RuneCountInString(clean) <= AutoNameLimit {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:AutoNameLimit]) + "..."
}
