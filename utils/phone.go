package utils

import "regexp"

// MinPhoneDigits is the minimum length a normalized phone must have before it
// is considered a usable identity for migration matching. Anything shorter is
// treated as unknown and never matched.
const MinPhoneDigits = 10

var nonDigits = regexp.MustCompile(`\D+`)

// NormalizePhone strips everything but digits from a raw phone string so two
// renderings of the same number compare equal. No country-code validation is
// attempted here.
func NormalizePhone(raw string) string {
	return nonDigits.ReplaceAllString(raw, "")
}

// MigratablePhone reports whether a normalized phone is long enough to be
// used as a migration matching key.
func MigratablePhone(normalizedPhone string) bool {
	return len(normalizedPhone) >= MinPhoneDigits
}
