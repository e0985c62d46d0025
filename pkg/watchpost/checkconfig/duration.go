// Package checkconfig parses the small vocabulary of configuration values
// the check registry and engine need at registration time: cache-duration
// strings and the environments manifest, following the same
// defensive, no-panic env-parsing idiom as infrastructure/config.
package checkconfig

import (
	"regexp"
	"strconv"
	"time"

	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
)

// durationPattern matches spec §6's duration grammar: one or more digits
// followed by a single unit letter (s, m, h, d).
var durationPattern = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

var unitMultiplier = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// NoCacheDuration is the sentinel returned by ParseDuration for the literal
// string "none", meaning cache_for = none: lookups always miss and writes
// are a no-op (spec §8 boundary behavior).
const NoCacheDuration time.Duration = -1

// ParseDuration parses a check's cache_for string per spec §6:
// `^(\d+)(s|m|h|d)$` parses to seconds/minutes/hours/days; the literal
// "none" parses to NoCacheDuration; any other string is a fatal
// configuration error (returned, never panicked).
func ParseDuration(raw string) (time.Duration, error) {
	if raw == "none" {
		return NoCacheDuration, nil
	}
	match := durationPattern.FindStringSubmatch(raw)
	if match == nil {
		return 0, wperrors.InvalidDuration(raw)
	}
	quantity, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, wperrors.InvalidDuration(raw)
	}
	return time.Duration(quantity) * unitMultiplier[match[2]], nil
}

// MustParseDuration is ParseDuration for call sites (registration-table
// literals) that are certain the input is well-formed; it panics otherwise,
// the same contract as regexp.MustCompile-style helpers — never use it on
// user-or-config-supplied input.
func MustParseDuration(raw string) time.Duration {
	d, err := ParseDuration(raw)
	if err != nil {
		panic(err)
	}
	return d
}
