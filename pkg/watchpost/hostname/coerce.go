package hostname

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripCombining = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Coerce renders host into an RFC1123-safe label sequence per spec §6:
// lowercase, Unicode-normalized to ASCII (NFKD with combining marks
// stripped), any character outside [a-z0-9-.] replaced with '-', each
// dot-separated label trimmed of leading/trailing '-' and truncated to 63
// characters, empty labels collapsed, and the whole result clamped to 253
// characters. An all-empty result yields "".
func Coerce(host string) string {
	ascii, _, err := transform.String(stripCombining, host)
	if err != nil {
		ascii = host
	}
	ascii = strings.ToLower(ascii)

	var sanitized strings.Builder
	for _, r := range ascii {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			sanitized.WriteRune(r)
		} else {
			sanitized.WriteByte('-')
		}
	}

	labels := strings.Split(sanitized.String(), ".")
	kept := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.Trim(label, "-")
		if len(label) > 63 {
			label = label[:63]
		}
		if label != "" {
			kept = append(kept, label)
		}
	}

	out := strings.Join(kept, ".")
	if len(out) > 253 {
		out = out[:253]
	}
	return out
}
