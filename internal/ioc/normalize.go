package ioc

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize canonicalizes a raw indicator value for its type so that
// (value, type) uniqueness holds across observers:
//   - domains and emails are case-folded
//   - URLs lose their scheme and fragment
//   - IPs are validated octet by octet
//   - hashes are lower-cased hex
func Normalize(value string, typ IndicatorType) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("empty indicator value")
	}

	switch typ {
	case TypeDomain:
		v = strings.ToLower(strings.TrimSuffix(v, "."))
		if !strings.Contains(v, ".") {
			return "", fmt.Errorf("domain %q has no dot", v)
		}
		return v, nil

	case TypeURL:
		v = stripScheme(v)
		if i := strings.IndexByte(v, '#'); i >= 0 {
			v = v[:i]
		}
		if v == "" {
			return "", fmt.Errorf("url reduces to empty after normalization")
		}
		return v, nil

	case TypeIP:
		if err := validateIPv4(v); err != nil {
			return "", err
		}
		return v, nil

	case TypeHash:
		v = strings.ToLower(v)
		switch len(v) {
		case 32, 40, 64:
		default:
			return "", fmt.Errorf("hash %q has unexpected length %d", v, len(v))
		}
		for _, r := range v {
			if !isHexDigit(r) {
				return "", fmt.Errorf("hash %q contains non-hex character", v)
			}
		}
		return v, nil

	case TypeEmail:
		v = strings.ToLower(v)
		if !strings.Contains(v, "@") {
			return "", fmt.Errorf("email %q has no @", v)
		}
		return v, nil
	}

	return "", fmt.Errorf("unknown indicator type %q", typ)
}

// DetectType guesses the indicator type of a raw value. Order matters: IPs
// look like dotted digits, hashes like fixed-length hex, emails carry an @,
// and anything else with a dot is treated as a domain (URL if it carried a
// scheme or path).
func DetectType(value string) (IndicatorType, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", false
	}

	if strings.Contains(v, "@") {
		return TypeEmail, true
	}
	if hasScheme(v) || strings.ContainsAny(v, "/?") {
		return TypeURL, true
	}
	if validateIPv4(v) == nil {
		return TypeIP, true
	}
	if l := len(v); (l == 32 || l == 40 || l == 64) && isHexString(v) {
		return TypeHash, true
	}
	if strings.Contains(v, ".") {
		return TypeDomain, true
	}
	return "", false
}

func hasScheme(v string) bool {
	lower := strings.ToLower(v)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "ftp://") || strings.HasPrefix(lower, "hxxp://") ||
		strings.HasPrefix(lower, "hxxps://")
}

func stripScheme(v string) string {
	if i := strings.Index(v, "://"); i >= 0 {
		return v[i+3:]
	}
	return v
}

func validateIPv4(v string) error {
	parts := strings.Split(v, ".")
	if len(parts) != 4 {
		return fmt.Errorf("%q is not a dotted quad", v)
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return fmt.Errorf("invalid octet %q in %q", p, v)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid octet %q in %q", p, v)
		}
		if n < 0 || n > 255 {
			return fmt.Errorf("octet %d out of range in %q", n, v)
		}
	}
	return nil
}

// IsPrivateIPv4 reports whether a validated dotted-quad falls in the RFC 1918
// private ranges. Used by the heuristic classifier.
func IsPrivateIPv4(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) != 4 {
		return false
	}
	first, _ := strconv.Atoi(parts[0])
	second, _ := strconv.Atoi(parts[1])
	switch {
	case first == 10:
		return true
	case first == 192 && second == 168:
		return true
	case first == 172 && second >= 16 && second <= 31:
		return true
	}
	return false
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

func isHexString(v string) bool {
	for _, r := range strings.ToLower(v) {
		if !isHexDigit(r) {
			return false
		}
	}
	return len(v) > 0
}
