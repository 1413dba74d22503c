package domain

import "strings"

// NormalizeSymbol converts any of the venue-native symbol spellings to the
// canonical exchange-prefixed form used throughout the engine:
//
//	"600000"     -> "SH600000" (6/5/9 prefixes are Shanghai)
//	"000001"     -> "SZ000001" (0/3 prefixes are Shenzhen)
//	"600000.SH"  -> "SH600000"
//	"sz000001"   -> "SZ000001"
//
// The function is total: malformed input is returned best-effort (trimmed
// and upper-cased) and empty input yields "". It never panics.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	// Spreadsheet exports sometimes carry a float tail ("600000.0").
	if strings.HasSuffix(s, ".0") {
		s = strings.TrimSuffix(s, ".0")
	}

	// "600000.SH" / "000001.SZ"
	if dot := strings.IndexByte(s, '.'); dot > 0 {
		left, right := s[:dot], s[dot+1:]
		if len(left) == 6 && isDigits(left) && (right == "SH" || right == "SZ") {
			return right + left
		}
	}

	// Already prefixed: "SH600000"
	if (strings.HasPrefix(s, "SH") || strings.HasPrefix(s, "SZ")) && len(s) == 8 && isDigits(s[2:]) {
		return s
	}

	// Bare codes, short codes zero-padded to six digits first.
	if isDigits(s) && len(s) < 6 {
		s = strings.Repeat("0", 6-len(s)) + s
	}
	if len(s) == 6 && isDigits(s) {
		switch s[0] {
		case '6', '5', '9':
			return "SH" + s
		case '0', '3':
			return "SZ" + s
		}
	}

	return s
}

// VenueSymbol converts a canonical symbol back to the dotted form the
// execution venue expects ("SH600000" -> "600000.SH"). Symbols not in
// canonical form pass through unchanged.
func VenueSymbol(canonical string) string {
	s := strings.ToUpper(strings.TrimSpace(canonical))
	if len(s) == 8 && (strings.HasPrefix(s, "SH") || strings.HasPrefix(s, "SZ")) && isDigits(s[2:]) {
		return s[2:] + "." + s[:2]
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
