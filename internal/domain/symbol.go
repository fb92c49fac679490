package domain

import (
	"errors"
	"strings"
)

// ErrInvalidSymbol marks a symbol that fails validation, so transport layers
// can tell caller mistakes apart from missing data.
var ErrInvalidSymbol = errors.New("invalid symbol")

// Market prefixes used for provider interchange. Pure 6-digit A-share codes
// are routed to an exchange by leading-digit rules; Hong Kong codes carry an
// explicit "hk" prefix.
const (
	MarketShanghai = "sh"
	MarketShenzhen = "sz"
	MarketBeijing  = "bj"
	MarketHongKong = "hk"
)

// MarketPrefix returns the exchange tag for a bare A-share code:
// 4/8/43/83/87/92 → bj, then 5/6/9 → sh, everything else → sz. The
// two-digit Beijing rules are checked first so that 92xxxx does not get
// swallowed by the 9 → sh rule.
func MarketPrefix(code string) string {
	if code == "" {
		return MarketShenzhen
	}
	for _, p := range []string{"43", "83", "87", "92", "4", "8"} {
		if strings.HasPrefix(code, p) {
			return MarketBeijing
		}
	}
	switch code[0] {
	case '5', '6', '9':
		return MarketShanghai
	}
	return MarketShenzhen
}

// IsHongKong reports whether code addresses the Hong Kong market, either by
// explicit "hk" prefix or by being a short 3–5 digit code.
func IsHongKong(code string) bool {
	lower := strings.ToLower(code)
	if strings.HasPrefix(lower, MarketHongKong) {
		return true
	}
	n := len(code)
	return n >= 3 && n <= 5 && isDigits(code)
}

// NormalizeCode strips any market prefix and zero-pads an A-share code to
// 6 digits. Hong Kong codes are padded to 5 digits without prefix.
func NormalizeCode(code string) string {
	stripped := stripPrefix(code)
	if IsHongKong(code) {
		return leftPad(stripped, 5)
	}
	return leftPad(stripped, 6)
}

// WithPrefix returns the provider-interchange form of a symbol: "sh600519",
// "sz000001", "bj430047", or "hk00700". Already-prefixed input is passed
// through lower-cased.
func WithPrefix(code string) string {
	lower := strings.ToLower(code)
	for _, p := range []string{MarketShanghai, MarketShenzhen, MarketBeijing, MarketHongKong} {
		if strings.HasPrefix(lower, p) {
			return p + stripPrefix(code)
		}
	}
	if IsHongKong(code) {
		return MarketHongKong + leftPad(code, 5)
	}
	bare := leftPad(code, 6)
	return MarketPrefix(bare) + bare
}

// ValidCode reports whether code is an acceptable symbol: a 6-digit A-share
// code (optionally sh/sz/bj prefixed) or a 3–5 digit Hong Kong code
// (optionally hk prefixed). 6+ digit Hong Kong inputs are rejected.
func ValidCode(code string) bool {
	lower := strings.ToLower(code)
	if strings.HasPrefix(lower, MarketHongKong) {
		rest := code[2:]
		return len(rest) >= 3 && len(rest) <= 5 && isDigits(rest)
	}
	stripped := stripPrefix(code)
	if stripped != code {
		return len(stripped) == 6 && isDigits(stripped)
	}
	if !isDigits(code) {
		return false
	}
	return len(code) == 6 || (len(code) >= 3 && len(code) <= 5)
}

// IsIndexCode reports whether a prefixed code names an A-share index
// (sh000xxx, sz399xxx) rather than a listed equity.
func IsIndexCode(code string) bool {
	lower := strings.ToLower(code)
	switch {
	case strings.HasPrefix(lower, "sh000"), strings.HasPrefix(lower, "sz399"):
		return len(lower) == 8
	case strings.HasPrefix(lower, "^"), strings.HasSuffix(lower, ".hk"):
		return true
	}
	return false
}

func stripPrefix(code string) string {
	lower := strings.ToLower(code)
	for _, p := range []string{MarketShanghai, MarketShenzhen, MarketBeijing, MarketHongKong} {
		if strings.HasPrefix(lower, p) {
			return code[len(p):]
		}
	}
	return code
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

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
