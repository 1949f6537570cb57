package signalgen

import "strings"

// stablecoins are settlement currencies and never become trade candidates
var stablecoins = map[string]struct{}{
	"USDC":  {},
	"USDT":  {},
	"DAI":   {},
	"BUSD":  {},
	"TUSD":  {},
	"USDE":  {},
	"FDUSD": {},
	"USDS":  {},
	"PYUSD": {},
	"FRAX":  {},
	"LUSD":  {},
	"USDD":  {},
	"GUSD":  {},
	"USDP":  {},
}

// NormalizeToken upper-cases a symbol and strips a leading "$" cashtag
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(token), "$"))
}

// IsStablecoin reports whether token is on the stablecoin deny-list
func IsStablecoin(token string) bool {
	_, ok := stablecoins[NormalizeToken(token)]
	return ok
}
