package advisor

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// INFY.NS, RELIANCE.BO
	suffixedTicker = regexp.MustCompile(`\b[A-Z][A-Z0-9&-]{1,11}\.[A-Z]{1,3}\b`)
	// $AAPL
	dollarTicker = regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9.-]{0,11})`)
)

// ExtractSymbols finds tickers in a question. Only unambiguous forms count: an upper-case
// ticker with an exchange suffix, or any ticker with a $ prefix. Results are upper-cased
// and deduplicated in order of appearance.
func ExtractSymbols(text string) []string {
	type hit struct {
		pos int
		sym string
	}
	var hits []hit
	for _, loc := range suffixedTicker.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{loc[0], text[loc[0]:loc[1]]})
	}
	for _, m := range dollarTicker.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{m[0], strings.TrimRight(text[m[2]:m[3]], ".-")})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool)
	var result []string
	for _, h := range hits {
		sym := strings.ToUpper(h.sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		result = append(result, sym)
	}
	return result
}
