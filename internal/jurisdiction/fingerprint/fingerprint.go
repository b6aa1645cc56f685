// Package fingerprint turns free-form addresses into stable cache keys.
// Pipeline order
// 1 drop invalid UTF-8
// 2 NFKD decomposition so accents become combining marks
// 3 case folding
// 4 strip combining marks and format characters
// 5 punctuation to spaces, whitespace collapsed
// 6 optional truncation right after the postal code
package fingerprint

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKD,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.Cf)),
			norm.NFC,
		)
	},
}

var postalCode = regexp.MustCompile(`\b\d{5}\b`)

// Of returns the fingerprint of address. With truncatePostal, everything after the first
// five-digit postal code is dropped so city spelling variants share a key.
func Of(address string, truncatePostal bool) string {
	s := strings.ToValidUTF8(address, "")
	if s == "" {
		return ""
	}

	tr := chainPool.Get().(transform.Transformer)
	folded, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		folded = strings.ToLower(s)
	}

	folded = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, folded)
	folded = strings.Join(strings.Fields(folded), " ")

	if truncatePostal {
		if loc := postalCode.FindStringIndex(folded); loc != nil {
			folded = folded[:loc[1]]
		}
	}
	return folded
}
