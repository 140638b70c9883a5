// Package keyword canonicalizes search terms so that term identity is
// stable across registration, lookups, and stored results.
package keyword

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Canonical returns the canonical form of a search term: NFC-normalized,
// case-folded, with whitespace collapsed to single spaces.
func Canonical(term string) (string, error) {
	t := norm.NFC.String(term)
	t = lower.String(t)
	t = strings.Join(strings.Fields(t), " ")
	if t == "" {
		return "", eris.New("keyword: empty term")
	}
	return t, nil
}

// CanonicalAll canonicalizes a list of terms, dropping duplicates while
// preserving first-seen order.
func CanonicalAll(terms []string) ([]string, error) {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, raw := range terms {
		c, err := Canonical(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "keyword: canonicalize %q", raw)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
