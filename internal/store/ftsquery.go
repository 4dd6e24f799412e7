package store

import "strings"

// ftsReservedWords are FTS5 query operators; they're dropped from user
// queries so they can't be used to inject boolean logic or break the
// MATCH syntax.
var ftsReservedWords = map[string]struct{}{
	"and":  {},
	"or":   {},
	"not":  {},
	"near": {},
}

// ftsSpecialChars are stripped from raw query text before tokenization
// because they have syntactic meaning inside an FTS5 MATCH expression.
const ftsSpecialChars = `":^()*`

// BuildFTSMatchQuery sanitizes free-form user input into a safe FTS5
// MATCH expression and returns the token list used to build it.
//
// Each surviving token of length >= 4 is expanded to "tok" OR "tok"* so
// that both exact and prefix matches score; shorter tokens match exactly
// only, to avoid overly broad prefix expansion. Tokens are AND-joined
// across positions. An empty result after sanitization means the caller
// should skip the search rather than run an empty MATCH.
func BuildFTSMatchQuery(raw string) (string, []string) {
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsSpecialChars, r) {
			return -1
		}
		return r
	}, raw)

	tokens := TokenizeCode(stripped)

	var kept []string
	for _, t := range tokens {
		if len(t) < 2 {
			continue
		}
		if _, reserved := ftsReservedWords[t]; reserved {
			continue
		}
		kept = append(kept, t)
	}

	if len(kept) == 0 {
		return "", nil
	}

	clauses := make([]string, len(kept))
	for i, t := range kept {
		quoted := `"` + t + `"`
		if len(t) >= 4 {
			clauses[i] = "(" + quoted + " OR " + quoted + "*)"
		} else {
			clauses[i] = quoted
		}
	}

	return strings.Join(clauses, " AND "), kept
}
