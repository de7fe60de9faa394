package queue

import "strings"

// Matches reports whether title matches the query.
//
// Fuzzy mode lowercases both sides and requires every query token to be a substring of a
// distinct title word; each word is consumed at most once. Exact mode compares tokens to the
// leading title words positionally and case-sensitively.
func Matches(title, query string, exact bool) bool {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return false
	}
	words := strings.Fields(title)

	if exact {
		if len(tokens) > len(words) {
			return false
		}
		for i, tok := range tokens {
			if words[i] != tok {
				return false
			}
		}
		return true
	}

	remaining := make([]string, len(words))
	for i, w := range words {
		remaining[i] = strings.ToLower(w)
	}
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		found := -1
		for i, w := range remaining {
			if strings.Contains(w, tok) {
				found = i
				break
			}
		}
		if found < 0 {
			return false
		}
		remaining = append(remaining[:found], remaining[found+1:]...)
	}
	return true
}
