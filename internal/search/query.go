package search

import "strings"

// stopWords are excluded from per-term partial credit in the instant ladder.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "at": true, "by": true, "for": true,
	"i": true, "in": true, "is": true, "it": true, "my": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "was": true, "with": true,
	"you": true,
}

// tokenize lowercases and splits a query into terms.
func tokenize(query string) []string {
	parts := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', '.', ':', ';', '/', '\\', '"', '(', ')':
			return true
		}
		return false
	})
	var terms []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}

// tokenizeScorable drops stop words from a term list.
func tokenizeScorable(terms []string) []string {
	var out []string
	for _, t := range terms {
		if !stopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// quoteTerm escapes one term for FTS5 by double-quoting it.
func quoteTerm(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// orExpr matches any term.
func orExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = quoteTerm(t)
	}
	return strings.Join(quoted, " OR ")
}

// andExpr requires every term.
func andExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = quoteTerm(t)
	}
	return strings.Join(quoted, " AND ")
}

// phraseExpr matches the terms contiguously in order.
func phraseExpr(terms []string) string {
	return quoteTerm(strings.Join(terms, " "))
}

// prefixExpr matches one term exactly or as a prefix.
func prefixExpr(term string) string {
	return quoteTerm(term) + " OR " + quoteTerm(term) + "*"
}
