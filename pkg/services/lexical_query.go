package services

import (
	"strings"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
	"github.com/Zeeeepa/ragforge-sub003/pkg/repositories"
)

// lexicalFuzziness is the edit distance allowed per query token.
const lexicalFuzziness = 1

// luceneReplacer escapes the characters that carry meaning in Lucene query
// syntax. "&&" and "||" are covered by escaping each character.
var luceneReplacer = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `&`, `\&`, `|`, `\|`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`,
)

// EscapeLucene escapes Lucene special characters in s.
func EscapeLucene(s string) string {
	return luceneReplacer.Replace(s)
}

// BuildLexicalQuery renders a free-text query as a fuzzy Lucene expression:
// every whitespace-separated token is escaped and given a ~1 edit allowance.
// It is only logged. The store receives BuildLexicalTerms as bound
// parameters, which need no escaping.
func BuildLexicalQuery(query string) string {
	fields := strings.Fields(query)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, EscapeLucene(f)+"~1")
	}
	return strings.Join(parts, " ")
}

// BuildLexicalTerms tokenizes a query the way stored names are tokenized, so
// each term can be compared against the persisted search terms.
func BuildLexicalTerms(query string) []repositories.LexicalTerm {
	tokens := models.SearchTerms(query, nil)
	terms := make([]repositories.LexicalTerm, len(tokens))
	for i, tok := range tokens {
		terms[i] = repositories.LexicalTerm{Text: tok, Fuzziness: lexicalFuzziness}
	}
	return terms
}
