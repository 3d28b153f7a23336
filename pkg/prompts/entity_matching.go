// Package prompts builds the instructions sent to the semantic-matching model.
package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// MentionContext describes one unresolved mention in a matching batch.
type MentionContext struct {
	Name       string
	Aliases    []string
	Confidence float64
	Attributes map[string]any
}

// CanonicalContext describes one existing canonical entity offered as a match target.
type CanonicalContext struct {
	Name    string
	Aliases []string
}

// BuildEntityMatchingPrompt asks the model to map each mention to an existing
// canonical entity or mark it as new. Both lists are referenced by their
// zero-based position.
func BuildEntityMatchingPrompt(kind string, mentions []MentionContext, canonicals []CanonicalContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Entity Resolution\n\n")
	prompt.WriteString(fmt.Sprintf("Decide which newly extracted **%s** mentions refer to the same real-world %s as an existing canonical entity.\n\n", kind, strings.ToLower(kind)))

	prompt.WriteString("## Existing Canonical Entities\n\n")
	for i, c := range canonicals {
		prompt.WriteString(fmt.Sprintf("[%d] %s", i, c.Name))
		if len(c.Aliases) > 0 {
			prompt.WriteString(fmt.Sprintf(" (aliases: %s)", strings.Join(c.Aliases, ", ")))
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("\n")

	prompt.WriteString("## New Mentions\n\n")
	for i, m := range mentions {
		prompt.WriteString(fmt.Sprintf("[%d] %s", i, m.Name))
		if len(m.Aliases) > 0 {
			prompt.WriteString(fmt.Sprintf(" (aliases: %s)", strings.Join(m.Aliases, ", ")))
		}
		if attrs := formatAttributes(m.Attributes); attrs != "" {
			prompt.WriteString(" " + attrs)
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Rules\n\n")
	prompt.WriteString("- Match only when both names clearly denote the same entity (abbreviations, legal suffixes, titles and spelling variants count).\n")
	prompt.WriteString("- Different entities that merely share a word are NOT matches (\"Apple Inc\" vs \"Apple Records\").\n")
	prompt.WriteString("- Every mention index must appear exactly once, either in `matches` or in `newCanonicals`.\n")
	prompt.WriteString("- `similarity` is your confidence from 0.0 to 1.0 that the two refer to the same entity.\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "matches": [
    {"mentionIndex": 0, "canonicalIndex": 2, "similarity": 0.95, "reason": "MSFT is the ticker of Microsoft Corporation"}
  ],
  "newCanonicals": [1, 3]
}
`)
	prompt.WriteString("```\n\n")
	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// EntityMatchingSystemMessage is the system message for entity matching calls.
func EntityMatchingSystemMessage() string {
	return `You are an entity resolution expert. You deduplicate named entities extracted from many documents and answer strictly in the requested JSON format.`
}

func formatAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := attrs[k]
		if v == nil || v == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
