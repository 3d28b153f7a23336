package prompts

import (
	"fmt"
	"strings"
)

// TagContext describes one tag offered for semantic grouping.
type TagContext struct {
	Name       string
	Category   string
	UsageCount int
}

// BuildTagGroupingPrompt asks the model to group tags that name the same
// concept. Tags are referenced by their zero-based position.
func BuildTagGroupingPrompt(tags []TagContext, categories []string) string {
	var prompt strings.Builder

	prompt.WriteString("# Tag Deduplication\n\n")
	prompt.WriteString("Group tags that describe the same concept so they can be merged into one.\n\n")

	prompt.WriteString("## Tags\n\n")
	for i, t := range tags {
		prompt.WriteString(fmt.Sprintf("[%d] %s (category: %s, used %d times)\n", i, t.Name, t.Category, t.UsageCount))
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Rules\n\n")
	prompt.WriteString("- Group abbreviations with their expansions (\"ml\" and \"machine-learning\").\n")
	prompt.WriteString("- Group spelling, plural and word-order variants of the same concept.\n")
	prompt.WriteString("- Do NOT group related but distinct concepts (\"python\" and \"django\").\n")
	prompt.WriteString("- Only return groups with two or more tags; omit tags with no duplicates.\n")
	prompt.WriteString("- A tag index may appear in at most one group.\n")
	prompt.WriteString(fmt.Sprintf("- `category` must be one of: %s.\n\n", strings.Join(categories, ", ")))

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "groups": [
    {"canonicalTag": "machine-learning", "category": "technology", "variantIndices": [0, 4], "reason": "ml abbreviates machine learning"}
  ]
}
`)
	prompt.WriteString("```\n\n")
	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// TagGroupingSystemMessage is the system message for tag grouping calls.
func TagGroupingSystemMessage() string {
	return `You are a taxonomy curator. You merge duplicate tags and answer strictly in the requested JSON format.`
}
