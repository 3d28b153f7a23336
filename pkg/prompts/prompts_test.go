package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildEntityMatchingPrompt(t *testing.T) {
	prompt := BuildEntityMatchingPrompt("Organization",
		[]MentionContext{
			{Name: "MSFT", Confidence: 0.9},
			{Name: "OpenAI", Aliases: []string{"Open AI"}, Attributes: map[string]any{"website": "openai.com", "role": ""}},
		},
		[]CanonicalContext{
			{Name: "Microsoft Corporation", Aliases: []string{"Microsoft"}},
		})

	assert.Contains(t, prompt, "**Organization** mentions")
	assert.Contains(t, prompt, "[0] Microsoft Corporation (aliases: Microsoft)\n")
	assert.Contains(t, prompt, "[0] MSFT\n")
	assert.Contains(t, prompt, "[1] OpenAI (aliases: Open AI) {website=openai.com}\n")
	assert.Contains(t, prompt, `"newCanonicals"`)
	assert.Contains(t, prompt, "Return ONLY the JSON")
}

func TestBuildTagGroupingPrompt(t *testing.T) {
	prompt := BuildTagGroupingPrompt([]TagContext{
		{Name: "ml", Category: "technology", UsageCount: 3},
		{Name: "machine-learning", Category: "topic", UsageCount: 7},
	}, []string{"topic", "technology"})

	assert.Contains(t, prompt, "[0] ml (category: technology, used 3 times)\n")
	assert.Contains(t, prompt, "[1] machine-learning (category: topic, used 7 times)\n")
	assert.Contains(t, prompt, "must be one of: topic, technology.")
	assert.Contains(t, prompt, `"variantIndices"`)
}

func TestFormatAttributes(t *testing.T) {
	assert.Equal(t, "", formatAttributes(nil))
	assert.Equal(t, "", formatAttributes(map[string]any{"role": ""}))
	assert.Equal(t, "{a=1, b=x}", formatAttributes(map[string]any{"b": "x", "a": 1}))
}
