package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoads(t *testing.T) {
	s := Default()
	require.NotNil(t, s)

	assert.Equal(t, "ghlbedovom.com", s.Store.Domain)
	assert.Equal(t, "https://ghlbedovom.com", s.Store.WebsiteURL())
	assert.Len(t, s.Store.Branches, 3)
	assert.NotEmpty(t, s.Replies.FallbackLLM)
	assert.Contains(t, s.Prompts.System, "[PRODUCTS]")
	assert.Equal(t, "order_cancel", s.Behavior.Priority[0])
	assert.Contains(t, s.Behavior.Priority, "product_request")
	assert.Equal(t, []string{"gender", "size", "budget"}, s.Taxonomy.RequiredFields["shoes"])
}

func TestKeywordsAreNormalized(t *testing.T) {
	s := Default()
	for _, k := range s.Keywords.Greeting {
		assert.NotContains(t, k, "ي")
	}
	assert.Contains(t, s.Keywords.Thanks, "thank you")
	assert.Contains(t, s.Taxonomy.Colors, "سرمه ای")
}

func TestTaxonomyGroup(t *testing.T) {
	tx := Default().Taxonomy
	assert.Equal(t, "shoes", tx.Group("صندل و دمپایی"))
	assert.Equal(t, "accessories", tx.Group("کیف"))
	assert.Equal(t, "", tx.Group("سرگرمی"))
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Parse([]byte("store: ["))
		require.Error(t, err)
	})

	t.Run("unknown priority", func(t *testing.T) {
		doc := `
store: {domain: "x.com"}
replies: {fallback_general: "a", fallback_llm: "b"}
taxonomy:
  categories: [{name: "c", synonyms: ["c"]}]
  required_fields: {default: ["size"]}
behavior:
  rules: [{name: "thanks", base: 0.4, keywords: ["merci"]}]
  priority: ["thanks", "missing"]
`
		_, err := Parse([]byte(doc))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})
}

func TestFromEnvOverride(t *testing.T) {
	doc := `
store: {domain: "shop.test"}
replies: {fallback_general: "g", fallback_llm: "l"}
taxonomy:
  categories: [{name: "کفش", synonyms: ["كفش"]}]
  required_fields: {default: ["size"]}
prompts: {system: "p"}
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv(PathEnv, path)

	s, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "shop.test", s.Store.Domain)
	assert.Equal(t, []string{"کفش"}, s.Taxonomy.Categories[0].Synonyms)
}
