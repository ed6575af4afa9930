package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
version: "1"
rules:
  - id: STR-01
    name: Geen lidwoord
    category: structure
    severity: critical
    weight: 3
    instruction: Begin zonder lidwoord.
    forbidden:
      - {kind: prefix, pattern: de}
  - id: ESS-01
    name: Kenmerk
    category: essence
    severity: medium
    weight: 1
    applies_to: [process]
    instruction: Noem het kenmerk.
    required:
      - {kind: word, pattern: activiteit}
examples:
  - {category: process, term: registratie, definition: activiteit waarbij gegevens worden vastgelegd}
`

func TestParse_YAML(t *testing.T) {
	cat, err := Parse([]byte(minimalYAML), FormatYAML, DefaultMatchTimeout)
	require.NoError(t, err)

	assert.Equal(t, 2, cat.Len())
	assert.Equal(t, "1", cat.DeclaredVersion())
	assert.Contains(t, cat.Version(), "1+")
	assert.Equal(t, []Category{CategoryEssence, CategoryStructure}, cat.Categories())

	r, ok := cat.Rule("ESS-01")
	require.True(t, ok)
	assert.True(t, r.AppliesToCategory(OntoProcess))
	assert.False(t, r.AppliesToCategory(OntoType))
	assert.True(t, r.Required[0].Compiled())

	assert.Len(t, cat.Examples(OntoProcess), 1)
	assert.Empty(t, cat.Examples(OntoResult))
}

func TestParse_VersionTracksContent(t *testing.T) {
	a, err := Parse([]byte(minimalYAML), FormatYAML, DefaultMatchTimeout)
	require.NoError(t, err)
	b, err := Parse([]byte(minimalYAML), FormatYAML, DefaultMatchTimeout)
	require.NoError(t, err)
	assert.Equal(t, a.Version(), b.Version())

	doc := a.Document()
	doc.Rules[0].Weight = 2.5
	c, err := NewCatalog(doc, DefaultMatchTimeout)
	require.NoError(t, err)
	assert.NotEqual(t, a.Version(), c.Version())
	assert.Equal(t, a.DeclaredVersion(), c.DeclaredVersion())
}

func TestParse_RoundTripFormats(t *testing.T) {
	base, err := Parse([]byte(minimalYAML), FormatYAML, DefaultMatchTimeout)
	require.NoError(t, err)

	for _, format := range []Format{FormatYAML, FormatTOML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(base.Document(), format)
			require.NoError(t, err)
			again, err := Parse(data, format, DefaultMatchTimeout)
			require.NoError(t, err)
			assert.Equal(t, base.Version(), again.Version())
		})
	}
}

func TestParse_StrictRejects(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		data   string
	}{
		{"unknown yaml field", FormatYAML, `
version: "1"
rules:
  - {id: STR-01, name: x, category: structure, severity: low, weight: 1, instruction: x, colour: red, forbidden: [{kind: literal, pattern: x}]}
`},
		{"unknown severity", FormatYAML, `
version: "1"
rules:
  - {id: STR-01, name: x, category: structure, severity: fatal, weight: 1, instruction: x, forbidden: [{kind: literal, pattern: x}]}
`},
		{"unknown category", FormatYAML, `
version: "1"
rules:
  - {id: STR-01, name: x, category: style, severity: low, weight: 1, instruction: x, forbidden: [{kind: literal, pattern: x}]}
`},
		{"zero weight", FormatYAML, `
version: "1"
rules:
  - {id: STR-01, name: x, category: structure, severity: low, weight: 0, instruction: x, forbidden: [{kind: literal, pattern: x}]}
`},
		{"id prefix mismatch", FormatYAML, `
version: "1"
rules:
  - {id: ESS-01, name: x, category: structure, severity: low, weight: 1, instruction: x, forbidden: [{kind: literal, pattern: x}]}
`},
		{"no matchers", FormatYAML, `
version: "1"
rules:
  - {id: STR-01, name: x, category: structure, severity: low, weight: 1, instruction: x}
`},
		{"duplicate id", FormatYAML, `
version: "1"
rules:
  - {id: STR-01, name: x, category: structure, severity: low, weight: 1, instruction: x, forbidden: [{kind: literal, pattern: x}]}
  - {id: STR-01, name: y, category: structure, severity: low, weight: 1, instruction: y, forbidden: [{kind: literal, pattern: y}]}
`},
		{"exception without forbidden target", FormatYAML, `
version: "1"
rules:
  - id: STR-01
    name: x
    category: structure
    severity: low
    weight: 1
    instruction: x
    forbidden: [{kind: literal, pattern: x}]
    exceptions:
      - matcher: {kind: literal, pattern: y}
        condition: {categories: [type]}
`},
		{"bad regex", FormatYAML, `
version: "1"
rules:
  - {id: STR-01, name: x, category: structure, severity: low, weight: 1, instruction: x, forbidden: [{kind: regex, pattern: "("}]}
`},
		{"missing version", FormatYAML, `
rules:
  - {id: STR-01, name: x, category: structure, severity: low, weight: 1, instruction: x, forbidden: [{kind: literal, pattern: x}]}
`},
		{"unknown toml field", FormatTOML, `
version = "1"
[[rules]]
id = "STR-01"
name = "x"
category = "structure"
severity = "low"
weight = 1.0
instruction = "x"
mood = "grumpy"
[[rules.forbidden]]
kind = "literal"
pattern = "x"
`},
		{"unknown json field", FormatJSON, `{"version":"1","extra":true,"rules":[{"id":"STR-01","name":"x","category":"structure","severity":"low","weight":1,"instruction":"x","forbidden":[{"kind":"literal","pattern":"x"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format, DefaultMatchTimeout)
			require.Error(t, err)
			var loadErr *CatalogLoadError
			assert.True(t, errors.As(err, &loadErr), "expected CatalogLoadError, got %T", err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("reads by extension", func(t *testing.T) {
		path := filepath.Join(dir, "catalog.yml")
		require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))
		cat, err := LoadFile(path, DefaultMatchTimeout)
		require.NoError(t, err)
		assert.Equal(t, 2, cat.Len())
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "catalog.ini"), DefaultMatchTimeout)
		var loadErr *CatalogLoadError
		require.ErrorAs(t, err, &loadErr)
	})

	t.Run("source names the path", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: 1\nrules: []\n"), 0o644))
		_, err := LoadFile(path, DefaultMatchTimeout)
		var loadErr *CatalogLoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, path, loadErr.Source)
	})
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, cat.Len(), 40)
	assert.Equal(t, AllCategories(), cat.Categories())

	critical := 0
	for _, r := range cat.Rules() {
		if r.Severity == SeverityCritical {
			critical++
		}
		for _, m := range r.Required {
			assert.True(t, m.Compiled(), r.ID)
		}
		for _, m := range r.Forbidden {
			assert.True(t, m.Compiled(), r.ID)
		}
	}
	assert.Positive(t, critical)

	for _, onto := range []OntologicalCategory{OntoType, OntoProcess, OntoResult, OntoInstance} {
		assert.NotEmpty(t, cat.Examples(onto), onto)
	}
}

func TestCatalog_RulesIsACopy(t *testing.T) {
	cat := MustDefault()
	rs := cat.Rules()
	rs[0] = nil
	assert.NotNil(t, cat.Rules()[0])
}

func TestCondition_Holds(t *testing.T) {
	when := Matcher{Kind: KindRegex, Pattern: `\(\p{Lu}{2,}\)`, CaseSensitive: true}
	require.NoError(t, when.Compile(DefaultMatchTimeout))

	cond := Condition{Categories: []OntologicalCategory{OntoType}, WhenMatches: &when}

	ok, err := cond.Holds("dienst (UWV) die", OntoType)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Holds("dienst (UWV) die", OntoProcess)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cond.Holds("dienst (zie boven)", OntoType)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, cond.MaySatisfy(OntoType))
	assert.False(t, cond.MaySatisfy(OntoResult))
}
