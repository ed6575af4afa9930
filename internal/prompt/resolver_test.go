package prompt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defgen/internal/rules"
)

func mod(spec Spec) Module { return &stubModule{spec: spec} }

func writes(name string, typ ValueType) []StateKey { return []StateKey{{Name: name, Type: typ}} }

func TestBuildPlan_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		modules []Module
		want    ConfigurationErrorType
	}{
		{
			name:    "duplicate id",
			modules: []Module{mod(Spec{ID: "a"}), mod(Spec{ID: "a"})},
			want:    ConfigErrorDuplicate,
		},
		{
			name: "cycle",
			modules: []Module{
				mod(Spec{ID: "a", Reads: []string{"y"}, Writes: writes("x", TypeString)}),
				mod(Spec{ID: "b", Reads: []string{"x"}, Writes: writes("y", TypeString)}),
			},
			want: ConfigErrorCycle,
		},
		{
			name:    "undeclared read",
			modules: []Module{mod(Spec{ID: "a", Reads: []string{"ghost"}})},
			want:    ConfigErrorUndeclaredRead,
		},
		{
			name: "conflicting types",
			modules: []Module{
				mod(Spec{ID: "a", Writes: writes("x", TypeString)}),
				mod(Spec{ID: "b", Writes: writes("x", TypeInt)}),
			},
			want: ConfigErrorTypeConflict,
		},
		{
			name: "core reads optional-only key",
			modules: []Module{
				mod(Spec{ID: "opt", Tier: TierOptional, Writes: writes("x", TypeBool)}),
				mod(Spec{ID: "core", Tier: TierCore, Reads: []string{"x"}}),
			},
			want: ConfigErrorOptionalOnly,
		},
		{
			name:    "static module writes state",
			modules: []Module{mod(Spec{ID: "a", Static: true, Writes: writes("x", TypeString)})},
			want:    ConfigErrorStatic,
		},
		{
			name:    "mandatory optional module",
			modules: []Module{mod(Spec{ID: "a", Tier: TierOptional, Mandatory: true})},
			want:    ConfigErrorInvalid,
		},
		{
			name:    "missing id",
			modules: []Module{mod(Spec{})},
			want:    ConfigErrorInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrchestrator(tt.modules)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.want, cfgErr.Type)
		})
	}
}

func TestBuildPlan_CyclePath(t *testing.T) {
	_, err := buildPlan([]Module{
		mod(Spec{ID: "a", Reads: []string{"z"}, Writes: writes("x", TypeString)}),
		mod(Spec{ID: "b", Reads: []string{"x"}, Writes: writes("y", TypeString)}),
		mod(Spec{ID: "c", Reads: []string{"y"}, Writes: writes("z", TypeString)}),
	})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Len(t, cfgErr.Modules, 4)
	assert.Equal(t, cfgErr.Modules[0], cfgErr.Modules[3])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cfgErr.Modules[:3])
	assert.Contains(t, err.Error(), " -> ")
}

func TestBuildPlan_LevelsAndOrder(t *testing.T) {
	p, err := buildPlan([]Module{
		mod(Spec{ID: "reader", Reads: []string{"k"}}),
		mod(Spec{ID: "writer", Writes: writes("k", TypeStrings)}),
		mod(Spec{ID: "free"}),
		mod(Spec{ID: "opt-low", Tier: TierOptional, Priority: 1}),
		mod(Spec{ID: "opt-reader", Tier: TierOptional, Priority: 9, Reads: []string{"o"}}),
		mod(Spec{ID: "opt-writer", Tier: TierOptional, Priority: 2, Writes: writes("o", TypeInt)}),
	})
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1, 2}, {0}}, p.levels)
	// priority breaks ties, dependencies still come first
	assert.Equal(t, []string{"opt-writer", "opt-reader", "opt-low"}, moduleIDs(p.specs, p.optional))
	assert.Less(t, p.rank[1], p.rank[0])
}

func TestBuildPlan_DefaultRegistry(t *testing.T) {
	p, err := buildPlan(DefaultModules(DefaultRegistryOptions()))
	require.NoError(t, err)
	assert.Len(t, p.levels, 2)
	assert.Equal(t, []string{"examples", "pitfalls", "grammar"}, moduleIDs(p.specs, p.optional))

	// presentation order equals registry order
	for i := range p.specs {
		assert.Equal(t, i, p.rank[i], p.specs[i].ID)
	}
}

func TestSectionCache(t *testing.T) {
	c := NewSectionCache()
	sections := []Section{{Text: "x", RuleIDs: []string{"ESS-01"}}}
	c.Put("role", "v1", "", sections)

	got, ok := c.Get("role", "v1", "")
	require.True(t, ok)
	got[0].RuleIDs[0] = "mutated"
	again, _ := c.Get("role", "v1", "")
	assert.Equal(t, "ESS-01", again[0].RuleIDs[0])

	_, ok = c.Get("role", "v2", "")
	assert.False(t, ok)
	_, ok = c.Get("role", "v1", "other")
	assert.False(t, ok)

	c.Put("task", "v2", "", sections)
	_, ok = c.Get("role", "v1", "")
	assert.False(t, ok, "older version purged")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, "v2", stats.Version)
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Invalidations)

	c.Invalidate()
	assert.Zero(t, c.Stats().Entries)
}

func TestTokenBudget(t *testing.T) {
	b := NewTokenBudget(20)
	b.Charge(15)
	assert.Equal(t, 5, b.Remaining())
	assert.True(t, b.TryAdmit("a", 5))
	assert.False(t, b.TryAdmit("b", 1))
	assert.True(t, b.Closed())
	assert.False(t, b.TryAdmit("c", 0))
	assert.False(t, b.Over())
	b.Charge(3)
	assert.True(t, b.Over())
	assert.Zero(t, b.Remaining())
}

func TestRuleSections(t *testing.T) {
	r, ok := rules.MustDefault().Rule("ESS-01")
	require.True(t, ok)

	sections := ruleSections(r)
	require.Len(t, sections, 3)
	assert.Contains(t, sections[0].Text, "ESS-01")
	for _, s := range sections {
		assert.Equal(t, DirectiveForbidden, s.Directive)
		assert.Equal(t, []string{"ESS-01"}, s.RuleIDs)
		assert.NotNil(t, s.Pattern)
	}
	assert.Empty(t, sections[1].Text)

	scoped, ok := rules.MustDefault().Rule("ESS-02")
	require.True(t, ok)
	assert.Contains(t, ruleSections(scoped)[0].Text, "(alleen bij proces)")
}

func TestModuleContext(t *testing.T) {
	mc := &ModuleContext{Term: "kenteken", Category: rules.OntoType, Complexity: 0.4}
	assert.NoError(t, mc.Validate())
	assert.Equal(t, mc.Fingerprint(), mc.Clone().Fingerprint())

	other := mc.Clone()
	other.Fields.Legal = []string{"Wegenverkeerswet"}
	assert.NotEqual(t, mc.Fingerprint(), other.Fingerprint())
	assert.True(t, other.HasAnyContext())
	assert.False(t, mc.HasAnyContext())

	mc.Complexity = 1.5
	assert.Error(t, mc.Validate())
	assert.Error(t, (&ModuleContext{Term: "x", Category: "thing"}).Validate())
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", snippet("  a \n b ", 10))
	assert.Equal(t, "abc…", snippet("abcdef", 3))
}
