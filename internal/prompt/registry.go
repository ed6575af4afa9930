package prompt

import (
	"defgen/internal/rules"
)

// RegistryOptions tunes the built-in module set.
type RegistryOptions struct {
	// ComplexityThreshold is the complexity at which the complexity module
	// joins the instruction.
	ComplexityThreshold float64
}

// DefaultRegistryOptions returns the default module settings.
func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{ComplexityThreshold: 0.5}
}

// DefaultModules returns the built-in modules in presentation order.
func DefaultModules(opts RegistryOptions) []Module {
	modules := []Module{
		newRoleModule(),
		newTemplateModule(),
		newTaskModule(),
		newContextModule(),
		newDocumentsModule(),
		newComplexityModule(opts.ComplexityThreshold),
	}
	for _, cat := range rules.AllCategories() {
		modules = append(modules, newRuleModule(cat))
	}
	return append(modules,
		newExamplesModule(),
		newPitfallsModule(),
		newGrammarModule(),
		newOutputFormatModule(),
	)
}

// NewDefaultOrchestrator builds an orchestrator over the built-in modules.
func NewDefaultOrchestrator(regOpts RegistryOptions, opts ...OrchestratorOption) (*Orchestrator, error) {
	return NewOrchestrator(DefaultModules(regOpts), opts...)
}
