package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"defgen/internal/consistency"
	"defgen/internal/rules"
)

// validateSetCmd checks the rule catalog for contradictions.
var validateSetCmd = &cobra.Command{
	Use:   "validate-instruction-set",
	Short: "Check the rule catalog for contradicting directives",
	Long: `Derives every pair of directives in the rule catalog that cannot both hold
for some ontological category. Exits non-zero when any contradiction is found,
so it can guard catalog changes in CI.`,
	Args: cobra.NoArgs,
	RunE: runValidateSet,
}

// catalogCmd lists the rules of the catalog.
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the rule catalog by category",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

func runValidateSet(cmd *cobra.Command, args []string) error {
	store, err := loadStore()
	if err != nil {
		return err
	}
	catalog := store.Current()

	v, err := consistency.NewValidator()
	if err != nil {
		return err
	}
	found, err := v.CheckCatalog(catalog)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%d rules)\n", titleStyle.Render("Catalog"), catalog.Version(), catalog.Len())
	if len(found) == 0 {
		fmt.Fprintln(out, okStyle.Render("No contradictions found."))
		logger.Info("Instruction set is consistent", zap.String("version", catalog.Version()))
		return nil
	}

	fmt.Fprintln(out, failStyle.Render(fmt.Sprintf("%d contradiction(s):", len(found))))
	for _, c := range found {
		cats := make([]string, len(c.Categories))
		for i, cat := range c.Categories {
			cats[i] = string(cat)
		}
		fmt.Fprintf(out, "  %s requires %s\n", idStyle.Render(c.RequiredRule), c.Required)
		fmt.Fprintf(out, "  %s forbids  %s\n", idStyle.Render(c.ForbiddenRule), c.Forbidden)
		fmt.Fprintf(out, "  %s\n\n", mutedStyle.Render("for: "+strings.Join(cats, ", ")))
	}
	logger.Warn("Instruction set contradicts itself",
		zap.String("version", catalog.Version()),
		zap.Int("contradictions", len(found)))
	return &consistency.ContradictionError{Contradictions: found}
}

func runCatalog(cmd *cobra.Command, args []string) error {
	store, err := loadStore()
	if err != nil {
		return err
	}
	catalog := store.Current()

	categories := rules.AllCategories()
	if raw, _ := cmd.Flags().GetString("category"); raw != "" {
		cat, err := rules.ParseCategory(raw)
		if err != nil {
			return err
		}
		categories = []rules.Category{cat}
	}

	out := cmd.OutOrStdout()
	name := catalog.Name()
	if name == "" {
		name = "Catalog"
	}
	fmt.Fprintf(out, "%s %s\n\n", titleStyle.Render(name), mutedStyle.Render(catalog.Version()))
	for _, cat := range categories {
		rs := catalog.RulesByCategory(cat)
		if len(rs) == 0 {
			continue
		}
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s (%s)", cat.Label(), cat)))
		for _, r := range rs {
			line := idStyle.Render(r.ID) + severityCell.Render(severityStyle(r.Severity).Render(string(r.Severity))) + r.Name
			if len(r.AppliesTo) > 0 {
				scope := make([]string, len(r.AppliesTo))
				for i, o := range r.AppliesTo {
					scope[i] = string(o)
				}
				line += mutedStyle.Render(" [" + strings.Join(scope, ", ") + "]")
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out)
	}
	return nil
}
