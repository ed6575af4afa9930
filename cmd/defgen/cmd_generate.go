package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"defgen/internal/generation"
	"defgen/internal/llm"
	"defgen/internal/usage"
	"defgen/internal/validation"
)

// assembleCmd previews the instruction for a term without calling a model.
var assembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "Assemble and print the instruction for a term",
	Args:  cobra.NoArgs,
	RunE:  runAssemble,
}

// validateCmd scores a candidate definition.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a candidate definition against the rule catalog",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

// generateCmd assembles, calls the configured model, and validates its answer.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a definition with the configured language model and validate it",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

// newService builds the generation service. The returned recorder is nil
// when withTelemetry is false; callers close it.
func newService(withTelemetry bool) (*generation.Service, *usage.Recorder, error) {
	store, err := loadStore()
	if err != nil {
		return nil, nil, err
	}
	var rec *usage.Recorder
	var sink usage.Sink
	if withTelemetry {
		// CLI runs are short lived; metrics stay in a private registry.
		rec, err = usage.Open(cfg.Telemetry, prometheus.NewRegistry())
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: %w", err)
		}
		sink = rec
	}
	svc, err := generation.NewFromConfig(cfg, store, sink)
	if err != nil {
		if rec != nil {
			_ = rec.Close()
		}
		return nil, nil, err
	}
	return svc, rec, nil
}

func closeRecorder(rec *usage.Recorder) {
	if rec == nil {
		return
	}
	if err := rec.Close(); err != nil {
		logger.Warn("Closing telemetry failed", zap.Error(err))
	}
}

func runAssemble(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(timeout)
	defer cancel()

	term, fields := requestFromFlags(cmd)
	svc, _, err := newService(false)
	if err != nil {
		return err
	}
	preview, err := svc.Prepare(ctx, term, fields)
	if err != nil {
		return userFailure(cmd, err)
	}
	logger.Info("Instruction assembled",
		zap.String("request_id", preview.RequestID),
		zap.String("category", string(preview.Classification.Category)),
		zap.Int("tokens", preview.TokenEstimate))

	out := cmd.OutOrStdout()
	render, _ := cmd.Flags().GetBool("render")
	if render {
		fmt.Fprint(out, renderMarkdown(preview.Text, 100))
	} else {
		fmt.Fprintln(out, preview.Text)
	}

	if showManifest, _ := cmd.Flags().GetBool("manifest"); showManifest {
		fmt.Fprintln(out)
		printManifest(out, preview)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(timeout)
	defer cancel()

	term, fields := requestFromFlags(cmd)
	candidate, err := readCandidate(cmd)
	if err != nil {
		return err
	}

	svc, rec, err := newService(true)
	if err != nil {
		return err
	}
	defer closeRecorder(rec)

	preview, err := svc.Prepare(ctx, term, fields)
	if err != nil {
		return userFailure(cmd, err)
	}
	report, err := svc.Validate(ctx, preview, candidate)
	if err != nil {
		return userFailure(cmd, err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), preview, report)
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(timeout)
	defer cancel()

	if err := cfg.RequireLLM(); err != nil {
		return err
	}
	term, fields := requestFromFlags(cmd)

	completer, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	svc, rec, err := newService(true)
	if err != nil {
		return err
	}
	defer closeRecorder(rec)

	logger.Info("Generating definition", zap.String("term", term), zap.String("provider", completer.Name()))
	res, err := svc.Generate(ctx, term, fields, completer)
	if err != nil {
		return userFailure(cmd, err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, boxStyle.Render(res.Candidate))
	printReport(out, res.Preview, res.Report)
	return nil
}

func readCandidate(cmd *cobra.Command) (string, error) {
	candidate, _ := cmd.Flags().GetString("candidate")
	if candidate == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read candidate: %w", err)
		}
		candidate = string(data)
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("candidate definition is empty")
	}
	return candidate, nil
}

// userFailure prints the actionable details of err and returns it as a
// structured failure.
func userFailure(cmd *cobra.Command, err error) error {
	f := generation.Describe(err)
	for _, d := range f.Details {
		fmt.Fprintln(cmd.ErrOrStderr(), "  - "+d)
	}
	logger.Debug("Command failed", zap.String("kind", string(f.Kind)), zap.Error(err))
	return f
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printManifest(w io.Writer, preview *generation.Preview) {
	m := preview.Manifest
	fmt.Fprintln(w, headerStyle.Render("Assembly manifest"))
	fmt.Fprintf(w, "category %s (confidence %.2f), complexity %.2f\n",
		preview.Classification.Category, preview.Classification.Confidence, m.Complexity)
	fmt.Fprintf(w, "tokens %d of %d, cache hits %d, took %s\n", m.TokenEstimate, m.BudgetLimit, m.CacheHits(), m.Duration)
	if m.OverBudget {
		fmt.Fprintln(w, warnStyle.Render("core and conditional modules exceed the token budget"))
	}
	for _, inc := range m.Included {
		fmt.Fprintf(w, "  %s %-20s %-12s %4d tokens\n", okStyle.Render("+"), inc.ID, inc.Tier, inc.Tokens)
	}
	for _, sk := range m.Skipped {
		fmt.Fprintf(w, "  %s %-20s %-12s %s\n", mutedStyle.Render("-"), sk.ID, sk.Tier, sk.Reason)
	}
	for _, fl := range m.Failed {
		fmt.Fprintf(w, "  %s %-20s %-12s %s\n", failStyle.Render("!"), fl.ID, fl.Tier, fl.Error)
	}
}

func printReport(w io.Writer, preview *generation.Preview, report *validation.Report) {
	fmt.Fprintf(w, "%s %s  %s\n", titleStyle.Render("Validation"), preview.Term,
		mutedStyle.Render(string(report.Category)+" / "+report.CatalogVersion))
	fmt.Fprintf(w, "overall %s %s (threshold %s)  %s\n",
		scoreBar(report.OverallScore, 20), percent(report.OverallScore), percent(report.OverallThreshold),
		verdict(report.IsAcceptable, "ACCEPTABLE", "REJECTED"))

	if preview.OverBudget {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("instruction used %d tokens, over the budget of %d", preview.TokenEstimate, preview.Manifest.BudgetLimit)))
	}

	for _, cs := range report.Categories {
		if cs.Rules == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-14s %s %s %s\n", cs.Category, scoreBar(cs.Score, 12), percent(cs.Score), verdict(cs.Passed, "ok", "below"))
	}

	failed := report.ByStatus(validation.StatusFailed)
	if len(failed) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Failed rules"))
		for _, res := range failed {
			fmt.Fprintf(w, "  %s%s%s\n", idStyle.Render(res.RuleID), severityCell.Render(severityStyle(res.Severity).Render(string(res.Severity))), res.Name)
			for _, v := range res.Violations {
				detail := v.Directive + " " + v.Matcher
				if v.Text != "" {
					detail += fmt.Sprintf(" at %d: %q", v.Position, v.Text)
				}
				fmt.Fprintln(w, mutedStyle.Render("      "+detail))
			}
		}
	}
	for _, res := range report.ByStatus(validation.StatusUnevaluated) {
		fmt.Fprintf(w, "  %s %s\n", warnStyle.Render(res.RuleID+" not evaluated:"), res.Error)
	}
	if !report.IsAcceptable {
		for _, reason := range report.GateExplanation {
			fmt.Fprintln(w, "  "+failStyle.Render("x")+" "+reason)
		}
	}
}
