package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cascade-analysis/cascade/pkg/codegraph"
	"github.com/cascade-analysis/cascade/pkg/masking"
	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/cascade-analysis/cascade/pkg/provider"
)

// functionContext is the call-graph neighborhood a Function agent's
// prompt includes alongside its own source, per spec §4.9 step 7.
type functionContext struct {
	Callers []string
	Callees []string
	Helpers []string // other top-level functions declared in the same module
}

// neighbors collects fn's direct callers/callees and its module's other
// top-level functions from graph. graph is nil-safe: a nil Graph (e.g.
// a unit test exercising analyzeFunction directly) yields an empty
// context rather than panicking.
func neighbors(graph codegraph.Graph, fn codegraph.Function) functionContext {
	if graph == nil {
		return functionContext{}
	}

	var ctx functionContext
	ctx.Callers = graph.Callers(fn.ID)
	ctx.Callees = graph.Callees(fn.ID)

	for _, mod := range graph.Modules() {
		if mod.Path != fn.ModulePath {
			continue
		}
		for _, name := range mod.TopLevelFunctions {
			if name != fn.Name {
				ctx.Helpers = append(ctx.Helpers, name)
			}
		}
		break
	}

	return ctx
}

// buildFunctionPrompt assembles the analysis prompt for one Function
// agent: its source, declared signature/docstring, its direct
// callers/callees, and nearby helpers the graph identifies, with any
// secrets scrubbed before the text ever leaves the process.
func buildFunctionPrompt(mask *masking.Service, fn codegraph.Function, neighbors functionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the function %q.\n\nSignature: %s\n", fn.Name, fn.Signature)
	if fn.Docstring != "" {
		fmt.Fprintf(&b, "Docstring: %s\n", fn.Docstring)
	}

	if len(neighbors.Callers) > 0 {
		fmt.Fprintf(&b, "Direct callers: %s\n", strings.Join(neighbors.Callers, ", "))
	}
	if len(neighbors.Callees) > 0 {
		fmt.Fprintf(&b, "Direct callees: %s\n", strings.Join(neighbors.Callees, ", "))
	}
	if len(neighbors.Helpers) > 0 {
		fmt.Fprintf(&b, "Nearby helpers in this module: %s\n", strings.Join(neighbors.Helpers, ", "))
	}

	b.WriteString("\nSource:\n")
	b.WriteString(mask.Mask(fn.Source))
	b.WriteString("\n\nIdentify defects, missing edge-case handling, and risks. Respond with a concise finding, or an empty response if none.\n")
	return b.String()
}

// buildSynthesisPrompt composes a parent-level synthesis prompt from
// its children's findings: empty entries and exact duplicates are
// dropped and the rest sorted alphabetically. Findings are not ranked
// by severity.
func buildSynthesisPrompt(findings []string) string {
	seen := map[string]bool{}
	var deduped []string
	for _, f := range findings {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		deduped = append(deduped, f)
	}
	sort.Strings(deduped)

	var b strings.Builder
	b.WriteString("Synthesize the following findings into one summary:\n\n")
	for _, f := range deduped {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}

// synthesize is a cheap, provider-free digest of the children's
// findings. Callers hand it to createSynthesisCard, which builds the
// synthesis prompt from it and uses it as the card body when the
// provider call fails or returns no content, so there is always a
// summary string to record. It never returns an empty string.
func synthesize(findings []string) string {
	var nonEmpty []string
	for _, f := range findings {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	if len(nonEmpty) == 0 {
		return "no findings"
	}
	return fmt.Sprintf("%d finding(s): %s", len(nonEmpty), strings.Join(nonEmpty, "; "))
}

// messageFromResponse records one provider round-trip as agent
// telemetry.
func messageFromResponse(prompt string, resp provider.Response) models.Message {
	return models.Message{
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		TokensIn:  resp.InputTokens,
		TokensOut: resp.OutputTokens,
	}
}
