package protocol

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// evaluateRego evaluates a behavioral constraint's embedded Rego policy
// body against ctx, marshaled as the query input. The policy must define
// `data.swarmkit.behavioral.allow` as a boolean; any other shape is treated
// as a pass with a reason, since the typed-rule evaluators are the
// authoritative path and Rego is the advisory escape hatch the design notes
// call "the one constraint kind generic enough that a real policy engine
// adds expressiveness the typed-rule model can't."
func evaluateRego(policy string, ctx EvalContext) ConstraintResult {
	input := map[string]any{
		"featureId":     ctx.FeatureID,
		"workerId":      ctx.WorkerID,
		"projectDir":    ctx.ProjectDir,
		"task":          ctx.Task,
		"environment":   ctx.Environment,
		"files":         ctx.Files,
		"toolName":      ctx.ToolName,
		"filePath":      ctx.FilePath,
		"fileOperation": ctx.FileOperation,
		"fileSize":      ctx.FileSize,
		"output":        ctx.Output,
	}

	r := rego.New(
		rego.Query("data.swarmkit.behavioral.allow"),
		rego.Module("behavioral.rego", policy),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("behavioral policy failed to compile: %v", err)}
	}

	results, err := query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("behavioral policy evaluation error: %v", err)}
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ConstraintResult{Passed: true, Reason: "behavioral policy produced no result, defaulting to pass"}
	}

	allow, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return ConstraintResult{Passed: true, Reason: "behavioral policy result was not boolean, defaulting to pass"}
	}
	if !allow {
		return ConstraintResult{Passed: false, Reason: "behavioral policy denied"}
	}
	return ConstraintResult{Passed: true}
}
