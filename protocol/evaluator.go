package protocol

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// matchPattern matches value against pattern, which is either a /regex/ or
// a glob, via github.com/gobwas/glob — the one place in this codebase a
// real glob engine earns its keep over filepath.Match's limited syntax
// (no brace expansion, no character classes across path segments).
func matchPattern(pattern, value string) bool {
	if strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") && len(pattern) > 1 {
		re, err := regexp.Compile(pattern[1 : len(pattern)-1])
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return pattern == value
	}
	return g.Match(value)
}

func matchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if matchPattern(p, value) {
			return true
		}
	}
	return false
}

// EvaluateConstraint dispatches c to its typed evaluator by c.Type. Disabled
// constraints always pass.
func EvaluateConstraint(c Constraint, ctx EvalContext) ConstraintResult {
	if !c.Enabled {
		return ConstraintResult{Passed: true}
	}
	switch c.Type {
	case ConstraintToolRestriction:
		return evalToolRestriction(c, ctx)
	case ConstraintFileAccess:
		return evalFileAccess(c, ctx)
	case ConstraintOutputFormat:
		return evalOutputFormat(c, ctx)
	case ConstraintBehavioral:
		return evalBehavioral(c, ctx)
	case ConstraintTemporal:
		return evalTemporal(c, ctx)
	case ConstraintResource:
		return evalResource(c, ctx)
	case ConstraintSideEffect:
		return evalSideEffect(c, ctx)
	default:
		return ConstraintResult{Passed: true, Reason: "unknown constraint type"}
	}
}

// evalToolRestriction checks, in order: deniedTools -> toolPatterns(deny)
// -> allowedTools (present or allowed-by-pattern) -> requireApproval.
// Deny always takes precedence over allow.
func evalToolRestriction(c Constraint, ctx EvalContext) ConstraintResult {
	r := c.ToolRestriction
	if r == nil || ctx.ToolName == "" {
		return ConstraintResult{Passed: true}
	}
	tool := ctx.ToolName

	if containsString(r.DeniedTools, tool) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("tool %q is explicitly denied", tool)}
	}
	for _, pattern := range r.ToolPatterns {
		if !strings.HasPrefix(pattern, "!") {
			continue
		}
		if matchPattern(strings.TrimPrefix(pattern, "!"), tool) {
			return ConstraintResult{Passed: false, Reason: fmt.Sprintf("tool %q matches deny pattern %q", tool, pattern)}
		}
	}

	if len(r.AllowedTools) > 0 || hasAllowPattern(r.ToolPatterns) {
		allowed := containsString(r.AllowedTools, tool)
		if !allowed {
			for _, pattern := range r.ToolPatterns {
				if strings.HasPrefix(pattern, "!") {
					continue
				}
				if matchPattern(pattern, tool) {
					allowed = true
					break
				}
			}
		}
		if !allowed {
			return ConstraintResult{Passed: false, Reason: fmt.Sprintf("tool %q is not in the allow list", tool)}
		}
	}

	if containsString(r.RequireApproval, tool) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("tool %q requires approval", tool)}
	}
	return ConstraintResult{Passed: true}
}

func hasAllowPattern(patterns []string) bool {
	for _, p := range patterns {
		if !strings.HasPrefix(p, "!") {
			return true
		}
	}
	return false
}

// evalFileAccess checks, in order: deniedPaths -> deniedExtensions ->
// allowedPaths -> allowedExtensions -> readOnly/writeOnly (per operation)
// -> maxFileSize.
func evalFileAccess(c Constraint, ctx EvalContext) ConstraintResult {
	r := c.FileAccess
	if r == nil || ctx.FilePath == "" {
		return ConstraintResult{Passed: true}
	}
	path := ctx.FilePath
	ext := extensionOf(path)

	if matchAny(r.DeniedPaths, path) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("path %q is denied", path)}
	}
	if ext != "" && containsString(r.DeniedExtensions, ext) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("extension %q is denied", ext)}
	}
	if len(r.AllowedPaths) > 0 && !matchAny(r.AllowedPaths, path) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("path %q is not in the allow list", path)}
	}
	if len(r.AllowedExtensions) > 0 && ext != "" && !containsString(r.AllowedExtensions, ext) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("extension %q is not in the allow list", ext)}
	}
	if ctx.FileOperation == "write" && matchAny(r.ReadOnlyPaths, path) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("path %q is read-only", path)}
	}
	if ctx.FileOperation == "read" && matchAny(r.WriteOnlyPaths, path) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("path %q is write-only", path)}
	}
	if r.MaxFileSize > 0 && ctx.FileSize > r.MaxFileSize {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("file size %d exceeds limit %d", ctx.FileSize, r.MaxFileSize)}
	}
	return ConstraintResult{Passed: true}
}

func extensionOf(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 || i == len(path)-1 {
		return ""
	}
	return path[i+1:]
}

// evalOutputFormat checks, in order: maxLength -> format match ->
// requiredFields -> forbiddenPatterns -> requiredPatterns ->
// JSON-schema-shape (object-and-non-null only; advisory).
func evalOutputFormat(c Constraint, ctx EvalContext) ConstraintResult {
	r := c.OutputFormat
	if r == nil || ctx.Output == "" {
		return ConstraintResult{Passed: true}
	}
	out := ctx.Output

	if r.MaxLength > 0 && len(out) > r.MaxLength {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("output length %d exceeds max %d", len(out), r.MaxLength)}
	}
	if r.Format != "" && !formatMatches(r.Format, out) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("output does not match format %q", r.Format)}
	}
	for _, field := range r.RequiredFields {
		if !strings.Contains(out, field) {
			return ConstraintResult{Passed: false, Reason: fmt.Sprintf("output missing required field %q", field)}
		}
	}
	for _, pattern := range r.ForbiddenPatterns {
		if matchPattern(pattern, out) {
			return ConstraintResult{Passed: false, Reason: fmt.Sprintf("output matches forbidden pattern %q", pattern)}
		}
	}
	for _, pattern := range r.RequiredPatterns {
		if !matchPattern(pattern, out) {
			return ConstraintResult{Passed: false, Reason: fmt.Sprintf("output does not match required pattern %q", pattern)}
		}
	}
	if r.JSONSchemaShape && !looksLikeJSONObject(out) {
		return ConstraintResult{Passed: false, Reason: "output is not a non-null JSON object"}
	}
	return ConstraintResult{Passed: true}
}

func formatMatches(format, out string) bool {
	trimmed := strings.TrimSpace(out)
	switch format {
	case "json":
		return looksLikeJSONObject(trimmed) || strings.HasPrefix(trimmed, "[")
	case "markdown":
		return true
	default:
		return true
	}
}

func looksLikeJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// evalBehavioral defers to rego.go when a Rego policy is present, otherwise
// checks the typed keyword lists directly against ctx.Output.
func evalBehavioral(c Constraint, ctx EvalContext) ConstraintResult {
	r := c.Behavioral
	if r == nil {
		return ConstraintResult{Passed: true}
	}
	if r.RegoPolicy != "" {
		return evaluateRego(r.RegoPolicy, ctx)
	}
	for _, kw := range r.DeniedKeywords {
		if strings.Contains(strings.ToLower(ctx.Output), strings.ToLower(kw)) {
			return ConstraintResult{Passed: false, Reason: fmt.Sprintf("output contains denied keyword %q", kw)}
		}
	}
	if len(r.AllowedKeywords) > 0 {
		for _, kw := range r.AllowedKeywords {
			if strings.Contains(strings.ToLower(ctx.Output), strings.ToLower(kw)) {
				return ConstraintResult{Passed: true}
			}
		}
		return ConstraintResult{Passed: false, Reason: "output matches none of the allowed keywords"}
	}
	return ConstraintResult{Passed: true}
}

// evalTemporal checks, in order: rate-limit-minute -> rate-limit-hour ->
// cooldown -> validFrom/Until -> allowedHours -> allowedDays. Rate limiting
// and cooldown are stateful, decided against ctx.Temporal, the call-history
// bucket the Enforcer maintains per (protocol, constraint, subject) and
// threads in before invoking this evaluator; a nil ctx.Temporal (e.g. a
// direct EvaluateConstraint call in a test) passes those two checks open.
func evalTemporal(c Constraint, ctx EvalContext) ConstraintResult {
	r := c.Temporal
	if r == nil {
		return ConstraintResult{Passed: true}
	}
	t := ctx.Timestamp
	if t.IsZero() {
		t = time.Now().UTC()
	}
	if ts := ctx.Temporal; ts != nil {
		if r.RateLimitPerMinute > 0 && ts.CallsThisMinute >= r.RateLimitPerMinute {
			return ConstraintResult{Passed: false, Reason: "rate limit exceeded (per minute)"}
		}
		if r.RateLimitPerHour > 0 && ts.CallsThisHour >= r.RateLimitPerHour {
			return ConstraintResult{Passed: false, Reason: "rate limit exceeded (per hour)"}
		}
		if r.CooldownSeconds > 0 && !ts.LastCall.IsZero() {
			if elapsed := t.Sub(ts.LastCall); elapsed < time.Duration(r.CooldownSeconds)*time.Second {
				return ConstraintResult{Passed: false, Reason: "cooldown has not elapsed"}
			}
		}
	}
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return ConstraintResult{Passed: false, Reason: "before validFrom"}
	}
	if r.ValidUntil != nil && t.After(*r.ValidUntil) {
		return ConstraintResult{Passed: false, Reason: "after validUntil"}
	}
	if len(r.AllowedHours) > 0 && !containsInt(r.AllowedHours, t.Hour()) {
		return ConstraintResult{Passed: false, Reason: "outside allowed hours"}
	}
	if len(r.AllowedDays) > 0 && !containsWeekday(r.AllowedDays, t.Weekday()) {
		return ConstraintResult{Passed: false, Reason: "outside allowed days"}
	}
	return ConstraintResult{Passed: true}
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsWeekday(xs []time.Weekday, x time.Weekday) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// evalResource checks a ResourceRule's caps against the live values in
// ctx.Resource. MaxConcurrency/MaxMemoryMB/MaxCPUPercent gate admission of
// one more concurrent/sized unit, so reaching the cap already blocks the
// next admission and they compare with >=; byte-size caps elsewhere in this
// package (FileAccess.MaxFileSize) compare with > instead, since landing on
// the cap exactly is still a valid write.
func evalResource(c Constraint, ctx EvalContext) ConstraintResult {
	r := c.Resource
	if r == nil {
		return ConstraintResult{Passed: true}
	}
	if r.MaxConcurrency < 0 || r.MaxMemoryMB < 0 || r.MaxCPUPercent < 0 {
		return ConstraintResult{Passed: false, Reason: "resource rule has a negative cap"}
	}
	if r.MaxConcurrency > 0 && ctx.Resource.ActiveConcurrency >= r.MaxConcurrency {
		return ConstraintResult{Passed: false, Reason: "concurrency limit reached"}
	}
	if r.MaxMemoryMB > 0 && ctx.Resource.MemoryMB >= r.MaxMemoryMB {
		return ConstraintResult{Passed: false, Reason: "memory limit reached"}
	}
	if r.MaxCPUPercent > 0 && ctx.Resource.CPUPercent >= r.MaxCPUPercent {
		return ConstraintResult{Passed: false, Reason: "cpu limit reached"}
	}
	return ConstraintResult{Passed: true}
}

func evalSideEffect(c Constraint, ctx EvalContext) ConstraintResult {
	r := c.SideEffect
	if r == nil || ctx.ToolName == "" {
		return ConstraintResult{Passed: true}
	}
	if containsString(r.DeniedCommands, ctx.ToolName) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("command %q is denied", ctx.ToolName)}
	}
	if len(r.AllowedCommands) > 0 && !containsString(r.AllowedCommands, ctx.ToolName) {
		return ConstraintResult{Passed: false, Reason: fmt.Sprintf("command %q is not in the allow list", ctx.ToolName)}
	}
	if !r.NetworkAllowed && len(r.AllowedHosts) == 0 && ctx.Environment == "network" {
		return ConstraintResult{Passed: false, Reason: "network side effects are not allowed"}
	}
	return ConstraintResult{Passed: true}
}

// AppliesTo reports whether p's applicable-context patterns match ctx. An
// empty pattern list for a dimension means "matches anything" on that
// dimension (spec glossary: applicable context gates by feature id, files,
// project, task, environment).
func AppliesTo(p Protocol, ctx EvalContext) bool {
	ac := p.ApplicableContexts
	if len(ac.FeatureIDPatterns) > 0 && ctx.FeatureID != "" && !matchAny(ac.FeatureIDPatterns, ctx.FeatureID) {
		return false
	}
	if len(ac.ProjectPatterns) > 0 && ctx.ProjectDir != "" && !matchAny(ac.ProjectPatterns, ctx.ProjectDir) {
		return false
	}
	if len(ac.TaskPatterns) > 0 && ctx.Task != "" && !matchAny(ac.TaskPatterns, ctx.Task) {
		return false
	}
	if len(ac.Environments) > 0 && ctx.Environment != "" && !containsString(ac.Environments, ctx.Environment) {
		return false
	}
	if len(ac.FilePatterns) > 0 && len(ctx.Files) > 0 {
		anyMatch := false
		for _, f := range ctx.Files {
			if matchAny(ac.FilePatterns, f) {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false
		}
	}
	return true
}
