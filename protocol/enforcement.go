package protocol

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// postHocTypes is the subset of constraint kinds meaningful for
// validatePostExecution: output_format, resource, side_effect.
var postHocTypes = map[ConstraintType]bool{
	ConstraintOutputFormat: true,
	ConstraintResource:     true,
	ConstraintSideEffect:   true,
}

// Enforcer is the protocol enforcement engine: it selects the protocols
// applicable to a context, evaluates their constraints in priority order,
// and derives an allow/deny decision with a suggested remediation. It
// writes every violation (regardless of outcome) through the Registry. It
// also owns the call-history bookkeeping Temporal constraints need, keyed
// per (protocolId, constraintId, subject).
type Enforcer struct {
	registry *Registry

	mu       sync.Mutex
	temporal map[string]*temporalBucket
}

// NewEnforcer constructs an Enforcer over registry.
func NewEnforcer(registry *Registry) *Enforcer {
	return &Enforcer{registry: registry, temporal: make(map[string]*temporalBucket)}
}

// temporalBucket is the per-minute/per-hour sliding window and last-call
// timestamp backing one TemporalState.
type temporalBucket struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	lastCall    time.Time
}

// temporalKey identifies one rate-limit/cooldown bucket.
func temporalKey(protocolID, constraintID, subject string) string {
	return protocolID + "/" + constraintID + "/" + subject
}

// noteTemporalCall returns the state a Temporal constraint should be
// evaluated against for this call, then records the call into the bucket
// for the next one. Windows reset once they're a minute/hour stale.
func (e *Enforcer) noteTemporalCall(key string, now time.Time) TemporalState {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.temporal[key]
	if !ok {
		b = &temporalBucket{minuteStart: now, hourStart: now}
		e.temporal[key] = b
	}
	if now.Sub(b.minuteStart) >= time.Minute {
		b.minuteStart, b.minuteCount = now, 0
	}
	if now.Sub(b.hourStart) >= time.Hour {
		b.hourStart, b.hourCount = now, 0
	}

	state := TemporalState{CallsThisMinute: b.minuteCount, CallsThisHour: b.hourCount, LastCall: b.lastCall}
	b.minuteCount++
	b.hourCount++
	b.lastCall = now
	return state
}

// subjectFor is the entity a Temporal constraint's rate limit/cooldown is
// scoped to: the worker acting, falling back to the feature it acts on.
func subjectFor(ctx EvalContext) string {
	if ctx.WorkerID != "" {
		return ctx.WorkerID
	}
	return ctx.FeatureID
}

// ValidatePreExecution runs the full constraint set of every applicable
// active protocol against ctx.
func (e *Enforcer) ValidatePreExecution(ctx EvalContext) ValidationOutcome {
	return e.validate(ctx, nil)
}

// ValidatePostExecution runs only the post-hoc-meaningful constraint kinds,
// additionally aware of a worker's output via ctx.Output.
func (e *Enforcer) ValidatePostExecution(ctx EvalContext) ValidationOutcome {
	return e.validate(ctx, postHocTypes)
}

func (e *Enforcer) validate(ctx EvalContext, onlyTypes map[ConstraintType]bool) ValidationOutcome {
	start := time.Now()
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = start.UTC()
	}

	active := e.registry.ActiveProtocols()
	applicable := make([]Protocol, 0, len(active))
	for _, p := range active {
		if AppliesTo(p, ctx) {
			applicable = append(applicable, p)
		}
	}
	slices.SortFunc(applicable, func(a, b Protocol) int {
		return b.Priority - a.Priority // descending priority
	})

	outcome := ValidationOutcome{
		Allowed:         true,
		SuggestedAction: ActionContinue,
	}

	for _, p := range applicable {
		outcome.AppliedProtocols = append(outcome.AppliedProtocols, p.ID)
		for _, c := range p.Constraints {
			if onlyTypes != nil && !onlyTypes[c.Type] {
				continue
			}
			constraintCtx := ctx
			if c.Type == ConstraintTemporal && c.Temporal != nil {
				state := e.noteTemporalCall(temporalKey(p.ID, c.ID, subjectFor(ctx)), ctx.Timestamp)
				constraintCtx.Temporal = &state
			}
			result := EvaluateConstraint(c, constraintCtx)
			if result.Passed {
				continue
			}

			v := Violation{
				ProtocolID:   p.ID,
				ConstraintID: c.ID,
				FeatureID:    ctx.FeatureID,
				WorkerID:     ctx.WorkerID,
				Severity:     c.Severity,
				Message:      result.Reason,
				Context:      fmt.Sprintf("tool=%s file=%s", ctx.ToolName, ctx.FilePath),
			}
			if err := e.registry.RecordViolation(v); err != nil {
				outcome.Warnings = append(outcome.Warnings, "failed to record violation: "+err.Error())
			}
			outcome.Violations = append(outcome.Violations, v)

			switch {
			case c.Severity == SeverityError && p.Enforcement.Mode == ModeStrict:
				outcome.Allowed = false
				outcome.SuggestedAction = suggestedActionFor(p.Enforcement)
			case p.Enforcement.Mode == ModePermissive:
				outcome.Warnings = append(outcome.Warnings, result.Reason)
			case p.Enforcement.Mode == ModeAudit || p.Enforcement.Mode == ModeLearning:
				// never blocks; already recorded above.
			}
		}
	}

	outcome.EvaluationTimeMs = time.Since(start).Milliseconds()
	return outcome
}

func suggestedActionFor(cfg EnforcementConfig) SuggestedAction {
	switch cfg.OnViolation {
	case OnViolationBlock:
		return ActionAbort
	case OnViolationRollback:
		return ActionRetry
	case OnViolationNotify, OnViolationWarn, OnViolationLog:
		if cfg.AllowOverride {
			return ActionOverride
		}
		return ActionContinue
	default:
		return ActionAbort
	}
}
