package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func TestEvalToolRestrictionDenyPrecedence(t *testing.T) {
	c := Constraint{
		Enabled: true,
		Type:    ConstraintToolRestriction,
		ToolRestriction: &ToolRestrictionRule{
			AllowedTools: []string{"danger"},
			DeniedTools:  []string{"danger"},
		},
	}
	result := EvaluateConstraint(c, EvalContext{ToolName: "danger"})
	require.False(t, result.Passed, "deny must take precedence over allow")
}

func TestEvalToolRestrictionAllowList(t *testing.T) {
	c := Constraint{
		Enabled: true,
		Type:    ConstraintToolRestriction,
		ToolRestriction: &ToolRestrictionRule{
			AllowedTools: []string{"safe"},
		},
	}
	require.True(t, EvaluateConstraint(c, EvalContext{ToolName: "safe"}).Passed)
	require.False(t, EvaluateConstraint(c, EvalContext{ToolName: "other"}).Passed)
}

func TestEvalFileAccessGlobPatterns(t *testing.T) {
	c := Constraint{
		Enabled: true,
		Type:    ConstraintFileAccess,
		FileAccess: &FileAccessRule{
			DeniedPaths: []string{"secrets/**"},
		},
	}
	require.False(t, EvaluateConstraint(c, EvalContext{FilePath: "secrets/key.pem"}).Passed)
	require.True(t, EvaluateConstraint(c, EvalContext{FilePath: "src/main.go"}).Passed)
}

func TestEvalFileAccessReadOnly(t *testing.T) {
	c := Constraint{
		Enabled: true,
		Type:    ConstraintFileAccess,
		FileAccess: &FileAccessRule{
			ReadOnlyPaths: []string{"config/*.yaml"},
		},
	}
	require.False(t, EvaluateConstraint(c, EvalContext{FilePath: "config/app.yaml", FileOperation: "write"}).Passed)
	require.True(t, EvaluateConstraint(c, EvalContext{FilePath: "config/app.yaml", FileOperation: "read"}).Passed)
}

func TestEvalOutputFormatMaxLength(t *testing.T) {
	c := Constraint{
		Enabled:      true,
		Type:         ConstraintOutputFormat,
		OutputFormat: &OutputFormatRule{MaxLength: 5},
	}
	require.False(t, EvaluateConstraint(c, EvalContext{Output: "too long"}).Passed)
	require.True(t, EvaluateConstraint(c, EvalContext{Output: "ok"}).Passed)
}

func TestEvalTemporalAllowedHours(t *testing.T) {
	c := Constraint{
		Enabled:  true,
		Type:     ConstraintTemporal,
		Temporal: &TemporalRule{AllowedHours: []int{9, 10, 11}},
	}
	in, err := parseRFC3339("2026-08-01T10:30:00Z")
	require.NoError(t, err)
	out, err := parseRFC3339("2026-08-01T23:00:00Z")
	require.NoError(t, err)

	require.True(t, EvaluateConstraint(c, EvalContext{Timestamp: in}).Passed)
	require.False(t, EvaluateConstraint(c, EvalContext{Timestamp: out}).Passed)
}

func TestEvalTemporalRateLimitPerMinute(t *testing.T) {
	c := Constraint{
		Enabled:  true,
		Type:     ConstraintTemporal,
		Temporal: &TemporalRule{RateLimitPerMinute: 3},
	}
	under := EvalContext{Temporal: &TemporalState{CallsThisMinute: 2}}
	atCap := EvalContext{Temporal: &TemporalState{CallsThisMinute: 3}}

	require.True(t, EvaluateConstraint(c, under).Passed)
	require.False(t, EvaluateConstraint(c, atCap).Passed)
}

func TestEvalTemporalCooldown(t *testing.T) {
	c := Constraint{
		Enabled:  true,
		Type:     ConstraintTemporal,
		Temporal: &TemporalRule{CooldownSeconds: 60},
	}
	now, err := parseRFC3339("2026-08-01T10:30:00Z")
	require.NoError(t, err)

	tooSoon := EvalContext{Timestamp: now, Temporal: &TemporalState{LastCall: now.Add(-30 * time.Second)}}
	require.False(t, EvaluateConstraint(c, tooSoon).Passed)

	elapsed := EvalContext{Timestamp: now, Temporal: &TemporalState{LastCall: now.Add(-90 * time.Second)}}
	require.True(t, EvaluateConstraint(c, elapsed).Passed)
}

func TestEvalTemporalNilStatePassesRateAndCooldownOpen(t *testing.T) {
	c := Constraint{
		Enabled:  true,
		Type:     ConstraintTemporal,
		Temporal: &TemporalRule{RateLimitPerMinute: 1, CooldownSeconds: 60},
	}
	require.True(t, EvaluateConstraint(c, EvalContext{}).Passed)
}

func TestEvalResourceConcurrencyReachedBlocks(t *testing.T) {
	c := Constraint{
		Enabled:  true,
		Type:     ConstraintResource,
		Resource: &ResourceRule{MaxConcurrency: 5},
	}
	require.True(t, EvaluateConstraint(c, EvalContext{Resource: ResourceState{ActiveConcurrency: 4}}).Passed)
	require.False(t, EvaluateConstraint(c, EvalContext{Resource: ResourceState{ActiveConcurrency: 5}}).Passed, "reaching the cap exactly must already block the next admission")
}

func TestEvalResourceNegativeCapAlwaysFails(t *testing.T) {
	c := Constraint{
		Enabled:  true,
		Type:     ConstraintResource,
		Resource: &ResourceRule{MaxConcurrency: -1},
	}
	require.False(t, EvaluateConstraint(c, EvalContext{}).Passed)
}

func TestAppliesToFeatureIDPattern(t *testing.T) {
	p := Protocol{
		ApplicableContexts: ApplicableContext{FeatureIDPatterns: []string{"feature-1*"}},
	}
	require.True(t, AppliesTo(p, EvalContext{FeatureID: "feature-123"}))
	require.False(t, AppliesTo(p, EvalContext{FeatureID: "feature-2"}))
}

func TestDisabledConstraintAlwaysPasses(t *testing.T) {
	c := Constraint{
		Enabled:         false,
		Type:            ConstraintToolRestriction,
		ToolRestriction: &ToolRestrictionRule{DeniedTools: []string{"anything"}},
	}
	require.True(t, EvaluateConstraint(c, EvalContext{ToolName: "anything"}).Passed)
}
