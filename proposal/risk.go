package proposal

import "github.com/forge9/swarmkit/protocol"

// riskFactor is one labelled contributor to a Proposal's overall risk score.
type riskFactor struct {
	label string
	score int
}

// ScoreRisk aggregates labelled risk factors into an overallScore in
// [0,100] and a bucketed RiskLevel. Weights are chosen so a protocol with
// broad tool/file scope, weak enforcement, high priority, and override
// allowed converges toward `critical`.
func ScoreRisk(p protocol.Protocol, bc BaseConstraints) (int, RiskLevel, []riskFactor) {
	var factors []riskFactor

	toolScope := toolScopeScore(p)
	factors = append(factors, riskFactor{"tool-scope", toolScope})

	fileScope := fileScopeScore(p)
	factors = append(factors, riskFactor{"file-scope", fileScope})

	sideEffect := sideEffectScore(p)
	factors = append(factors, riskFactor{"side-effects", sideEffect})

	enforcement := enforcementScore(p)
	factors = append(factors, riskFactor{"enforcement-mode", enforcement})

	priority := priorityScore(p)
	factors = append(factors, riskFactor{"priority", priority})

	override := 0
	if p.Enforcement.AllowOverride {
		override = 15
	}
	factors = append(factors, riskFactor{"override-allowed", override})

	total := 0
	for _, f := range factors {
		total += f.score
	}
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	return total, riskLevelFor(total), factors
}

func toolScopeScore(p protocol.Protocol) int {
	for _, c := range p.Constraints {
		if c.Type == protocol.ConstraintToolRestriction && c.ToolRestriction != nil {
			if len(c.ToolRestriction.DeniedTools) == 0 && len(c.ToolRestriction.AllowedTools) == 0 {
				return 20 // unrestricted tool access
			}
			return 5
		}
	}
	return 25 // no tool_restriction constraint at all
}

func fileScopeScore(p protocol.Protocol) int {
	for _, c := range p.Constraints {
		if c.Type == protocol.ConstraintFileAccess && c.FileAccess != nil {
			if len(c.FileAccess.AllowedPaths) == 0 && len(c.FileAccess.DeniedPaths) == 0 {
				return 20
			}
			return 5
		}
	}
	return 20
}

func sideEffectScore(p protocol.Protocol) int {
	for _, c := range p.Constraints {
		if c.Type == protocol.ConstraintSideEffect && c.SideEffect != nil {
			if c.SideEffect.NetworkAllowed {
				return 20
			}
			return 5
		}
	}
	return 10
}

func enforcementScore(p protocol.Protocol) int {
	switch p.Enforcement.Mode {
	case protocol.ModeStrict:
		return 0
	case protocol.ModePermissive:
		return 10
	case protocol.ModeAudit:
		return 15
	case protocol.ModeLearning:
		return 20
	default:
		return 20
	}
}

func priorityScore(p protocol.Protocol) int {
	return p.Priority * 10 / 1000 // 0..10
}

func riskLevelFor(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 35:
		return RiskMedium
	case score >= 15:
		return RiskLow
	default:
		return RiskMinimal
	}
}
