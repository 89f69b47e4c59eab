package swarmkit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/forge9/swarmkit/feature"
	"github.com/forge9/swarmkit/worker"
)

// ErrPlanMissing is returned by EvaluatePlans when either planner has not
// yet written its plan file. Per the Open Question decision in DESIGN.md,
// a missing Plan B is always a hard error — there is no single-planner
// fallback mode.
var ErrPlanMissing = fmt.Errorf("swarmkit: planner has not written a plan file yet")

// planScoreWeight assigns equal 20-point weight to each of the five
// dimensions scored during plan evaluation.
const planScoreWeight = 20.0

// CompetitiveCoordinator runs the competitive-planning and voting
// primitives: fanning out to several concurrent agents and synthesizing
// a winner from their outputs, for planner pairs and voter pools.
type CompetitiveCoordinator struct {
	controller *SessionController
	workers    *worker.Manager
	logger     *slog.Logger
}

// NewCompetitiveCoordinator constructs a CompetitiveCoordinator.
func NewCompetitiveCoordinator(controller *SessionController, workers *worker.Manager, logger *slog.Logger) *CompetitiveCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompetitiveCoordinator{controller: controller, workers: workers, logger: logger}
}

// StartCompetitivePlanning spawns planner A and B for f and marks its
// planningPhase=planning.
func (c *CompetitiveCoordinator) StartCompetitivePlanning(ctx context.Context, f feature.Feature, promptA, promptB string) error {
	workerA, err := c.workers.StartPlannerWorker(ctx, f, feature.RolePlannerA, promptA)
	if err != nil {
		return fmt.Errorf("swarmkit: start planner A: %w", err)
	}
	workerB, err := c.workers.StartPlannerWorker(ctx, f, feature.RolePlannerB, promptB)
	if err != nil {
		_ = c.workers.KillWorker(ctx, workerA.SessionName)
		return fmt.Errorf("swarmkit: start planner B: %w", err)
	}

	return c.controller.Mutate(func(sess *feature.Session) error {
		for i := range sess.Features {
			if sess.Features[i].ID != f.ID {
				continue
			}
			sess.Features[i].PlanningPhase = feature.PlanningPlanning
			sess.Workers = append(sess.Workers, workerA, workerB)
		}
		feature.AppendProgress(sess, "competitive planning started for %s", f.ID)
		return nil
	})
}

// PlanEvaluation is the result of scoring a competing pair of plans.
type PlanEvaluation struct {
	WinnerRole      feature.WorkerRole
	ScoreA          feature.PlanScore
	ScoreB          feature.PlanScore
	SelectionReason string
}

// EvaluatePlans reads both planners' plan files, scores each along
// {completeness, feasibility, riskAwareness, clarity, efficiency} with
// equal 20-point weights, and returns the higher-total winner (ties
// broken by riskAwareness). It is a hard error for either plan file to
// be missing.
func (c *CompetitiveCoordinator) EvaluatePlans(f feature.Feature) (PlanEvaluation, error) {
	planA, okA, err := c.workers.ReadPlanFile(f.ID + "-" + string(feature.RolePlannerA))
	if err != nil {
		return PlanEvaluation{}, fmt.Errorf("swarmkit: read plan A: %w", err)
	}
	planB, okB, err := c.workers.ReadPlanFile(f.ID + "-" + string(feature.RolePlannerB))
	if err != nil {
		return PlanEvaluation{}, fmt.Errorf("swarmkit: read plan B: %w", err)
	}
	if !okA || !okB {
		return PlanEvaluation{}, ErrPlanMissing
	}

	scoreA := scorePlan(planA)
	scoreB := scorePlan(planB)

	winner := feature.RolePlannerA
	reason := "plan A scored higher overall"
	switch {
	case scoreB.Total > scoreA.Total:
		winner, reason = feature.RolePlannerB, "plan B scored higher overall"
	case scoreB.Total == scoreA.Total && scoreB.RiskAwareness > scoreA.RiskAwareness:
		winner, reason = feature.RolePlannerB, "tie broken by higher risk awareness"
	case scoreB.Total == scoreA.Total:
		reason = "tie broken by higher risk awareness"
	}

	return PlanEvaluation{WinnerRole: winner, ScoreA: scoreA, ScoreB: scoreB, SelectionReason: reason}, nil
}

// scorePlan derives a PlanScore from a planner's self-reported plan shape.
// Scoring is necessarily heuristic (the core has no way to judge plan
// quality semantically) and leans on length/structure signals — summary
// length as a completeness proxy, for instance.
func scorePlan(p *worker.PlanFile) feature.PlanScore {
	completeness := lengthScore(len(p.Summary), 400)
	feasibility := lengthScore(len(p.Steps)*40, 200)
	riskAwareness := lengthScore(len(p.RiskNotes), 200)
	clarity := structureScore(p)
	efficiency := efficiencyScore(p)

	total := completeness + feasibility + riskAwareness + clarity + efficiency
	return feature.PlanScore{
		Completeness:  completeness,
		Feasibility:   feasibility,
		RiskAwareness: riskAwareness,
		Clarity:       clarity,
		Efficiency:    efficiency,
		Total:         total,
	}
}

func lengthScore(length, saturationPoint int) float64 {
	if saturationPoint <= 0 {
		return 0
	}
	ratio := float64(length) / float64(saturationPoint)
	if ratio > 1 {
		ratio = 1
	}
	return ratio * planScoreWeight
}

func structureScore(p *worker.PlanFile) float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	if len(p.Steps) >= 3 {
		return planScoreWeight
	}
	return planScoreWeight * float64(len(p.Steps)) / 3
}

func efficiencyScore(p *worker.PlanFile) float64 {
	// Fewer, more concentrated steps score higher; a plan ballooning past
	// ten steps is penalized as likely over-decomposed.
	if len(p.Steps) == 0 {
		return planScoreWeight / 2
	}
	if len(p.Steps) <= 10 {
		return planScoreWeight
	}
	return planScoreWeight / 2
}

// FinalizePlanning kills both planner workers and records the winning
// plan on the feature, transitioning planningPhase=evaluating.
func (c *CompetitiveCoordinator) FinalizePlanning(ctx context.Context, f feature.Feature, eval PlanEvaluation) error {
	sessionA := f.ID + "-" + string(feature.RolePlannerA)
	sessionB := f.ID + "-" + string(feature.RolePlannerB)
	if err := c.workers.KillWorker(ctx, sessionA); err != nil {
		c.logger.Warn("swarmkit: kill planner A failed", "error", err)
	}
	if err := c.workers.KillWorker(ctx, sessionB); err != nil {
		c.logger.Warn("swarmkit: kill planner B failed", "error", err)
	}

	return c.controller.Mutate(func(sess *feature.Session) error {
		for i := range sess.Features {
			if sess.Features[i].ID != f.ID {
				continue
			}
			sess.Features[i].PlanningPhase = feature.PlanningEvaluating
			if sess.Features[i].CompetingPlans == nil {
				sess.Features[i].CompetingPlans = make(map[feature.WorkerRole]feature.CompetingPlan)
			}
			sess.Features[i].CompetingPlans[feature.RolePlannerA] = feature.CompetingPlan{Role: feature.RolePlannerA, Scores: &eval.ScoreA}
			sess.Features[i].CompetingPlans[feature.RolePlannerB] = feature.CompetingPlan{Role: feature.RolePlannerB, Scores: &eval.ScoreB}
		}
		feature.AppendProgress(sess, "plan evaluation for %s: winner=%s (%s)", f.ID, eval.WinnerRole, eval.SelectionReason)
		return nil
	})
}

// StartVoting clones f into n voter features (n in [2,3]) and starts a
// redundant implementor for each.
func (c *CompetitiveCoordinator) StartVoting(ctx context.Context, f feature.Feature, n int, rolePrompts map[int]string) error {
	if n < 2 || n > 3 {
		return fmt.Errorf("swarmkit: voting requires 2 or 3 voters, got %d", n)
	}

	votingGroup := f.ID
	var clones []feature.Feature
	var startedWorkers []feature.Worker

	for k := 1; k <= n; k++ {
		clone := f
		clone.ID = fmt.Sprintf("%s-voter-%d", f.ID, k)
		clone.VotingGroup = votingGroup
		clone.VotingRole = votingRoleFor(k)
		clone.Status = feature.StatusPending
		clone.Attempts = 0
		clone.CompetingPlans = nil

		w, err := c.workers.StartVotingWorker(ctx, clone, rolePrompts[k])
		if err != nil {
			for _, started := range startedWorkers {
				_ = c.workers.KillWorker(ctx, started.SessionName)
			}
			return fmt.Errorf("swarmkit: start voter %d: %w", k, err)
		}
		clone.Status = feature.StatusInProgress
		clone.WorkerID = w.SessionName
		clones = append(clones, clone)
		startedWorkers = append(startedWorkers, w)
	}

	return c.controller.Mutate(func(sess *feature.Session) error {
		sess.Features = append(sess.Features, clones...)
		sess.Workers = append(sess.Workers, startedWorkers...)
		feature.AppendProgress(sess, "voting started for %s with %d voters", f.ID, n)
		return nil
	})
}

func votingRoleFor(k int) feature.VotingRole {
	switch k {
	case 1:
		return feature.Voter1
	case 2:
		return feature.Voter2
	default:
		return feature.Voter3
	}
}

// VoteScore is one voter's derived score.
type VoteScore struct {
	FeatureID string
	Score     int
}

// EvaluateVoting scores every terminal voter clone in votingGroup and
// marks the original feature completed (winner > 50) or failed.
// Non-winning voters are killed but their output is left on disk.
func (c *CompetitiveCoordinator) EvaluateVoting(ctx context.Context, originalID, votingGroup string) (VoteScore, error) {
	sess := c.controller.Current()
	if sess == nil {
		return VoteScore{}, ErrNoActiveSession
	}

	var voters []feature.Feature
	for _, f := range sess.Features {
		if f.VotingGroup == votingGroup {
			voters = append(voters, f)
		}
	}
	for _, v := range voters {
		if v.Status != feature.StatusCompleted && v.Status != feature.StatusFailed {
			return VoteScore{}, fmt.Errorf("swarmkit: voting group %s not yet terminal", votingGroup)
		}
	}

	scores := make([]VoteScore, 0, len(voters))
	for _, v := range voters {
		scores = append(scores, VoteScore{FeatureID: v.ID, Score: c.scoreVoter(v)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	winner := scores[0]
	for _, s := range scores[1:] {
		if s.FeatureID != winner.FeatureID {
			_ = c.workers.KillWorker(ctx, voterWorkerID(sess, s.FeatureID))
		}
	}

	err := c.controller.Mutate(func(sess *feature.Session) error {
		for i := range sess.Features {
			if sess.Features[i].ID != originalID {
				continue
			}
			if winner.Score > 50 {
				sess.Features[i].Status = feature.StatusCompleted
			} else {
				sess.Features[i].Status = feature.StatusFailed
				sess.Features[i].LastError = fmt.Sprintf("voting: best voter scored %d (<=50)", winner.Score)
			}
		}
		for i := range sess.Features {
			if sess.Features[i].VotingGroup == votingGroup {
				sess.Features[i].VotingScore = floatPtr(float64(scoreFor(scores, sess.Features[i].ID)))
				sess.Features[i].VotingWinner = sess.Features[i].ID == winner.FeatureID
			}
		}
		feature.AppendProgress(sess, "voting resolved for %s: winner=%s score=%d", originalID, winner.FeatureID, winner.Score)
		return nil
	})
	if err != nil {
		return VoteScore{}, err
	}
	return winner, nil
}

func scoreFor(scores []VoteScore, id string) int {
	for _, s := range scores {
		if s.FeatureID == id {
			return s.Score
		}
	}
	return 0
}

func voterWorkerID(sess *feature.Session, featureID string) string {
	for _, f := range sess.Features {
		if f.ID == featureID {
			return f.WorkerID
		}
	}
	return featureID
}

// scoreVoter applies the voting score formula: +40 for evidence of
// passing tests in the done file, +20 for a detailed done file (over 200
// bytes), +20 when the feature's recorded validation output is under 100
// lines (+10 for under 200), +10 when the done file never mentions
// "error" (+5 for <= 3 mentions). The size of the change itself is not
// measured, and the worker log is not read; with no validation result
// recorded the size bonus is 0.
func (c *CompetitiveCoordinator) scoreVoter(f feature.Feature) int {
	score := 0

	doneText, hasDone, err := c.workers.ReadDoneFile(f.WorkerID)
	if err == nil && hasDone {
		lower := strings.ToLower(doneText)
		if strings.Contains(lower, "test") && (strings.Contains(lower, "pass") || strings.Contains(lower, "✓") || strings.Contains(lower, "ok")) {
			score += 40
		}
		if len(doneText) > 200 {
			score += 20
		}
	}

	if f.ValidationResult != nil {
		lines := strings.Count(f.ValidationResult.Output, "\n")
		switch {
		case lines < 100:
			score += 20
		case lines < 200:
			score += 10
		}
	}

	errCount := strings.Count(strings.ToLower(doneText), "error")
	switch {
	case errCount == 0:
		score += 10
	case errCount <= 3:
		score += 5
	}

	return score
}

func floatPtr(f float64) *float64 { return &f }
