package swarmkit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/feature"
	"github.com/forge9/swarmkit/worker"
)

func newTestCompetitive(t *testing.T) (*CompetitiveCoordinator, *SessionController, *fakeSchedAdapter, string) {
	t.Helper()
	store := feature.NewStore(t.TempDir(), nil)
	controller := NewSessionController(store, nil)
	workersDir := t.TempDir()
	adapter := &fakeSchedAdapter{sessions: make(map[string]bool)}
	m := worker.NewManager(adapter, &fakeSchedBuilder{}, workersDir, nil)
	return NewCompetitiveCoordinator(controller, m, nil), controller, adapter, workersDir
}

func writePlanFile(t *testing.T, dir, sessionName string, plan worker.PlanFile) {
	t.Helper()
	data, err := json.Marshal(plan)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionName+".plan.json"), data, 0o600))
}

func writeDoneFile(t *testing.T, dir, sessionName, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionName+".done"), []byte(content), 0o600))
}

func TestStartCompetitivePlanningSpawnsBothPlanners(t *testing.T) {
	cc, controller, adapter, _ := newTestCompetitive(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{{ID: "f1", Status: feature.StatusPending}}, nil)
	require.NoError(t, err)

	require.NoError(t, cc.StartCompetitivePlanning(context.Background(), controller.Current().Features[0], "approach A", "approach B"))

	require.True(t, adapter.sessions["f1-plannerA"])
	require.True(t, adapter.sessions["f1-plannerB"])
	require.Equal(t, feature.PlanningPlanning, controller.Current().Features[0].PlanningPhase)
}

func TestEvaluatePlansErrorsWhenAPlanIsMissing(t *testing.T) {
	cc, _, _, _ := newTestCompetitive(t)
	_, err := cc.EvaluatePlans(feature.Feature{ID: "f1"})
	require.ErrorIs(t, err, ErrPlanMissing)
}

func TestEvaluatePlansPicksHigherTotalScore(t *testing.T) {
	cc, _, _, workersDir := newTestCompetitive(t)
	writePlanFile(t, workersDir, "f1-plannerA", worker.PlanFile{Summary: "short"})
	writePlanFile(t, workersDir, "f1-plannerB", worker.PlanFile{
		Summary:   "a much longer and more thorough summary of the approach that covers edge cases extensively and in great detail across many clauses",
		Steps:     []string{"one", "two", "three"},
		RiskNotes: "carefully considered risks with substantial detail about what could go wrong and how we will mitigate each scenario as it arises",
	})

	eval, err := cc.EvaluatePlans(feature.Feature{ID: "f1"})
	require.NoError(t, err)
	require.Equal(t, feature.RolePlannerB, eval.WinnerRole)
	require.Greater(t, eval.ScoreB.Total, eval.ScoreA.Total)
}

func TestEvaluatePlansBreaksTiesOnRiskAwareness(t *testing.T) {
	cc, _, _, workersDir := newTestCompetitive(t)
	// Equal totals by construction: A's longer summary (+0.3 completeness)
	// exactly offsets B's extra risk notes (+0.3 riskAwareness), everything
	// else identical, so only the tie-break path can pick a winner.
	planA := worker.PlanFile{Summary: strings.Repeat("a", 106), Steps: []string{"a", "b", "c"}}
	planB := worker.PlanFile{Summary: strings.Repeat("a", 100), Steps: []string{"a", "b", "c"}, RiskNotes: strings.Repeat("r", 3)}
	writePlanFile(t, workersDir, "f1-plannerA", planA)
	writePlanFile(t, workersDir, "f1-plannerB", planB)

	eval, err := cc.EvaluatePlans(feature.Feature{ID: "f1"})
	require.NoError(t, err)
	require.InDelta(t, eval.ScoreA.Total, eval.ScoreB.Total, 1e-9)
	require.Equal(t, feature.RolePlannerB, eval.WinnerRole)
	require.Contains(t, eval.SelectionReason, "risk")
}

func TestFinalizePlanningKillsPlannersAndRecordsScores(t *testing.T) {
	cc, controller, adapter, _ := newTestCompetitive(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{{ID: "f1", Status: feature.StatusPending}}, nil)
	require.NoError(t, err)
	adapter.sessions["f1-plannerA"] = true
	adapter.sessions["f1-plannerB"] = true

	eval := PlanEvaluation{WinnerRole: feature.RolePlannerA, SelectionReason: "plan A scored higher overall"}
	require.NoError(t, cc.FinalizePlanning(context.Background(), controller.Current().Features[0], eval))

	require.False(t, adapter.sessions["f1-plannerA"])
	require.False(t, adapter.sessions["f1-plannerB"])
	f := controller.Current().Features[0]
	require.Equal(t, feature.PlanningEvaluating, f.PlanningPhase)
	require.Contains(t, f.CompetingPlans, feature.RolePlannerA)
}

func TestStartVotingRejectsOutOfRangeCount(t *testing.T) {
	cc, controller, _, _ := newTestCompetitive(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{{ID: "f1", Status: feature.StatusPending}}, nil)
	require.NoError(t, err)

	err = cc.StartVoting(context.Background(), controller.Current().Features[0], 5, nil)
	require.Error(t, err)
}

func TestStartVotingClonesFeatureForEachVoter(t *testing.T) {
	cc, controller, adapter, _ := newTestCompetitive(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{{ID: "f1", Status: feature.StatusPending, Description: "do it"}}, nil)
	require.NoError(t, err)

	require.NoError(t, cc.StartVoting(context.Background(), controller.Current().Features[0], 2, nil))

	sess := controller.Current()
	require.Len(t, sess.Features, 3)
	require.True(t, adapter.sessions["f1-voter-1"])
	require.True(t, adapter.sessions["f1-voter-2"])
}

func TestEvaluateVotingPicksHighestScoreAndCompletesOriginal(t *testing.T) {
	cc, controller, adapter, workersDir := newTestCompetitive(t)
	_, err := controller.Init(t.TempDir(), "task", []feature.Feature{
		{ID: "f1", Status: feature.StatusPending, Description: "do it"},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, cc.StartVoting(context.Background(), controller.Current().Features[0], 2, nil))

	err = controller.Mutate(func(sess *feature.Session) error {
		for i := range sess.Features {
			if sess.Features[i].VotingGroup == "f1" {
				sess.Features[i].Status = feature.StatusCompleted
			}
		}
		return nil
	})
	require.NoError(t, err)

	writeDoneFile(t, workersDir, "f1-voter-1", "all tests pass. "+strings.Repeat("detailed notes about the change and why it is correct. ", 6))
	writeDoneFile(t, workersDir, "f1-voter-2", "done")

	winner, err := cc.EvaluateVoting(context.Background(), "f1", "f1")
	require.NoError(t, err)
	require.Equal(t, "f1-voter-1", winner.FeatureID)
	require.Equal(t, feature.StatusCompleted, findFeature(controller.Current(), "f1").Status)
	require.False(t, adapter.sessions["f1-voter-2"])
}

func findFeature(sess *feature.Session, id string) feature.Feature {
	for _, f := range sess.Features {
		if f.ID == id {
			return f
		}
	}
	return feature.Feature{}
}
