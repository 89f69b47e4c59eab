// Package feature holds the core data model — Session, Feature, Worker, and
// the file-backed, atomically-written state document that owns them — plus
// the conflict-analysis and progress-log primitives layered on top of it.
package feature

import "time"

// Status is a feature's position in its lifecycle. A feature's status
// transitions strictly along this set; the one backward step is
// in_progress->pending, performed by SessionController.Pause.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// SessionStatus is the top-level state machine driven by the Session
// Controller.
type SessionStatus string

const (
	SessionInProgress         SessionStatus = "in_progress"
	SessionPaused             SessionStatus = "paused"
	SessionReviewing          SessionStatus = "reviewing"
	SessionCompleted          SessionStatus = "completed"
	SessionCompletedWithFails SessionStatus = "completed_with_failures"
)

// PlanningPhase tracks a feature through competitive planning.
type PlanningPhase string

const (
	PlanningPlanning      PlanningPhase = "planning"
	PlanningEvaluating    PlanningPhase = "evaluating"
	PlanningImplementing  PlanningPhase = "implementing"
)

// VotingRole identifies which redundant voter implementation a feature
// clone represents.
type VotingRole string

const (
	Voter1 VotingRole = "voter-1"
	Voter2 VotingRole = "voter-2"
	Voter3 VotingRole = "voter-3"
)

// WorkerRole is the kind of agent a Worker represents.
type WorkerRole string

const (
	RoleImplementor  WorkerRole = "implementor"
	RolePlannerA     WorkerRole = "plannerA"
	RolePlannerB     WorkerRole = "plannerB"
	RoleVoter        WorkerRole = "voter"
	RoleCodeReviewer WorkerRole = "codeReviewer"
	RoleArchReviewer WorkerRole = "archReviewer"
)

// WorkerStatus is the observed liveness state of a Worker, as last reported
// by the completion monitor or an explicit check.
type WorkerStatus string

const (
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerCrashed   WorkerStatus = "crashed"
	WorkerUnknown   WorkerStatus = "unknown"
)

// Worker is an external code-agent subprocess running in a named terminal
// session. Workers are keyed by SessionName and owned by exactly one
// Feature (or review group).
type Worker struct {
	SessionName string       `json:"sessionName"`
	FeatureID   string       `json:"featureId"`
	Role        WorkerRole   `json:"role"`
	Status      WorkerStatus `json:"status"`
	StartedAt   time.Time    `json:"startedAt"`
	LastSeenAt  time.Time    `json:"lastSeenAt"`

	// reported suppresses duplicate completion-monitor transitions (P10).
	// Not part of the wire contract's narrative but persisted so a restart
	// does not re-emit a transition for a worker already reported.
	Reported bool `json:"reported,omitempty"`
}

// RoutingHint is an optional, advisory annotation describing which agent
// profile or model tier a feature should prefer.
type RoutingHint struct {
	Domain     string `json:"domain,omitempty"`
	ModelHint  string `json:"modelHint,omitempty"`
	AgentType  string `json:"agentType,omitempty"`
}

// GitVerification is an optional, caller-populated advisory annotation; the
// core attaches no behavior to its presence (see DESIGN.md Open Questions).
type GitVerification struct {
	Branch       string `json:"branch,omitempty"`
	CommitSHA    string `json:"commitSha,omitempty"`
	Verified     bool   `json:"verified,omitempty"`
	VerifiedAt   string `json:"verifiedAt,omitempty"`
}

// Validation is an optional, caller-populated advisory annotation; like
// GitVerification, no core logic branches on it.
type Validation struct {
	Command string `json:"command,omitempty"`
	Passed  bool   `json:"passed,omitempty"`
	Output  string `json:"output,omitempty"`
}

// ValidationResult records the outcome of a verification command run
// against a feature's worktree.
type ValidationResult struct {
	Command    string    `json:"command"`
	ExitCode   int       `json:"exitCode"`
	Output     string    `json:"output"`
	RanAt      time.Time `json:"ranAt"`
	TimedOut   bool      `json:"timedOut,omitempty"`
}

// CompetingPlan is one planner's output for a feature under competitive
// planning.
type CompetingPlan struct {
	Role      WorkerRole `json:"role"`
	Summary   string     `json:"summary"`
	Steps     []string   `json:"steps,omitempty"`
	RiskNotes string     `json:"riskNotes,omitempty"`
	Scores    *PlanScore `json:"scores,omitempty"`
}

// PlanScore is the per-dimension evaluation of one competing plan.
type PlanScore struct {
	Completeness  float64 `json:"completeness"`
	Feasibility   float64 `json:"feasibility"`
	RiskAwareness float64 `json:"riskAwareness"`
	Clarity       float64 `json:"clarity"`
	Efficiency    float64 `json:"efficiency"`
	Total         float64 `json:"total"`
}

// Feature is a unit of work in a session.
type Feature struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`

	DependsOn []string `json:"dependsOn,omitempty"`
	WorkerID  string   `json:"workerId,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	Complexity  int        `json:"complexity,omitempty"`

	PlanningPhase  PlanningPhase            `json:"planningPhase,omitempty"`
	CompetingPlans map[WorkerRole]CompetingPlan `json:"competingPlans,omitempty"`

	VotingGroup  string     `json:"votingGroup,omitempty"`
	VotingRole   VotingRole `json:"votingRole,omitempty"`
	VotingScore  *float64   `json:"votingScore,omitempty"`
	VotingWinner bool       `json:"votingWinner,omitempty"`

	Context          string            `json:"context,omitempty"`
	ProtocolBindings []string          `json:"protocolBindings,omitempty"`
	Routing          *RoutingHint      `json:"routing,omitempty"`
	GitVerification  *GitVerification  `json:"gitVerification,omitempty"`
	Validation       *Validation       `json:"validation,omitempty"`
	ValidationResult *ValidationResult `json:"validationResult,omitempty"`

	// Files is the path-pattern hint set used by conflict analysis; it is
	// not part of the distilled spec's entity table but is the field
	// feature/conflict.go needs populated to do anything useful, the same
	// way Ticket.Files drove kanban/conflict.go.
	Files []string `json:"files,omitempty"`

	// CurrentActivity/Notes are the supplemented operator-visible trail
	// (see SPEC_FULL.md supplemented feature 3).
	CurrentActivity string   `json:"currentActivity,omitempty"`
	Notes           []string `json:"notes,omitempty"`
}

// ReviewReport is the structured output parsed from a reviewer worker's
// done-file (SPEC_FULL.md supplemented feature 4).
type ReviewReport struct {
	ReviewerRole WorkerRole `json:"reviewerRole"`
	Verdict      string     `json:"verdict"`
	Findings     []string   `json:"findings,omitempty"`
	RawOutput    string     `json:"rawOutput,omitempty"`
	ParsedAt     time.Time  `json:"parsedAt"`
}

// AggregatedReview is set iff all review workers reached a terminal state.
type AggregatedReview struct {
	Reports      []ReviewReport `json:"reports"`
	OverallOK    bool           `json:"overallOk"`
	CompletedAt  time.Time      `json:"completedAt"`
}

// ReviewConfig controls whether a session transitions through `reviewing`
// before reaching a terminal state.
type ReviewConfig struct {
	Enabled bool         `json:"enabled"`
	Types   []WorkerRole `json:"types,omitempty"`
}

// ConfidenceAlert is an operator-facing note surfaced when the scheduler or
// voting coordinator's confidence in an outcome drops below a threshold.
type ConfidenceAlert struct {
	FeatureID string    `json:"featureId"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	RaisedAt  time.Time `json:"raisedAt"`
}

// ConfidenceConfig tunes the thresholds ConfidenceAlerts are raised at.
type ConfidenceConfig struct {
	MinVotingScore   float64 `json:"minVotingScore"`
	MinPlanMargin    float64 `json:"minPlanMargin"`
}

// Session is the single in-flight or terminal record of one orchestration
// run in a project directory. Exactly one Session exists per project
// directory; creation fails if an existing one is in_progress.
type Session struct {
	ProjectDir      string        `json:"projectDir"`
	TaskDescription string        `json:"taskDescription"`
	Status          SessionStatus `json:"status"`
	StartTime       time.Time     `json:"startTime"`
	LastUpdated     time.Time     `json:"lastUpdated"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`

	Features []Feature `json:"features"`
	Workers  []Worker  `json:"workers"`

	ProgressLog []string `json:"progressLog"`

	ReviewConfig     *ReviewConfig     `json:"reviewConfig,omitempty"`
	ReviewWorkers    []Worker          `json:"reviewWorkers,omitempty"`
	AggregatedReview *AggregatedReview `json:"aggregatedReview,omitempty"`

	ConfidenceConfig  *ConfidenceConfig  `json:"confidenceConfig,omitempty"`
	ConfidenceAlerts  []ConfidenceAlert  `json:"confidenceAlerts,omitempty"`
}
