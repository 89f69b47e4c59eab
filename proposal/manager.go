package proposal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/forge9/swarmkit/protocol"
)

// ErrNotFound is returned when an id has no matching Proposal.
var ErrNotFound = fmt.Errorf("proposal: not found")

// ErrNotPending is returned by Approve/Reject for a Proposal that has
// already left the pending/reviewing states.
var ErrNotPending = fmt.Errorf("proposal: not pending")

// ErrInvalid is returned by Approve when the Proposal's validation failed.
var ErrInvalid = fmt.Errorf("proposal: validation failed")

// Manager holds Proposals in memory keyed by id; durable persistence is
// one JSON file per proposal under proposals/<id>.json, written by the
// caller's load/mutate/save cycle the same way feature.Store owns the
// Session document — Manager itself is a pure, lockable in-memory index
// plus the scoring/validation logic, mirroring protocol.Registry's shape
// without the registry's file ownership (proposals are many small files,
// not one document).
type Manager struct {
	mu         sync.Mutex
	proposals  map[string]*Proposal
	validate   *validator.Validate
	baseConstraints BaseConstraints
	registry   *protocol.Registry
	seq        int
}

// NewManager constructs a Manager backed by registry (used on Approve to
// register the winning protocol) and bc (the fixed base-constraints
// document).
func NewManager(registry *protocol.Registry, bc BaseConstraints) *Manager {
	return &Manager{
		proposals:       make(map[string]*Proposal),
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		baseConstraints: bc,
		registry:        registry,
	}
}

// Submit builds a Proposal for p, runs schema validation on the engine's
// BaseConstraints document followed by base-constraint and risk checks
// against p, and stores it pending.
func (m *Manager) Submit(p protocol.Protocol, source Source, description, rationale, submittedBy string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	now := time.Now().UTC()
	proposal := &Proposal{
		ID:          fmt.Sprintf("proposal-%d", m.seq),
		Protocol:    p,
		Source:      source,
		Description: description,
		Rationale:   rationale,
		Priority:    defaultPriority,
		SubmittedAt: now,
		SubmittedBy: submittedBy,
		ExpiresAt:   now.Add(defaultExpiry),
		Status:      StatusPending,
	}

	proposal.Validation = m.validateProposal(p)
	m.proposals[proposal.ID] = proposal
	return proposal, nil
}

// validateProposal runs the full schema + base-constraint + risk pipeline.
func (m *Manager) validateProposal(p protocol.Protocol) Validation {
	var issues []Issue

	if err := m.validate.Struct(m.baseConstraints); err != nil {
		issues = append(issues, Issue{Type: IssueError, Message: "base constraints document failed schema validation: " + err.Error()})
	}

	issues = append(issues, checkBaseConstraints(p, m.baseConstraints)...)

	score, level, _ := ScoreRisk(p, m.baseConstraints)
	acceptable := score <= m.baseConstraints.AcceptanceThreshold

	isFixable := true
	isValid := true
	for _, iss := range issues {
		if iss.Type == IssueError {
			isValid = false
			if !iss.Fixable {
				isFixable = false
			}
		}
	}

	return Validation{
		IsValid:      isValid,
		IsFixable:    isValid || isFixable,
		Issues:       issues,
		RiskScore:    score,
		RiskLevel:    level,
		IsAcceptable: acceptable,
	}
}

// checkBaseConstraints compares p's constraints against the prohibited
// tools/paths/operations lists. An explicit allow of a prohibited item is
// not fixable (the proposer asked for exactly the forbidden thing); a
// missing deny is fixable (adding the deny resolves it).
func checkBaseConstraints(p protocol.Protocol, bc BaseConstraints) []Issue {
	var issues []Issue

	for _, c := range p.Constraints {
		if c.Type == protocol.ConstraintToolRestriction && c.ToolRestriction != nil {
			for _, tool := range c.ToolRestriction.AllowedTools {
				if containsFold(bc.ProhibitedTools, tool) {
					issues = append(issues, Issue{
						Type:    IssueError,
						Message: fmt.Sprintf("constraint %q explicitly allows prohibited tool %q", c.ID, tool),
						Location: "constraints[" + c.ID + "].toolRestriction.allowedTools",
						Fixable: false,
					})
				}
			}
			for _, tool := range bc.ProhibitedTools {
				if !containsFold(c.ToolRestriction.DeniedTools, tool) {
					issues = append(issues, Issue{
						Type:         IssueError,
						Message:      fmt.Sprintf("constraint %q does not explicitly deny prohibited tool %q", c.ID, tool),
						Location:     "constraints[" + c.ID + "].toolRestriction.deniedTools",
						SuggestedFix: "add \"" + tool + "\" to deniedTools",
						Fixable:      true,
					})
				}
			}
		}
		if c.Type == protocol.ConstraintFileAccess && c.FileAccess != nil {
			for _, path := range c.FileAccess.AllowedPaths {
				if containsFold(bc.ProhibitedPaths, path) {
					issues = append(issues, Issue{
						Type:     IssueError,
						Message:  fmt.Sprintf("constraint %q explicitly allows prohibited path %q", c.ID, path),
						Location: "constraints[" + c.ID + "].fileAccess.allowedPaths",
						Fixable:  false,
					})
				}
			}
		}
	}

	if !severityMeetsFloor(p, bc.MinSeverity) {
		issues = append(issues, Issue{
			Type:    IssueWarning,
			Message: "no constraint meets the minimum severity floor " + bc.MinSeverity,
			Fixable: true,
		})
	}

	return issues
}

func severityMeetsFloor(p protocol.Protocol, floor string) bool {
	rank := map[string]int{"info": 0, "warning": 1, "error": 2}
	want, ok := rank[floor]
	if !ok {
		return true
	}
	for _, c := range p.Constraints {
		if rank[string(c.Severity)] >= want {
			return true
		}
	}
	return len(p.Constraints) == 0
}

func containsFold(ss []string, s string) bool {
	for _, v := range ss {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Get returns a Proposal by id.
func (m *Manager) Get(id string) (*Proposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	return p, ok
}

// List returns every proposal, sweeping expired ones first — expired
// proposals are swept on every list call.
func (m *Manager) List() []*Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepExpiredLocked()
	out := make([]*Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, p)
	}
	return out
}

func (m *Manager) sweepExpiredLocked() {
	now := time.Now().UTC()
	for _, p := range m.proposals {
		if p.Status == StatusPending && now.After(p.ExpiresAt) {
			p.Status = StatusExpired
		}
	}
}

// Approve transitions id to approved and registers its protocol in the
// Registry as submitted. modifications is stored on the proposal only; it
// is not applied to the registered protocol. Fails if the proposal's
// validation marked it invalid.
func (m *Manager) Approve(id, reviewedBy string, modifications map[string]string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status != StatusPending && p.Status != StatusReviewing {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, p.Status)
	}
	if !p.Validation.IsValid {
		return nil, fmt.Errorf("%w: %s (risk=%s)", ErrInvalid, id, p.Validation.RiskLevel)
	}

	if m.registry != nil {
		if err := m.registry.Register(p.Protocol); err != nil {
			return nil, fmt.Errorf("proposal: register approved protocol: %w", err)
		}
	}

	now := time.Now().UTC()
	p.Status = StatusApproved
	p.ReviewedAt = &now
	p.ReviewedBy = reviewedBy
	p.Modifications = modifications
	return p, nil
}

// Reject transitions id to rejected with reason.
func (m *Manager) Reject(id, reviewedBy, reason string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status != StatusPending && p.Status != StatusReviewing {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, p.Status)
	}

	now := time.Now().UTC()
	p.Status = StatusRejected
	p.ReviewedAt = &now
	p.ReviewedBy = reviewedBy
	p.ReviewReason = reason
	return p, nil
}
