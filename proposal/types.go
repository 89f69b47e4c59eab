// Package proposal implements the proposal manager: submission, schema
// and base-constraint validation, risk scoring, and the approve/reject/
// expire lifecycle for draft Protocols. An approval reaches the audit log
// only through the Registry's own "register" entry; rejections and
// expiries write no audit entry.
package proposal

import (
	"time"

	"github.com/forge9/swarmkit/protocol"
)

// Source is who or what submitted a Proposal.
type Source string

const (
	SourceLLM    Source = "llm"
	SourceUser   Source = "user"
	SourceSystem Source = "system"
	SourceImport Source = "import"
)

// Status is a Proposal's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReviewing Status = "reviewing"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// IssueType categorizes a validation Issue.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
	IssueInfo    IssueType = "info"
)

// RiskLevel buckets an overall risk score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Issue is one validation finding (schema or base-constraint).
type Issue struct {
	Type         IssueType `json:"type"`
	Message      string    `json:"message"`
	Location     string    `json:"location,omitempty"`
	SuggestedFix string    `json:"suggestedFix,omitempty"`
	Fixable      bool      `json:"fixable"`
}

// Validation is the combined schema + base-constraint + risk result
// attached to a Proposal.
type Validation struct {
	IsValid        bool      `json:"isValid"`
	IsFixable      bool      `json:"isFixable"`
	Issues         []Issue   `json:"issues,omitempty"`
	RiskScore      int       `json:"riskScore"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	IsAcceptable   bool      `json:"isAcceptable"`
}

// Proposal is a draft Protocol awaiting approval.
type Proposal struct {
	ID           string             `json:"id"`
	Protocol     protocol.Protocol  `json:"protocol"`
	Source       Source             `json:"source"`
	Description  string             `json:"description,omitempty"`
	Rationale    string             `json:"rationale,omitempty"`
	Priority     int                `json:"priority"`
	SubmittedAt  time.Time          `json:"submittedAt"`
	SubmittedBy  string             `json:"submittedBy,omitempty"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	Status       Status             `json:"status"`
	Validation   Validation         `json:"validation"`
	ReviewedAt   *time.Time         `json:"reviewedAt,omitempty"`
	ReviewedBy   string             `json:"reviewedBy,omitempty"`
	ReviewReason string             `json:"reviewReason,omitempty"`
	Modifications map[string]string `json:"modifications,omitempty"`
}

const defaultExpiry = 7 * 24 * time.Hour
const defaultPriority = 50
