// Package protocol implements the protocol governance subsystem: a
// registry of typed constraint rules, per-type evaluators and a
// dependency resolver, and a pre/post-execution enforcement pipeline.
// Its persistence and audit idioms follow feature.Store's atomic-rename
// discipline and an audit-on-every-mutation convention.
package protocol

import "time"

// Severity is shared by Constraint and Violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ConstraintType discriminates the seven constraint kinds.
type ConstraintType string

const (
	ConstraintToolRestriction ConstraintType = "tool_restriction"
	ConstraintFileAccess      ConstraintType = "file_access"
	ConstraintOutputFormat    ConstraintType = "output_format"
	ConstraintBehavioral      ConstraintType = "behavioral"
	ConstraintTemporal        ConstraintType = "temporal"
	ConstraintResource        ConstraintType = "resource"
	ConstraintSideEffect      ConstraintType = "side_effect"
)

// EnforcementMode controls whether a strict-mode error blocks an operation.
type EnforcementMode string

const (
	ModeStrict     EnforcementMode = "strict"
	ModePermissive EnforcementMode = "permissive"
	ModeAudit      EnforcementMode = "audit"
	ModeLearning   EnforcementMode = "learning"
)

// ViolationAction is what an enforcement config does when a violation occurs.
type ViolationAction string

const (
	OnViolationBlock    ViolationAction = "block"
	OnViolationWarn     ViolationAction = "warn"
	OnViolationLog      ViolationAction = "log"
	OnViolationNotify   ViolationAction = "notify"
	OnViolationRollback ViolationAction = "rollback"
)

// SuggestedAction is returned alongside a blocked/errored evaluation result.
type SuggestedAction string

const (
	ActionAbort    SuggestedAction = "abort"
	ActionRetry    SuggestedAction = "retry"
	ActionOverride SuggestedAction = "override"
	ActionContinue SuggestedAction = "continue"
)

// AuditAction enumerates the registry mutations that emit an AuditEntry.
type AuditAction string

const (
	AuditRegister          AuditAction = "register"
	AuditActivate          AuditAction = "activate"
	AuditDeactivate        AuditAction = "deactivate"
	AuditUpdate            AuditAction = "update"
	AuditDelete            AuditAction = "delete"
	AuditViolation         AuditAction = "violation"
	AuditResolveViolation  AuditAction = "resolve_violation"
)

// ApplicableContext is the set of patterns gating whether a Protocol applies
// to a given operation (spec glossary: "applicable context").
type ApplicableContext struct {
	FeatureIDPatterns []string `json:"featureIdPatterns,omitempty"`
	FilePatterns      []string `json:"filePatterns,omitempty"`
	ProjectPatterns   []string `json:"projectPatterns,omitempty"`
	TaskPatterns      []string `json:"taskPatterns,omitempty"`
	Environments      []string `json:"environments,omitempty"`
}

// EnforcementConfig is a Protocol's enforcement behavior.
type EnforcementConfig struct {
	Mode                     EnforcementMode `json:"mode"`
	OnViolation              ViolationAction `json:"onViolation"`
	PreExecutionValidation   bool            `json:"preExecutionValidation"`
	PostExecutionValidation  bool            `json:"postExecutionValidation"`
	MaxRetries               int             `json:"maxRetries"`
	RetryDelaySeconds        int             `json:"retryDelaySeconds"`
	LogLevel                 string          `json:"logLevel,omitempty"`
	AllowOverride            bool            `json:"allowOverride"`
	OverrideRequiresApproval bool            `json:"overrideRequiresApproval"`
	OverrideApprovers        []string        `json:"overrideApprovers,omitempty"`
}

// ToolRestrictionRule is the tool_restriction constraint's typed rule.
// ToolPatterns entries prefixed "!" are deny-patterns; unprefixed entries
// are allow-patterns.
type ToolRestrictionRule struct {
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DeniedTools     []string `json:"deniedTools,omitempty"`
	ToolPatterns    []string `json:"toolPatterns,omitempty"`
	RequireApproval []string `json:"requireApproval,omitempty"`
}

// FileAccessRule is the file_access constraint's typed rule.
type FileAccessRule struct {
	DeniedPaths       []string `json:"deniedPaths,omitempty"`
	DeniedExtensions  []string `json:"deniedExtensions,omitempty"`
	AllowedPaths      []string `json:"allowedPaths,omitempty"`
	AllowedExtensions []string `json:"allowedExtensions,omitempty"`
	ReadOnlyPaths     []string `json:"readOnlyPaths,omitempty"`
	WriteOnlyPaths    []string `json:"writeOnlyPaths,omitempty"`
	MaxFileSize       int64    `json:"maxFileSize,omitempty"`
}

// OutputFormatRule is the output_format constraint's typed rule.
type OutputFormatRule struct {
	MaxLength         int      `json:"maxLength,omitempty"`
	Format            string   `json:"format,omitempty"`
	RequiredFields    []string `json:"requiredFields,omitempty"`
	ForbiddenPatterns []string `json:"forbiddenPatterns,omitempty"`
	RequiredPatterns  []string `json:"requiredPatterns,omitempty"`
	JSONSchemaShape   bool     `json:"jsonSchemaShape,omitempty"`
}

// BehavioralRule is the behavioral constraint's typed rule. When RegoPolicy
// is set, evaluator.go defers to rego.go; otherwise the keyword lists below
// are used directly as a fallback.
type BehavioralRule struct {
	RegoPolicy      string   `json:"regoPolicy,omitempty"`
	DeniedKeywords  []string `json:"deniedKeywords,omitempty"`
	AllowedKeywords []string `json:"allowedKeywords,omitempty"`
}

// TemporalRule is the temporal constraint's typed rule.
type TemporalRule struct {
	RateLimitPerMinute int            `json:"rateLimitPerMinute,omitempty"`
	RateLimitPerHour   int            `json:"rateLimitPerHour,omitempty"`
	CooldownSeconds    int            `json:"cooldownSeconds,omitempty"`
	ValidFrom          *time.Time     `json:"validFrom,omitempty"`
	ValidUntil         *time.Time     `json:"validUntil,omitempty"`
	AllowedHours       []int          `json:"allowedHours,omitempty"`
	AllowedDays        []time.Weekday `json:"allowedDays,omitempty"`
}

// ResourceRule is the resource constraint's typed rule.
type ResourceRule struct {
	MaxConcurrency int `json:"maxConcurrency,omitempty"`
	MaxMemoryMB    int `json:"maxMemoryMB,omitempty"`
	MaxCPUPercent  int `json:"maxCPUPercent,omitempty"`
}

// TemporalState is the call-history a TemporalRule's rate-limit and
// cooldown caps are checked against. The Enforcer keeps one bucket per
// (protocolId, constraintId, subject) across calls; CallsThisMinute and
// CallsThisHour count calls already made in the current window, before the
// call being evaluated.
type TemporalState struct {
	CallsThisMinute int
	CallsThisHour   int
	LastCall        time.Time
}

// ResourceState is the live resource usage a ResourceRule's caps are
// checked against. A zero value leaves every cap passing open, since the
// caller had no measurement to report.
type ResourceState struct {
	ActiveConcurrency int
	MemoryMB          int
	CPUPercent        int
}

// SideEffectRule is the side_effect constraint's typed rule.
type SideEffectRule struct {
	AllowedHosts    []string `json:"allowedHosts,omitempty"`
	AllowedCommands []string `json:"allowedCommands,omitempty"`
	DeniedCommands  []string `json:"deniedCommands,omitempty"`
	NetworkAllowed  bool     `json:"networkAllowed"`
}

// Constraint is a discriminated union over the seven kinds above: exactly
// one of the typed-rule fields matching Type is populated, letting the
// evaluator dispatch once on Type.
type Constraint struct {
	ID         string          `json:"id"`
	Type       ConstraintType  `json:"type"`
	Severity   Severity        `json:"severity"`
	Message    string          `json:"message"`
	Enabled    bool            `json:"enabled"`
	Conditions *ApplicableContext `json:"conditions,omitempty"`

	ToolRestriction *ToolRestrictionRule `json:"toolRestriction,omitempty"`
	FileAccess      *FileAccessRule      `json:"fileAccess,omitempty"`
	OutputFormat    *OutputFormatRule    `json:"outputFormat,omitempty"`
	Behavioral      *BehavioralRule      `json:"behavioral,omitempty"`
	Temporal        *TemporalRule        `json:"temporal,omitempty"`
	Resource        *ResourceRule        `json:"resource,omitempty"`
	SideEffect      *SideEffectRule      `json:"sideEffect,omitempty"`
}

// Protocol is a versioned, priority-ordered bundle of constraints.
type Protocol struct {
	ID                 string            `json:"id"`
	Version            string            `json:"version"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	Extends            []string          `json:"extends,omitempty"`
	Requires           []string          `json:"requires,omitempty"`
	Conflicts          []string          `json:"conflicts,omitempty"`
	Constraints        []Constraint      `json:"constraints"`
	Enforcement        EnforcementConfig `json:"enforcement"`
	ApplicableContexts ApplicableContext `json:"applicableContexts"`
	Priority           int               `json:"priority"`
	Tags               []string          `json:"tags,omitempty"`
	Enabled            bool              `json:"enabled"`
	Deprecated         bool              `json:"deprecated"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          *time.Time        `json:"updatedAt,omitempty"`
}

// Violation is a recorded failure of one constraint against a context.
type Violation struct {
	ID           string     `json:"id"`
	ProtocolID   string     `json:"protocolId"`
	ConstraintID string     `json:"constraintId"`
	FeatureID    string     `json:"featureId,omitempty"`
	WorkerID     string     `json:"workerId,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	Context      string     `json:"context,omitempty"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
	Resolution   string     `json:"resolution,omitempty"`
}

// AuditEntry records one registry mutation.
type AuditEntry struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Action     AuditAction `json:"action"`
	ProtocolID string      `json:"protocolId,omitempty"`
	Details    string      `json:"details,omitempty"`
	Actor      string      `json:"actor,omitempty"`
}

// EvalContext is the operation context every evaluator and the enforcement
// pipeline matches protocols and constraints against.
type EvalContext struct {
	FeatureID     string
	WorkerID      string
	ProjectDir    string
	Task          string
	Environment   string
	Files         []string
	ToolName      string
	FilePath      string
	FileOperation string // "read" | "write"
	FileSize      int64
	Output        string
	Timestamp     time.Time

	// Temporal is the call-history bucket the Enforcer threads in for the
	// constraint currently being evaluated; nil when no bookkeeping applies
	// (e.g. direct calls to EvaluateConstraint in tests).
	Temporal *TemporalState
	// Resource is the live resource usage the caller supplies for Resource
	// constraint checks.
	Resource ResourceState
}

// ConstraintResult is the outcome of one constraint evaluation.
type ConstraintResult struct {
	Passed bool
	Reason string
}

// ValidationOutcome is returned by validatePreExecution/validatePostExecution.
type ValidationOutcome struct {
	Allowed          bool            `json:"allowed"`
	AppliedProtocols []string        `json:"appliedProtocols"`
	Violations       []Violation     `json:"violations"`
	Warnings         []string        `json:"warnings"`
	EvaluationTimeMs int64           `json:"evaluationTimeMs"`
	SuggestedAction  SuggestedAction `json:"suggestedAction"`
}
