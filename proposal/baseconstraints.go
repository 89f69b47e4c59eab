package proposal

// BaseConstraints is the fixed document proposal validation checks every
// incoming Protocol against. `validate` tags are checked with
// github.com/go-playground/validator/v10 as the schema-validation step
// that runs before the semantic base-constraint checks below.
type BaseConstraints struct {
	ProhibitedTools      []string `validate:"dive,required"`
	ProhibitedPaths      []string `validate:"dive,required"`
	ProhibitedOperations []string `validate:"dive,required"`
	MinSeverity          string   `validate:"oneof=error warning info"`
	RequireAudit         bool
	RetentionDays        int `validate:"gte=1"`
	AcceptanceThreshold  int `validate:"gte=0,lte=100"`
}

// DefaultBaseConstraints is the engine's built-in policy floor. Callers may
// load a project-specific override, but the core always validates against
// one BaseConstraints document.
func DefaultBaseConstraints() BaseConstraints {
	return BaseConstraints{
		ProhibitedTools:      []string{"rm", "format", "shutdown", "sudo"},
		ProhibitedPaths:      []string{"/etc/**", "/root/.ssh/**", "**/.git/**"},
		ProhibitedOperations: []string{"delete_all", "force_push", "drop_database"},
		MinSeverity:          "warning",
		RequireAudit:         true,
		RetentionDays:        90,
		AcceptanceThreshold:  70,
	}
}
