package worker

import "github.com/forge9/swarmkit/feature"

// APIPromptBuilder is the ArgvBuilder counterpart to APIAdapter: it returns
// the two-element [systemPrompt, userPrompt] pair APIAdapter.SpawnSession
// expects instead of a subprocess argv.
type APIPromptBuilder struct {
	// SystemPrompt is prefixed to every role; callers typically set this to
	// a fixed operating-instructions string for the whole session.
	SystemPrompt string
}

// BuildArgv implements ArgvBuilder.
func (b APIPromptBuilder) BuildArgv(role feature.WorkerRole, f feature.Feature, prompt string) ([]string, error) {
	system := b.SystemPrompt
	if system == "" {
		system = "You are a " + string(role) + " worker. Respond with your findings and nothing else."
	}
	return []string{system, prompt}, nil
}
