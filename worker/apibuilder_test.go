package worker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/feature"
)

func TestAPIPromptBuilderUsesDefaultSystemPromptWhenUnset(t *testing.T) {
	b := APIPromptBuilder{}
	argv, err := b.BuildArgv(feature.RoleImplementor, feature.Feature{ID: "f1"}, "do the thing")
	require.NoError(t, err)
	require.Len(t, argv, 2)
	require.Contains(t, argv[0], "implementor")
	require.Equal(t, "do the thing", argv[1])
}

func TestAPIPromptBuilderUsesConfiguredSystemPrompt(t *testing.T) {
	b := APIPromptBuilder{SystemPrompt: "custom instructions"}
	argv, err := b.BuildArgv(feature.RolePlannerA, feature.Feature{ID: "f1"}, "plan it")
	require.NoError(t, err)
	require.Equal(t, []string{"custom instructions", "plan it"}, argv)
}
