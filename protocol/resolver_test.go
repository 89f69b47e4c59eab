package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveChainOrdering(t *testing.T) {
	protocols := []Protocol{
		{ID: "base"},
		{ID: "mid", Extends: []string{"base"}},
		{ID: "top", Requires: []string{"mid"}},
	}
	r := NewResolver(protocols)
	chain := r.ResolveChain("top")
	require.Equal(t, []string{"base", "mid"}, chain)
}

func TestResolveChainBreaksCyclesSilently(t *testing.T) {
	protocols := []Protocol{
		{ID: "a", Requires: []string{"b"}},
		{ID: "b", Requires: []string{"a"}},
	}
	r := NewResolver(protocols)
	require.NotPanics(t, func() {
		r.ResolveChain("a")
	})
}

func TestGetDependents(t *testing.T) {
	protocols := []Protocol{
		{ID: "base"},
		{ID: "child", Extends: []string{"base"}},
	}
	r := NewResolver(protocols)
	require.Equal(t, []string{"child"}, r.GetDependents("base"))
}

func TestOrderForRegistrationDependenciesFirst(t *testing.T) {
	protocols := []Protocol{
		{ID: "top", Requires: []string{"mid"}},
		{ID: "mid", Extends: []string{"base"}},
		{ID: "base"},
	}
	ordered := OrderForRegistration(protocols)
	index := make(map[string]int, len(ordered))
	for i, p := range ordered {
		index[p.ID] = i
	}
	require.Less(t, index["base"], index["mid"])
	require.Less(t, index["mid"], index["top"])
}
