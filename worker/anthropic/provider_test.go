package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/worker/provider"
)

func TestNewWithoutAPIKeyIsUnavailable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	p, err := New()
	require.NoError(t, err)
	require.False(t, p.Available())
	require.Equal(t, "anthropic", p.Name())
}

func TestCreateMessageRejectsWhenUnavailable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	p, err := New()
	require.NoError(t, err)

	_, err = p.CreateMessage(context.Background(), &provider.MessageRequest{Messages: []provider.Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
}
