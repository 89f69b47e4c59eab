package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	BaseProvider
	name string
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return true }
func (s *stubProvider) CreateMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	return &MessageResponse{Content: "ok"}, nil
}

func TestGetProviderConstructsOnceAndCaches(t *testing.T) {
	f := NewFactory()
	calls := 0
	f.Register("stub", func() (Provider, error) {
		calls++
		return &stubProvider{name: "stub"}, nil
	})

	p1, err := f.GetProvider("stub")
	require.NoError(t, err)
	p2, err := f.GetProvider("stub")
	require.NoError(t, err)

	require.Same(t, p1, p2)
	require.Equal(t, 1, calls)
}

func TestGetProviderUnknownNameErrors(t *testing.T) {
	f := NewFactory()
	_, err := f.GetProvider("nope")
	require.Error(t, err)
}

func TestGetProviderPropagatesConstructorError(t *testing.T) {
	f := NewFactory()
	f.Register("broken", func() (Provider, error) {
		return nil, errors.New("boom")
	})

	_, err := f.GetProvider("broken")
	require.Error(t, err)
}

func TestGetAllUsageAggregatesConstructedProviders(t *testing.T) {
	f := NewFactory()
	f.Register("stub", func() (Provider, error) { return &stubProvider{name: "stub"}, nil })
	p, err := f.GetProvider("stub")
	require.NoError(t, err)
	p.(*stubProvider).TrackUsage(10, 20)

	usage := f.GetAllUsage()
	require.Equal(t, int64(10), usage["stub"].InputTokens)

	f.ResetAllUsage()
	require.Equal(t, int64(0), f.GetAllUsage()["stub"].InputTokens)
}
