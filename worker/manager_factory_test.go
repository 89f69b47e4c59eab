package worker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveModeHonorsExplicitMode(t *testing.T) {
	f := NewManagerFactory(Config{Mode: ModeCLI})
	require.Equal(t, ModeCLI, f.ResolveMode())
}

func TestResolveModeAutoWithoutAPIKeyFallsBackToCLI(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	f := NewManagerFactory(Config{Mode: ModeAuto})
	require.Equal(t, ModeCLI, f.ResolveMode())
}

func TestResolveModeAutoWithAPIKeyPrefersAPI(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	f := NewManagerFactory(Config{Mode: ModeAuto})
	require.Equal(t, ModeAPI, f.ResolveMode())
}

func TestCreateManagerAPIModeRequiresProvider(t *testing.T) {
	f := NewManagerFactory(Config{Mode: ModeAPI, WorkersDir: t.TempDir()})
	_, _, err := f.CreateManager()
	require.Error(t, err)
}

func TestCreateManagerAPIModeSucceedsWithProvider(t *testing.T) {
	f := NewManagerFactory(Config{Mode: ModeAPI, WorkersDir: t.TempDir(), APIProvider: &fakeProvider{available: true}})
	m, mode, err := f.CreateManager()
	require.NoError(t, err)
	require.Equal(t, ModeAPI, mode)
	require.NotNil(t, m)
}

func TestCreateManagerCLIModeRequiresBuilder(t *testing.T) {
	f := NewManagerFactory(Config{Mode: ModeCLI, WorkersDir: t.TempDir()})
	_, _, err := f.CreateManager()
	require.Error(t, err)
}
