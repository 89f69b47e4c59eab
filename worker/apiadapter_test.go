package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/worker/provider"
)

type fakeProvider struct {
	provider.BaseProvider
	available bool
	response  *provider.MessageResponse
	err       error
}

func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Available() bool { return p.available }
func (p *fakeProvider) CreateMessage(ctx context.Context, req *provider.MessageRequest) (*provider.MessageResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.response, nil
}

func TestAPIAdapterSpawnSessionRejectsShortArgv(t *testing.T) {
	a := NewAPIAdapter(&fakeProvider{available: true}, t.TempDir(), nil)

	err := a.SpawnSession(context.Background(), "s1", "", []string{"only one"})
	require.Error(t, err)
}

func TestAPIAdapterSpawnSessionRejectsUnavailableProvider(t *testing.T) {
	a := NewAPIAdapter(&fakeProvider{available: false}, t.TempDir(), nil)

	err := a.SpawnSession(context.Background(), "s1", "", []string{"sys", "user"})
	require.Error(t, err)
}

func TestAPIAdapterSpawnSessionWritesDoneFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	a := NewAPIAdapter(&fakeProvider{available: true, response: &provider.MessageResponse{Content: "the answer"}}, dir, nil)

	require.NoError(t, a.SpawnSession(context.Background(), "s1", "", []string{"sys", "user"}))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "s1.done"))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	out, err := a.Capture(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Contains(t, out, "the answer")
}

func TestAPIAdapterSessionExistsFalseAfterCompletion(t *testing.T) {
	dir := t.TempDir()
	a := NewAPIAdapter(&fakeProvider{available: true, response: &provider.MessageResponse{Content: "done"}}, dir, nil)

	require.NoError(t, a.SpawnSession(context.Background(), "s1", "", []string{"sys", "user"}))

	require.Eventually(t, func() bool {
		exists, err := a.SessionExists(context.Background(), "s1")
		return err == nil && !exists
	}, time.Second, 5*time.Millisecond)
}

func TestAPIAdapterSendKeysUnsupported(t *testing.T) {
	a := NewAPIAdapter(&fakeProvider{available: true}, t.TempDir(), nil)
	err := a.SendKeys(context.Background(), "s1", "hello", true)
	require.Error(t, err)
}
