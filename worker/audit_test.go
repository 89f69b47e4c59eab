package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge9/swarmkit/feature"
)

func readEvents(t *testing.T, path string) []InteractionEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []InteractionEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev InteractionEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestFileInteractionLoggerAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.jsonl")
	logger, err := NewFileInteractionLogger(path, nil)
	require.NoError(t, err)

	logger.LogPromptSent("s1", "f1", "do the thing")
	logger.LogToolCall("s1", "f1", "edit", "foo.go")
	logger.LogError("s1", "f1", "boom")

	events := readEvents(t, path)
	require.Len(t, events, 3)
	require.Equal(t, "prompt_sent", events[0].Kind)
	require.Equal(t, "tool_call", events[1].Kind)
	require.Equal(t, "edit foo.go", events[1].Detail)
	require.Equal(t, "error", events[2].Kind)
}

func TestTruncateLeavesShortStringsUntouched(t *testing.T) {
	require.Equal(t, "short", truncate("short"))
}

func TestAuditingManagerLogsPromptOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.jsonl")
	fileLogger, err := NewFileInteractionLogger(path, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	adapter := newFakeAdapter()
	m := NewManager(adapter, &fakeBuilder{}, dir, nil)
	am := NewAuditingManager(m, fileLogger)

	f := feature.Feature{ID: "f1", Status: feature.StatusPending, Description: "do it"}
	_, err = am.StartWorker(context.Background(), f, nil, "", "")
	require.NoError(t, err)

	events := readEvents(t, path)
	require.Len(t, events, 1)
	require.Equal(t, "prompt_sent", events[0].Kind)
	require.Equal(t, "f1", events[0].FeatureID)
}

func TestAuditingManagerLogsErrorOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.jsonl")
	fileLogger, err := NewFileInteractionLogger(path, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	adapter := newFakeAdapter()
	m := NewManager(adapter, &fakeBuilder{}, dir, nil)
	am := NewAuditingManager(m, fileLogger)

	f := feature.Feature{ID: "f1", Status: feature.StatusInProgress}
	_, err = am.StartWorker(context.Background(), f, nil, "", "")
	require.Error(t, err)

	events := readEvents(t, path)
	require.Len(t, events, 1)
	require.Equal(t, "error", events[0].Kind)
}
