package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseHeartbeatEmptyTailIsUnknown(t *testing.T) {
	hb := ParseHeartbeat("", time.Now())
	require.Equal(t, LivenessUnknown, hb.Status)
	require.Zero(t, hb.LinesWritten)
}

func TestParseHeartbeatExtractsToolEvents(t *testing.T) {
	tail := "starting up\n##TOOL## edit foo.go\nworking...\n##TOOL## edit bar.go\n##TOOL## edit foo.go\n"

	hb := ParseHeartbeat(tail, time.Now().Add(-time.Minute))
	require.Equal(t, LivenessActive, hb.Status)
	require.Equal(t, "edit", hb.LastToolUsed)
	require.Equal(t, "foo.go", hb.LastFile)
	require.Equal(t, []string{"foo.go", "bar.go"}, hb.FilesModified)
	require.Greater(t, hb.LinesWritten, 0)
	require.Greater(t, hb.RunningFor, time.Duration(0))
}

func TestParseHeartbeatZeroStartedAtSkipsRunningFor(t *testing.T) {
	hb := ParseHeartbeat("some output\n", time.Time{})
	require.Zero(t, hb.RunningFor)
}
