package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonsync/internal/journal"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/value"
)

// journaledRun simulates hello_world into a fresh journal and returns
// its path.
func journaledRun(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	out, err := executeRoot(t, "simulate", scenariosDir, "--filter", "hello_world", "--journal", dbPath)
	require.NoError(t, err, out)
	return dbPath
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := executeRoot(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := journal.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeRoot(t, "replay", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No replicas found")
}

func TestReplaySimulatedRun(t *testing.T) {
	dbPath := journaledRun(t)

	out, err := executeRoot(t, "replay", "--db", dbPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Replay Summary: 2 replica(s)")
	assert.Contains(t, out, "✓ Replica: hello_world/r0 (1 ops)")
	assert.Contains(t, out, "✓ Replica: hello_world/r1 (1 ops)")
	assert.Contains(t, out, "✓ All replicas converged")
}

func TestReplayJSON(t *testing.T) {
	dbPath := journaledRun(t)

	out, err := executeRoot(t, "--format", "json", "replay", "--db", dbPath, "--replica", "hello_world/r1")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Replicas, 1)
	rr := resp.Data.Replicas[0]
	assert.True(t, rr.Converged)
	require.Len(t, rr.Orders, 3)
	for _, o := range rr.Orders {
		assert.Equal(t, rr.Recorded, o.Digest, o.Order)
	}
}

func TestReplaySingleOrder(t *testing.T) {
	dbPath := journaledRun(t)

	out, err := executeRoot(t, "replay", "--db", dbPath, "--order", "reverse")
	require.NoError(t, err)
	assert.Contains(t, out, "reverse")
	assert.NotContains(t, out, "arrival")

	_, err = executeRoot(t, "replay", "--db", dbPath, "--order", "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayUnknownReplica(t *testing.T) {
	dbPath := journaledRun(t)

	_, err := executeRoot(t, "replay", "--db", dbPath, "--replica", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayDetectsDivergence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	st, err := journal.Open(dbPath)
	require.NoError(t, err)

	r, err := replica.New(nil, replica.WithMachine(1), replica.WithName("solo"),
		replica.WithValue(value.Object{}), replica.WithJournal(st))
	require.NoError(t, err)
	_, _, err = r.Add("/a", value.Number(1))
	require.NoError(t, err)

	// a digest no replay can reach
	require.NoError(t, st.SaveDigest(context.Background(), "solo", "bogus", 1))
	require.NoError(t, st.Close())

	out, err := executeRoot(t, "replay", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Replica: solo")
	assert.Contains(t, out, "✗ Convergence verification failed")
}

func TestReplayNonExistentDirectory(t *testing.T) {
	_, err := executeRoot(t, "replay", "--db", filepath.Join(t.TempDir(), "missing", "journal.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
