package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonsync/internal/journal"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/value"
)

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRun_MoveSafety(t *testing.T) {
	s := mustParse(t, `
name: move_safety
description: moves into a subtree or onto an ancestor do nothing
replicas: 2
initial: {a: {b: {}}}
steps:
  - {op: move, replica: r0, from: /a, path: /a/b/c, expect: noop}
  - {op: move, replica: r0, from: /a/b, path: /a, expect: noop}
  - {op: move, replica: r0, from: /a/b, path: /b, expect: applied}
  - {op: sync}
assertions:
  - {type: content, expect: {a: {}, b: {}}}
  - {type: converged}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 4)
	assert.Empty(t, result.Trace[0].Mark, "a no-op mints no mark")
	assert.Equal(t, "/a", result.Trace[0].From)
	assert.Equal(t, "0.0.0", result.Trace[2].Mark)
	assert.Equal(t, 1, result.Trace[3].Delivered, "only the applied move is broadcast")
}

func TestRun_AddReplaceDuality(t *testing.T) {
	s := mustParse(t, `
name: duality
description: add over a key replaces and replace of a missing key adds
replicas: 1
initial: {k: 1}
steps:
  - {op: add, replica: r0, path: /k, value: 2}
  - {op: replace, replica: r0, path: /fresh, value: true}
assertions:
  - {type: content, expect: {k: 2, fresh: true}}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "replace", result.Trace[0].Kind)
	assert.Equal(t, "add", result.Trace[1].Kind)
}

func TestRun_ErrorOutcomes(t *testing.T) {
	s := mustParse(t, `
name: errors
description: bad pointers and foreign chains are refused
replicas: 2
initial: {}
steps:
  - {op: add, replica: r0, path: no-slash, value: 1, expect: invalid_addressing}
  - {op: add, replica: r0, path: /a, value: 1, label: mine}
  - {op: sync}
  - {op: add, replica: r1, path: /b, value: 2, after: mine, expect: invalid_chain}
assertions:
  - {type: content, expect: {a: 1}}
  - {type: converged}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "invalid_addressing", result.Trace[0].Outcome)
	assert.Empty(t, result.Trace[0].Kind)
	assert.Equal(t, "invalid_chain", result.Trace[3].Outcome)
}

func TestRun_UnmetExpectationFails(t *testing.T) {
	s := mustParse(t, `
name: wrong_expectation
description: d
replicas: 1
initial: {}
steps:
  - {op: add, replica: r0, path: /a, value: 1, expect: noop}
  - {op: add, replica: r0, path: bad, value: 1}
assertions:
  - {type: converged}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "step 0: add /a on r0: expected noop, got applied")
	assert.Contains(t, result.Errors[1], "step 1")
}

func TestRun_ReversedDeliveryConverges(t *testing.T) {
	s := mustParse(t, `
name: reversed
description: a replace that arrives before its add is replayed once the add lands
replicas: 2
initial: {}
steps:
  - {op: add, replica: r0, path: /a, value: 1}
  - {op: replace, replica: r0, path: /a, value: 2}
  - {op: reverse, link: [r0, r1]}
  - {op: flush, link: [r0, r1]}
assertions:
  - {type: content, replica: r1, expect: {a: 2}}
  - {type: converged}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "1.0.0", result.Trace[1].Mark)
	assert.Equal(t, 2, result.Trace[3].Delivered)
}

func TestRun_PartitionAndHeal(t *testing.T) {
	s := mustParse(t, `
name: partition
description: sync holds messages across a partition until it heals
replicas: 2
initial: {}
steps:
  - {op: partition, link: [r0, r1]}
  - {op: add, replica: r0, path: /a, value: 1}
  - {op: sync}
  - {op: snapshot, replica: r1}
  - {op: heal, link: [r0, r1]}
  - {op: sync}
assertions:
  - {type: converged}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, 0, result.Trace[2].Delivered)
	assert.Equal(t, value.Object{}, result.Trace[3].Content)
	assert.Equal(t, 1, result.Trace[5].Delivered)
}

func TestRun_JoinCatchesUp(t *testing.T) {
	s := mustParse(t, `
name: late_join
description: a replica joining later receives what the others authored
replicas: 2
initial: {}
steps:
  - {op: add, replica: r0, path: /a, value: 1}
  - {op: add, replica: r1, path: /b, value: 2}
  - {op: sync}
  - {op: join, replica: r2}
  - {op: sync}
  - {op: add, replica: r2, path: /c, value: 3}
  - {op: sync}
assertions:
  - {type: content, replica: r2, expect: {a: 1, b: 2, c: 3}}
  - {type: history_length, count: 3}
  - {type: converged}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, 2, result.Trace[4].Delivered, "one catch-up message from each existing replica")
	assert.Equal(t, 2, result.Trace[6].Delivered)
	assert.Len(t, result.Content, 3)
}

func TestRun_SetupErrors(t *testing.T) {
	s := mustParse(t, `
name: ghost
description: d
replicas: 1
steps: [{op: add, replica: r9, path: /a, value: 1}]
assertions: [{type: converged}]
`)
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown replica "r9"`)

	s = mustParse(t, `
name: rejoin
description: d
replicas: 1
steps: [{op: join, replica: r0}]
assertions: [{type: converged}]
`)
	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRun_DefaultContentIsNull(t *testing.T) {
	s := mustParse(t, `
name: null_root
description: replicas without initial content start from null
replicas: 1
steps:
  - {op: add, replica: r0, path: "", value: [1]}
assertions:
  - {type: content, expect: [1]}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_JournalWithPrefix(t *testing.T) {
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s := mustParse(t, `
name: journaled
description: every replica journals under the prefixed name
replicas: 2
initial: {}
steps:
  - {op: add, replica: r0, path: /a, value: 1}
  - {op: add, replica: r1, path: /b, value: 2}
  - {op: sync}
assertions:
  - {type: converged}
`)
	result, err := Run(s,
		WithNamePrefix("journaled/"),
		WithReplicaOptions(replica.WithJournal(store)),
	)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "0.0.0", result.Trace[0].Mark)

	ctx := context.Background()
	recs, err := store.ReadReplicas(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "journaled/r0", recs[0].Name)
	assert.Equal(t, "journaled/r1", recs[1].Name)

	for _, order := range journal.Orders {
		replayed, err := store.Replay(ctx, "journaled/r1", order)
		require.NoError(t, err)
		assert.True(t, replayed.Match, "order %s", order)
		assert.Equal(t, 2, replayed.Ops)
	}
}
