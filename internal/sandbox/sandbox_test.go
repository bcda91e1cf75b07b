package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WorlesEnric/Nexus-sub001/internal/cache"
	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
	"github.com/WorlesEnric/Nexus-sub001/internal/value"
)

func testConfig() Config {
	return Config{MemoryLimitBytes: 16 << 20, StackSizeBytes: 256 << 10}
}

func compile(t *testing.T, src string) *cache.Artifact {
	t.Helper()
	c, err := cache.New(1<<20, "", 0, logging.NewDefault())
	require.NoError(t, err)
	artifact, _, _, err := c.GetOrCompile("handler", []byte(src))
	require.NoError(t, err)
	return artifact
}

func TestExecute_S1_CounterIncrement(t *testing.T) {
	inst, err := New(testConfig(), logging.NewDefault())
	require.NoError(t, err)

	artifact := compile(t, `$state.count = ($state.count ?? 0) + $args.by;`)
	ctx := domain.ExecutionContext{
		StateSnapshot:       value.Map{"count": int64(5)},
		Args:                value.Map{"by": int64(3)},
		GrantedCapabilities: capability.NewSet([]string{"state:read:count", "state:write:count"}),
	}

	res, err := inst.Execute(artifact, ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, res.Status)
	require.Len(t, res.StateMutations, 1)
	assert.Equal(t, "count", res.StateMutations[0].Key)
	assert.Equal(t, int64(8), res.StateMutations[0].NewValue)
	assert.Empty(t, res.EmittedEvents)
	assert.Empty(t, res.ViewCommands)
}

func TestExecute_S2_CapabilityDenied(t *testing.T) {
	inst, err := New(testConfig(), logging.NewDefault())
	require.NoError(t, err)

	artifact := compile(t, `$state.secret = 1;`)
	ctx := domain.ExecutionContext{
		StateSnapshot:       value.Map{},
		GrantedCapabilities: capability.NewSet([]string{"state:read:*"}),
	}

	res, err := inst.Execute(artifact, ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, errs.CapabilityDenied, res.Error.Code)
	assert.Equal(t, "state:write:secret", res.Error.Token)
	assert.Empty(t, res.StateMutations)
}

func TestExecute_S3_EmitMutateReturn(t *testing.T) {
	inst, err := New(testConfig(), logging.NewDefault())
	require.NoError(t, err)

	artifact := compile(t, `$state.seen = true; $emit("ping", {n: $args.n}); return $args.n * 2;`)
	ctx := domain.ExecutionContext{
		StateSnapshot:       value.Map{},
		Args:                value.Map{"n": int64(21)},
		GrantedCapabilities: capability.NewSet([]string{"state:write:seen", "events:emit:ping"}),
	}

	res, err := inst.Execute(artifact, ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, res.Status)
	require.Len(t, res.StateMutations, 1)
	assert.Equal(t, "seen", res.StateMutations[0].Key)
	assert.Equal(t, true, res.StateMutations[0].NewValue)
	require.Len(t, res.EmittedEvents, 1)
	assert.Equal(t, "ping", res.EmittedEvents[0].Name)
	assert.Equal(t, int64(42), res.ReturnValue)
}

func TestExecute_S4_SuspensionAndResume(t *testing.T) {
	inst, err := New(testConfig(), logging.NewDefault())
	require.NoError(t, err)

	artifact := compile(t, `const r = $ext.http.get("https://x"); return r.status;`)
	ctx := domain.ExecutionContext{
		StateSnapshot:       value.Map{},
		GrantedCapabilities: capability.NewSet([]string{"ext:http"}),
		ExtensionRegistry:   map[domain.ExtensionKey]bool{{Extension: "http", Method: "get"}: true},
	}

	res, err := inst.Execute(artifact, ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuspended, res.Status)
	require.NotNil(t, res.Suspension)
	assert.Equal(t, "http", res.Suspension.Extension)
	assert.Equal(t, "get", res.Suspension.Method)
	assert.Empty(t, res.StateMutations)
	assert.Empty(t, res.EmittedEvents)

	resumeResult := domain.AsyncResult{Success: true, Value: value.Map{"status": int64(200)}}
	res2, err := inst.Resume(resumeResult, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, res2.Status)
	assert.Equal(t, int64(200), res2.ReturnValue)

	// The instance is back in StateIdle after a successful resume; a direct
	// second Resume call against it is rejected at the state-machine level,
	// mirroring the unknown_suspension outcome a pool-backed caller would see
	// from a second resume_handler against the same suspension_id.
	_, err = inst.Resume(resumeResult, time.Second)
	assert.Error(t, err)
}

func TestExecute_S5_Timeout(t *testing.T) {
	inst, err := New(testConfig(), logging.NewDefault())
	require.NoError(t, err)

	artifact := compile(t, `while (true) {}`)
	ctx := domain.ExecutionContext{StateSnapshot: value.Map{}}

	start := time.Now()
	res, err := inst.Execute(artifact, ctx, 50*time.Millisecond)
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.Equal(t, domain.StatusError, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, errs.Timeout, res.Error.Code)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, StateTerminated, inst.State())
}

func TestReset_ClearsStateForNextExecution(t *testing.T) {
	inst, err := New(testConfig(), logging.NewDefault())
	require.NoError(t, err)

	ctx := domain.ExecutionContext{
		StateSnapshot:       value.Map{},
		GrantedCapabilities: capability.NewSet([]string{"state:write:x"}),
	}
	artifact1 := compile(t, `$state.x = 1;`)
	res, err := inst.Execute(artifact1, ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, res.Status)

	require.NoError(t, inst.Reset())
	assert.Equal(t, StateIdle, inst.State())

	artifact2 := compile(t, `$state.x = 2;`)
	res2, err := inst.Execute(artifact2, ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, res2.StateMutations, 1, "reset must not leak the prior cycle's accumulator")
}

func TestHardenGlobals_EvalAndFunctionDisabled(t *testing.T) {
	inst, err := New(testConfig(), logging.NewDefault())
	require.NoError(t, err)

	artifact := compile(t, `
		var result = { hasEval: typeof eval !== "undefined" };
		try { Function("return 1"); result.functionWorked = true; } catch (e) { result.functionWorked = false; }
		return result;
	`)
	ctx := domain.ExecutionContext{StateSnapshot: value.Map{}}
	res, err := inst.Execute(artifact, ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, res.Status)

	m, ok := res.ReturnValue.(value.Map)
	require.True(t, ok)
	assert.Equal(t, false, m["hasEval"])
	assert.Equal(t, false, m["functionWorked"])
}
