package infer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferCapabilities_StateReadWrite(t *testing.T) {
	src := []byte(`
		var n = $state.count;
		$state.count = n + 1;
	`)
	tokens := InferCapabilities(src)
	assert.Contains(t, tokens, "state:read:count")
	assert.Contains(t, tokens, "state:write:count")
}

func TestInferCapabilities_StateKeysNeedsWildcard(t *testing.T) {
	src := []byte(`var keys = $state.state_keys();`)
	tokens := InferCapabilities(src)
	assert.Contains(t, tokens, "state:read:*")
}

func TestInferCapabilities_EmitCall(t *testing.T) {
	src := []byte(`$emit("saved", {ok: true});`)
	tokens := InferCapabilities(src)
	assert.Contains(t, tokens, "events:emit:saved")
}

func TestInferCapabilities_ViewAndExtCalls(t *testing.T) {
	src := []byte(`
		$view.toolbar.highlight("x");
		$ext.http.get("https://example.com");
	`)
	tokens := InferCapabilities(src)
	assert.Contains(t, tokens, "view:update:toolbar")
	assert.Contains(t, tokens, "ext:http")
}

func TestInferCapabilities_Deduplicates(t *testing.T) {
	src := []byte(`
		$state.count;
		$state.count;
		$emit("x");
		$emit("x");
	`)
	tokens := InferCapabilities(src)

	seen := map[string]int{}
	for _, tok := range tokens {
		seen[tok]++
	}
	for tok, n := range seen {
		assert.Equal(t, 1, n, "token %q should appear once", tok)
	}
}

func TestInferCapabilities_NoHostCallsYieldsEmptySet(t *testing.T) {
	src := []byte(`var x = 1 + 2; return x;`)
	tokens := InferCapabilities(src)
	assert.Empty(t, tokens)
}

func TestInferCapabilities_SortedOutput(t *testing.T) {
	src := []byte(`
		$ext.http.get();
		$state.zzz;
		$emit("aaa");
	`)
	tokens := InferCapabilities(src)
	for i := 1; i < len(tokens); i++ {
		assert.LessOrEqual(t, tokens[i-1], tokens[i])
	}
}
