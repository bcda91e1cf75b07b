package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidGrammar(t *testing.T) {
	tok, err := Parse("state:read:count")
	require.NoError(t, err)
	assert.Equal(t, DomainState, tok.Domain)
	assert.Equal(t, ActionRead, tok.Action)
	assert.Equal(t, "count", tok.Scope)

	tok2, err := Parse("events:emit")
	require.NoError(t, err)
	assert.Equal(t, DomainEvent, tok2.Domain)
	assert.Equal(t, "", tok2.Scope)
}

func TestParse_Aliases(t *testing.T) {
	tok, err := Parse("event:emit:x")
	require.NoError(t, err)
	assert.Equal(t, DomainEvent, tok.Domain)

	tok2, err := Parse("extension:http")
	require.NoError(t, err)
	assert.Equal(t, DomainExt, tok2.Domain)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("nodomain")
	assert.Error(t, err)

	_, err = Parse("bogus:read")
	assert.Error(t, err)

	_, err = Parse("state:bogus")
	assert.Error(t, err)
}

func TestToken_String_RoundTrip(t *testing.T) {
	tok := MustParse("view:update:toolbar")
	assert.Equal(t, "view:update:toolbar", tok.String())

	tok2 := MustParse("events:emit")
	assert.Equal(t, "events:emit", tok2.String())
}

func TestToken_Grants(t *testing.T) {
	cases := []struct {
		name     string
		granted  string
		required string
		want     bool
	}{
		{"exact match", "state:read:count", "state:read:count", true},
		{"different scope", "state:read:count", "state:read:other", false},
		{"wildcard scope", "state:read:*", "state:read:anything", true},
		{"no scope on grant covers any scope", "state:read", "state:read:count", true},
		{"wildcard action", "state:*", "state:write:count", true},
		{"different domain", "state:read:count", "events:emit:count", false},
		{"different action", "state:read:count", "state:write:count", false},
		{"ext exact", "ext:http", "ext:http", true},
		{"ext wildcard", "ext:*", "ext:anything", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			granted := MustParse(tc.granted)
			required := MustParse(tc.required)
			assert.Equal(t, tc.want, granted.Grants(required))
		})
	}
}

func TestChecker_Check(t *testing.T) {
	set := NewSet([]string{"state:read:count", "events:emit:saved", "ext:http"})
	checker := NewChecker(set)

	assert.True(t, checker.CanReadState("count"))
	assert.False(t, checker.CanWriteState("count"))
	assert.True(t, checker.CanEmitEvent("saved"))
	assert.False(t, checker.CanEmitEvent("other"))
	assert.True(t, checker.CanAccessExtension("http"))
	assert.False(t, checker.CanAccessExtension("websocket"))
}

func TestChecker_NilIsDenyAll(t *testing.T) {
	var checker *Checker
	assert.False(t, checker.CanReadState("anything"))
}

func TestChecker_StateKeysRequiresWildcardGrant(t *testing.T) {
	narrow := NewChecker(NewSet([]string{"state:read:count"}))
	assert.False(t, narrow.CanListStateKeys())

	wide := NewChecker(NewSet([]string{"state:read:*"}))
	assert.True(t, wide.CanListStateKeys())
}

func TestNewSet_DropsMalformedTokens(t *testing.T) {
	set := NewSet([]string{"state:read:count", "not-a-token", ""})
	checker := NewChecker(set)
	assert.True(t, checker.CanReadState("count"))
}

func TestParseStrict_FailsOnMalformed(t *testing.T) {
	_, err := ParseStrict([]string{"state:read:count", "garbage"})
	assert.Error(t, err)
}
