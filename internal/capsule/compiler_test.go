package capsule

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/surface"
	"github.com/hpungsan/strata/internal/value"
)

func mustParse(t *testing.T, s string) value.Value {
	t.Helper()
	v, err := value.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func newSessionStore(t *testing.T) *surface.Store {
	t.Helper()
	s := surface.New(t.TempDir(), nil)
	require.NoError(t, s.CreateSession(context.Background(), "s1"))
	return s
}

type failingReader struct{}

func (failingReader) Read(context.Context, string, surface.Kind) (value.Value, error) {
	return value.Value{}, stderrors.New("disk gone")
}

func TestMarkerFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"capsule.head.framing", "FRAMING"},
		{"capsule.head.selectedTopics", "TOPICS"},
		{"capsule.body.recentTurns", "RECENT"},
		{"trace.llm1Output", "ANALYSIS"},
		{"trace.llm2Output", "RESPONSE"},
		{"digr", "DIGR"},
		{"intuition-outline", "INTUITION"},
		{"session-state", "STATE"},
		{"digr.decisions", "DECISIONS"},
		{"capsule.tail", "TAIL"},
		{"some-thing", "SOME_THING"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MarkerFor(tt.path), tt.path)
	}
}

func TestResolveVariable_NeverFails(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)
	_, err := store.Write(ctx, "s1", surface.KindTrace, mustParse(t, `{"llm1Output":"analysis","nested":"flat"}`))
	require.NoError(t, err)
	c := NewCompiler(store)

	got := c.ResolveVariable(ctx, "s1", "trace.llm1Output")
	assert.Equal(t, "analysis", got.Content.Text())
	assert.Equal(t, "ANALYSIS", got.Marker)

	for _, path := range []string{
		"unknown.field",
		"trace.missing",
		"trace.nested.deeper",
		"trace..x",
		"",
	} {
		rv := c.ResolveVariable(ctx, "s1", path)
		assert.True(t, rv.Content.IsNull(), "path %q should resolve to null", path)
	}

	rv := NewCompiler(failingReader{}).ResolveVariable(ctx, "s1", "digr")
	assert.True(t, rv.Content.IsNull())
}

func TestResolveVariable_WholeSurface(t *testing.T) {
	ctx := context.Background()
	c := NewCompiler(newSessionStore(t))

	rv := c.ResolveVariable(ctx, "s1", "session-state")
	assert.Equal(t, "STATE", rv.Marker)
	assert.True(t, rv.Content.IsObject())
}

func TestFormatContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"null", `null`, "(empty)"},
		{"string", `"plain"`, "plain"},
		{"number", `42`, "42"},
		{"bool", `false`, "false"},
		{"empty array", `[]`, "(none)"},
		{"empty object", `{}`, "(none)"},
		{"scalar items", `["a", 2]`, "- a\n- 2"},
		{"turn items", `[{"turnId":"t1","userInput":"hi"},{"turnId":"t2","userInput":"bye"}]`, "- Turn t1: hi\n- Turn t2: bye"},
		{"content items", `[{"content":"x","weight":1}]`, "- x"},
		{"other object items", `[{"a":1,"b":"two"}]`, "- a: 1, b: two"},
		{"flat object", `{"lastTurnId":"t9","turnCount":3}`, "Last Turn Id: t9\nTurn Count: 3"},
		{
			"nested object",
			`{"head":{"framing":"terse","selectedTopics":["go","sse"]},"note":null,"tags":[]}`,
			"Head:\n  Framing: terse\n  Selected Topics:\n    - go\n    - sse\nNote: (empty)\nTags: (none)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatContent(mustParse(t, tt.input)))
		})
	}
}

func TestAssembleCapsule(t *testing.T) {
	vars := []ResolvedVariable{
		{Path: "capsule.head.framing", Marker: "FRAMING", Content: value.String("be brief")},
		{Path: "digr.goals", Marker: "GOALS", Content: value.Array()},
	}

	got := AssembleCapsule(vars, "what next?")
	want := "[FRAMING: capsule.head.framing]\nbe brief\n\n[GOALS: digr.goals]\n(none)\n\n[USER]\nwhat next?"
	assert.Equal(t, want, got)

	assert.NotContains(t, AssembleCapsule(vars, ""), "[USER]")
}

func TestCompileCapsule_OrderAndUser(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)
	_, err := store.Write(ctx, "s1", surface.KindCapsule, mustParse(t, `{"head":{"framing":"terse"}}`))
	require.NoError(t, err)
	c := NewCompiler(store)

	got, err := c.CompileCapsule(ctx, "s1", []string{"trace.llm2Output", "capsule.head.framing", "nope.x"}, "hello")
	require.NoError(t, err)

	want := "[RESPONSE: trace.llm2Output]\n\n\n[FRAMING: capsule.head.framing]\nterse\n\n[X: nope.x]\n(empty)\n\n[USER]\nhello"
	assert.Equal(t, want, got.Text)
	require.Len(t, got.Variables, 3)
	assert.Equal(t, "trace.llm2Output", got.Variables[0].Path)
	assert.Equal(t, CountChars(got.Text), got.Chars)
	assert.Equal(t, EstimateTokens(got.Text), got.TokensEstimate)
}

func TestCompileCapsule_Errors(t *testing.T) {
	c := NewCompiler(newSessionStore(t))

	_, err := c.CompileCapsule(context.Background(), "s1", nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = c.CompileCapsule(context.Background(), "s1", []string{"digr", " "}, "")
	assert.True(t, errors.Is(err, errors.ErrCapsuleAssembly))
}

func TestCompileCapsule_WarnsOverThreshold(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := newSessionStore(t)
	c := NewCompiler(store, WithWarnTokens(1), WithLogger(zap.New(core)))

	got, err := c.CompileCapsule(context.Background(), "s1", []string{"capsule"}, "a few words of input")
	require.NoError(t, err)
	assert.Contains(t, got.Text, "[USER]\na few words of input", "capsule is never truncated")
	assert.Equal(t, 1, logs.FilterMessage("capsule exceeds token warning threshold").Len())
}
