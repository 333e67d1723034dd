package parser

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/stream"
)

func str(s string) *string { return &s }

func comp(id, name string, props map[string]any) ComponentDelta {
	c := ComponentDelta{Props: props}
	if id != "" {
		c.ID = str(id)
	}
	if name != "" {
		c.Name = str(name)
	}
	return c
}

func delta(cs ...ComponentDelta) ObjectDelta { return ObjectDelta{Components: cs} }

func textOf(units []core.Unit) string {
	var b strings.Builder
	for _, u := range units {
		if tu, ok := u.(core.TextUnit); ok {
			b.WriteString(tu.Text)
		}
	}
	return b.String()
}

func TestProcessTextChunk_HoldsMarkerAcrossChunks(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out)
	ctx := context.Background()

	require.NoError(t, p.ProcessTextChunk(ctx, `Here is the chart <create kind="chart" id="c1" title="a `))
	assert.Equal(t, "Here is the chart ", out.Text())

	require.NoError(t, p.ProcessTextChunk(ctx, `> b"/> and more`))
	require.NoError(t, p.Finalize(ctx))

	assert.Equal(t, []core.Unit{
		core.TextUnit{Text: "Here is the chart "},
		core.DataUnit{Kind: "chart", ID: "c1", Payload: map[string]any{"title": "a > b", "id": "c1"}},
		core.TextUnit{Text: " and more"},
	}, out.Units())
}

func TestFinalize_StripsResidualMarker(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out)
	ctx := context.Background()

	require.NoError(t, p.ProcessTextChunk(ctx, `Done. <ref id="x`))
	require.NoError(t, p.Finalize(ctx))
	assert.Equal(t, "Done. ", out.Text())
}

func TestProcessObjectDelta_StabilityGating(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out)
	ctx := context.Background()

	steps := []ObjectDelta{
		delta(comp("c1", "", nil)),
		delta(comp("", "chart", map[string]any{"title": "Rev"})),
		delta(comp("", "", map[string]any{"series": []any{1.0, 2.0}})),
		delta(comp("", "", map[string]any{"series": []any{1.0, 2.0}})),
	}
	for i, d := range steps[:3] {
		require.NoError(t, p.ProcessObjectDelta(ctx, d))
		require.Empty(t, out.Units(), "emitted too early at step %d", i)
	}

	require.NoError(t, p.ProcessObjectDelta(ctx, steps[3]))
	require.Len(t, out.Units(), 1)
	assert.Equal(t, core.DataUnit{
		Kind:    "chart",
		ID:      "c1",
		Payload: map[string]any{"title": "Rev", "series": []any{1.0, 2.0}, "id": "c1"},
	}, out.Units()[0])

	// further identical deltas and finalize never re-emit
	require.NoError(t, p.ProcessObjectDelta(ctx, steps[3]))
	require.NoError(t, p.Finalize(ctx))
	assert.Len(t, out.Units(), 1)
}

func TestFinalize_FlushesUnstableComplete(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out)
	ctx := context.Background()

	require.NoError(t, p.ProcessObjectDelta(ctx, delta(comp("t1", "table", map[string]any{"rows": 1.0}))))
	require.NoError(t, p.ProcessObjectDelta(ctx, delta(comp("", "", map[string]any{"rows": 2.0}), comp("x", "", nil))))
	assert.Empty(t, out.Units())

	require.NoError(t, p.Finalize(ctx))
	require.Len(t, out.Units(), 1)
	assert.Equal(t, "t1", out.Units()[0].(core.DataUnit).ID)
}

func TestProcessObjectDelta_TextComponentStreamsSuffix(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out)
	ctx := context.Background()

	text := func(s string) ObjectDelta {
		return delta(ComponentDelta{ID: str("p1"), Kind: str("text"), Name: str("paragraph"), Props: map[string]any{"text": s}})
	}

	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hel")))
	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hello wo")))
	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hello wo")))
	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hello world")))
	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hellö")))
	require.NoError(t, p.Finalize(ctx))

	assert.Equal(t, "Hello world", out.Text())
	assert.Equal(t, []core.Unit{core.TextUnit{Text: "Hello world"}}, out.Units())
}

func TestProcessObjectDelta_TextComponentRewriteStreamsTail(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out)
	ctx := context.Background()

	text := func(s string) ObjectDelta {
		return delta(ComponentDelta{ID: str("p1"), Kind: str("text"), Name: str("paragraph"), Props: map[string]any{"text": s}})
	}

	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hello wrold")))
	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hello world!")))
	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hello world!")))
	require.NoError(t, p.ProcessObjectDelta(ctx, text("Hello world! Bye")))
	require.NoError(t, p.Finalize(ctx))

	assert.Equal(t, "Hello wrold! Bye", out.Text())
	assert.Equal(t, "Hello wrold! Bye", textOf(p.GetCollectedUnits()))
}

func TestMarkPriorToolResult(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out)
	ctx := context.Background()

	require.NoError(t, p.ProcessTextChunk(ctx, "Looking it up."))
	p.MarkPriorToolResult()
	require.NoError(t, p.ProcessTextChunk(ctx, "Found it."))
	p.MarkPriorToolResult()
	require.NoError(t, p.ProcessTextChunk(ctx, "\nAgain."))

	assert.Equal(t, "Looking it up.\n\nFound it.\nAgain.", out.Text())
}

func TestCollectedAndEmittedLogs(t *testing.T) {
	p := New(nil, func(o *Options) { o.MaxUnits = 3 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.ProcessTextChunk(ctx, fmt.Sprintf("t%d", i)))
	}
	assert.Equal(t, []core.Unit{
		core.TextUnit{Text: "t2"}, core.TextUnit{Text: "t3"}, core.TextUnit{Text: "t4"},
	}, p.GetAllEmittedUnits())

	drained := p.DrainCollectedUnits()
	assert.Len(t, drained, 3)
	assert.Empty(t, p.GetCollectedUnits())
	assert.Len(t, p.GetAllEmittedUnits(), 3)
}

func TestTrackedComponentsAreBounded(t *testing.T) {
	out := stream.NewBufferingAdapter()
	p := New(out, func(o *Options) { o.MaxTracked = 2 })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cs := make([]ComponentDelta, i+1)
		cs[i] = comp(fmt.Sprintf("c%d", i), "chart", map[string]any{})
		require.NoError(t, p.ProcessObjectDelta(ctx, ObjectDelta{Components: cs}))
	}
	require.NoError(t, p.ProcessObjectDelta(ctx, ObjectDelta{}))
	require.NoError(t, p.ProcessObjectDelta(ctx, ObjectDelta{}))

	assert.Len(t, out.Units(), 4, "each component is emitted once even after its id left the set")
	assert.Equal(t, 2, p.streamed.Len())
	assert.LessOrEqual(t, p.snapshots.Len(), 2)
}

func TestDecodeDelta_RepairsTruncatedJSON(t *testing.T) {
	d, err := DecodeDelta(`{"components":[{"id":"c1","name":"chart","props":{"title":"Rev`)
	require.NoError(t, err)
	require.Len(t, d.Components, 1)
	assert.Equal(t, "c1", *d.Components[0].ID)
	assert.Equal(t, "Rev", d.Components[0].Props["title"])

	d, err = DecodeDelta(`{"components":[]}`)
	require.NoError(t, err)
	assert.Empty(t, d.Components)
}
