package marker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

var (
	_ Resolver = DefaultResolver{}
	_ Resolver = SessionResolver{}
	_ Resolver = ResolverFunc(nil)
)

func TestHasIncompleteMarker_QuotedCloseIsNotTerminal(t *testing.T) {
	text := `Revenue grew. <create kind="chart" id="c1" title="q1 > q2"/> See above.`
	start := strings.Index(text, "<create")
	closeIdx := strings.Index(text, `"/>`) + 2
	require.Equal(t, byte('>'), text[closeIdx])

	for i := 0; i <= start; i++ {
		if HasIncompleteMarker(text[:i]) {
			t.Fatalf("prefix %q before the marker must be complete", text[:i])
		}
	}
	for i := start + 1; i <= closeIdx; i++ {
		if !HasIncompleteMarker(text[:i]) {
			t.Fatalf("prefix %q must report an incomplete marker", text[:i])
		}
		if got := FindSafeTextBoundary(text[:i]); got != start {
			t.Fatalf("prefix %q: boundary = %d, want %d", text[:i], got, start)
		}
	}
	for i := closeIdx + 1; i <= len(text); i++ {
		if HasIncompleteMarker(text[:i]) {
			t.Fatalf("prefix %q has a fully received marker", text[:i])
		}
	}
}

func TestTokenize(t *testing.T) {
	toks := Tokenize(`a < b <ref id='x 1'> c <refx> <cre`)
	require.Len(t, toks, 4)

	assert.Equal(t, TokenText, toks[0].Kind)
	assert.Equal(t, "a < b ", toks[0].Text)
	assert.Equal(t, TokenMarker, toks[1].Kind)
	assert.Equal(t, "ref", toks[1].Name)
	assert.Equal(t, map[string]string{"id": "x 1"}, toks[1].Attrs)
	assert.Equal(t, " c <refx> ", toks[2].Text)
	assert.Equal(t, TokenPartial, toks[3].Kind)
	assert.Equal(t, "<cre", toks[3].Text)
}

func TestStripIncomplete(t *testing.T) {
	assert.Equal(t, "Hello ", StripIncomplete(`Hello <ref id="unterminated`))
	assert.Equal(t, "Hello <ref id=1/>", StripIncomplete(`Hello <ref id=1/>`))
	assert.Equal(t, "x", StripIncomplete("x<"))
	assert.Equal(t, "1 < 2", StripIncomplete("1 < 2"))
}

func TestGrammar_LongestNameWins(t *testing.T) {
	g := NewGrammar("ref", "reference")
	toks := g.Tokenize(`<reference id=r1/>`)
	require.Len(t, toks, 1)
	assert.Equal(t, "reference", toks[0].Name)
	assert.True(t, g.HasIncompleteMarker("<refer"))
}

func TestParse_DefaultResolver(t *testing.T) {
	units := Parse(`Look: <create kind="table" id="t1" rows="3"/> done<ref`, nil)
	assert.Equal(t, []core.Unit{
		core.TextUnit{Text: "Look: "},
		core.DataUnit{Kind: "table", ID: "t1", Payload: map[string]any{"rows": "3"}},
		core.TextUnit{Text: " done"},
	}, units)
}

func TestParse_SessionResolver(t *testing.T) {
	sess := core.NewSession("req-1", "conv-1")
	r := SessionResolver{Session: sess}

	_ = Parse(`<create kind="chart" id="c1" title="Sales"/>`, r)
	require.Equal(t, 1, sess.ArtifactCount())

	units := Parse(`Again: <ref id="c1"/>`, r)
	require.Len(t, units, 2)
	assert.Equal(t, core.DataUnit{Kind: "chart", ID: "c1", Payload: map[string]any{"title": "Sales"}}, units[1])

	unknown := Parse(`<ref id="missing"/>`, r)
	assert.Equal(t, []core.Unit{core.DataUnit{Kind: "ref", ID: "missing", Payload: map[string]any{}}}, unknown)
}

func TestParse_ResolverCanDropMarkers(t *testing.T) {
	drop := ResolverFunc(func(Marker) []core.Unit { return nil })
	assert.Equal(t, []core.Unit{core.TextUnit{Text: "ab"}}, Parse(`a<ref id=1/>b`, drop))
}
