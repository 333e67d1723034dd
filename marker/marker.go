// Package marker detects inline reference and creation markers in free model
// text, such as <ref id="c1"/> or <create kind="chart" title="a > b"/>.
//
// One tokenizer backs every operation: boundary detection while streaming,
// stripping residual fragments at finalize time and parsing finished text
// into units. Markers are single tags; a tag ends at the first '>' that is
// not inside a quoted attribute value.
package marker

import (
	"sort"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// TokenKind classifies a token produced by the tokenizer.
type TokenKind int

const (
	// TokenText is plain text between markers.
	TokenText TokenKind = iota
	// TokenMarker is a complete marker tag.
	TokenMarker
	// TokenPartial is a trailing marker that has not been fully received.
	TokenPartial
)

// Token is one lexical piece of the input. Start and End are byte offsets.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
	Name  string
	Attrs map[string]string
}

// Grammar is a marker tokenizer for a fixed set of tag names.
type Grammar struct {
	names []string
}

// DefaultNames are the marker names recognised by Default.
var DefaultNames = []string{"ref", "create"}

// Default is the grammar used by the package level helpers.
var Default = NewGrammar(DefaultNames...)

// NewGrammar returns a grammar recognising the given tag names.
func NewGrammar(names ...string) *Grammar {
	ns := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			ns = append(ns, n)
		}
	}
	// longest first so "reference" wins over "ref"
	sort.Slice(ns, func(i, j int) bool { return len(ns[i]) > len(ns[j]) })
	return &Grammar{names: ns}
}

type tagState int

const (
	tagNone tagState = iota
	tagPartial
	tagComplete
)

// Tokenize splits s into text, marker and (at most one, trailing) partial tokens.
func (g *Grammar) Tokenize(s string) []Token {
	var toks []Token
	textStart := 0
	for i := 0; i < len(s); {
		if s[i] != '<' {
			i++
			continue
		}
		end, name, state := g.scanTag(s, i)
		switch state {
		case tagPartial:
			toks = appendText(toks, s, textStart, i)
			return append(toks, Token{Kind: TokenPartial, Text: s[i:], Start: i, End: len(s), Name: name})
		case tagComplete:
			toks = appendText(toks, s, textStart, i)
			toks = append(toks, Token{
				Kind:  TokenMarker,
				Text:  s[i:end],
				Start: i,
				End:   end,
				Name:  name,
				Attrs: parseAttrs(s[i+1+len(name) : end-1]),
			})
			i, textStart = end, end
		default:
			i++
		}
	}
	return appendText(toks, s, textStart, len(s))
}

func appendText(toks []Token, s string, start, end int) []Token {
	if end <= start {
		return toks
	}
	return append(toks, Token{Kind: TokenText, Text: s[start:end], Start: start, End: end})
}

// scanTag inspects the tag opening at s[i] == '<'.
func (g *Grammar) scanTag(s string, i int) (int, string, tagState) {
	rest := s[i+1:]
	name := ""
	for _, n := range g.names {
		if !strings.HasPrefix(rest, n) {
			continue
		}
		after := i + 1 + len(n)
		if after == len(s) {
			return 0, n, tagPartial
		}
		if c := s[after]; isSpace(c) || c == '/' || c == '>' {
			name = n
			break
		}
	}
	if name == "" {
		for _, n := range g.names {
			if len(rest) < len(n) && strings.HasPrefix(n, rest) {
				return 0, "", tagPartial
			}
		}
		return 0, "", tagNone
	}

	var quote, prev byte
	for j := i + 1 + len(name); j < len(s); j++ {
		c := s[j]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case (c == '"' || c == '\'') && prev == '=':
			quote = c
		case c == '>':
			return j + 1, name, tagComplete
		}
		if !isSpace(c) {
			prev = c
		}
	}
	return 0, name, tagPartial
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// parseAttrs reads key=value pairs from the inside of a tag. Values may be
// double quoted, single quoted or bare. A key without value maps to "".
func parseAttrs(inner string) map[string]string {
	attrs := map[string]string{}
	inner = strings.TrimSuffix(strings.TrimRight(inner, " \t\r\n"), "/")
	i := 0
	for i < len(inner) {
		for i < len(inner) && isSpace(inner[i]) {
			i++
		}
		start := i
		for i < len(inner) && !isSpace(inner[i]) && inner[i] != '=' {
			i++
		}
		key := inner[start:i]
		if i >= len(inner) || inner[i] != '=' {
			if key != "" {
				attrs[key] = ""
			}
			continue
		}
		i++ // '='
		if i < len(inner) && (inner[i] == '"' || inner[i] == '\'') {
			q := inner[i]
			i++
			vs := i
			for i < len(inner) && inner[i] != q {
				i++
			}
			attrs[key] = inner[vs:i]
			if i < len(inner) {
				i++
			}
		} else {
			vs := i
			for i < len(inner) && !isSpace(inner[i]) {
				i++
			}
			attrs[key] = inner[vs:i]
		}
	}
	return attrs
}

// HasIncompleteMarker reports whether s ends inside a marker that has not
// been fully received.
func (g *Grammar) HasIncompleteMarker(s string) bool {
	return g.FindSafeTextBoundary(s) < len(s)
}

// FindSafeTextBoundary returns the byte offset up to which s can be released
// without cutting a marker in half. It is len(s) when nothing is pending.
func (g *Grammar) FindSafeTextBoundary(s string) int {
	toks := g.Tokenize(s)
	if n := len(toks); n > 0 && toks[n-1].Kind == TokenPartial {
		return toks[n-1].Start
	}
	return len(s)
}

// StripIncomplete drops a trailing partial marker from s.
func (g *Grammar) StripIncomplete(s string) string {
	return s[:g.FindSafeTextBoundary(s)]
}

// Parse converts finished text into ordered units. Complete markers are
// handed to r (DefaultResolver when nil); a residual partial marker is dropped.
func (g *Grammar) Parse(s string, r Resolver) []core.Unit {
	if r == nil {
		r = DefaultResolver{}
	}
	var units []core.Unit
	for _, tok := range g.Tokenize(s) {
		switch tok.Kind {
		case TokenText:
			units = append(units, core.TextUnit{Text: tok.Text})
		case TokenMarker:
			units = append(units, r.Resolve(Marker{Name: tok.Name, Attrs: tok.Attrs, Raw: tok.Text})...)
		}
	}
	return core.CoalesceUnits(units)
}

// Tokenize calls Default.Tokenize.
func Tokenize(s string) []Token { return Default.Tokenize(s) }

// HasIncompleteMarker calls Default.HasIncompleteMarker.
func HasIncompleteMarker(s string) bool { return Default.HasIncompleteMarker(s) }

// FindSafeTextBoundary calls Default.FindSafeTextBoundary.
func FindSafeTextBoundary(s string) int { return Default.FindSafeTextBoundary(s) }

// StripIncomplete calls Default.StripIncomplete.
func StripIncomplete(s string) string { return Default.StripIncomplete(s) }

// Parse calls Default.Parse.
func Parse(s string, r Resolver) []core.Unit { return Default.Parse(s, r) }
