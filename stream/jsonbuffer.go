package stream

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// jsonBuffer accumulates a streamed JSON document and yields array items
// once they are complete.
type jsonBuffer struct {
	limit int
	buf   []byte
	sent  int
}

// append adds fragment and returns the items that became complete. For a
// top-level object the whole value is returned once it parses.
func (b *jsonBuffer) append(fragment string) ([]any, error) {
	b.buf = append(b.buf, fragment...)
	items, err := b.ready()
	if len(b.buf) > b.limit {
		b.truncate()
	}
	return items, err
}

func (b *jsonBuffer) ready() ([]any, error) {
	var v any
	complete := json.Unmarshal(b.buf, &v) == nil
	if !complete {
		fixed, err := jsonrepair.JSONRepair(string(b.buf))
		if err != nil {
			// not enough input to repair yet
			return nil, nil
		}
		if err := json.Unmarshal([]byte(fixed), &v); err != nil {
			return nil, err
		}
	}

	switch t := v.(type) {
	case []any:
		end := len(t)
		if !complete {
			// the last item may still grow
			end--
		}
		if end <= b.sent {
			return nil, nil
		}
		out := t[b.sent:end]
		b.sent = end
		return out, nil
	default:
		if !complete {
			return nil, nil
		}
		b.reset()
		return []any{v}, nil
	}
}

// truncate drops already complete items from the front of an array buffer,
// cutting only where a top-level item ends. Without such a cut point the
// whole buffer is dropped.
func (b *jsonBuffer) truncate() {
	cut, removed := lastTopLevelBoundary(b.buf)
	if cut < 0 {
		b.reset()
		return
	}
	rest := append([]byte{'['}, b.buf[cut+1:]...)
	if len(rest) > b.limit {
		b.reset()
		return
	}
	b.buf = rest
	b.sent -= removed
	if b.sent < 0 {
		b.sent = 0
	}
}

func (b *jsonBuffer) reset() {
	b.buf = nil
	b.sent = 0
}

// lastTopLevelBoundary returns the offset of the last comma separating two
// items of a top-level array, and the number of items before it. String
// contents and escapes are skipped.
func lastTopLevelBoundary(buf []byte) (int, int) {
	depth := 0
	inString, escaped := false, false
	cut, items := -1, 0
	count := 0
	for i, c := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		case ',':
			if depth == 1 {
				count++
				cut, items = i, count
			}
		}
	}
	if len(buf) == 0 || buf[0] != '[' {
		return -1, 0
	}
	return cut, items
}
