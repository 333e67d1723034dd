package marker

import "github.com/hupe1980/agentrelay/core"

// Marker is a complete tag found in text.
type Marker struct {
	Name  string
	Attrs map[string]string
	Raw   string
}

// Resolver turns a marker into the units that replace it. Returning no units
// removes the marker from the output.
type Resolver interface {
	Resolve(m Marker) []core.Unit
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(m Marker) []core.Unit

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(m Marker) []core.Unit { return f(m) }

// DefaultResolver maps a marker to one data unit. The kind attribute (or the
// tag name) becomes the unit kind, id becomes the unit id and every other
// attribute lands in the payload.
type DefaultResolver struct{}

// Resolve implements Resolver.
func (DefaultResolver) Resolve(m Marker) []core.Unit {
	return []core.Unit{dataUnit(m)}
}

func dataUnit(m Marker) core.DataUnit {
	u := core.DataUnit{Kind: m.Name, Payload: map[string]any{}}
	for k, v := range m.Attrs {
		switch k {
		case "kind":
			if v != "" {
				u.Kind = v
			}
		case "id":
			u.ID = v
		default:
			u.Payload[k] = v
		}
	}
	return u
}

// SessionResolver expands ref markers from the session artifact cache and
// records create markers in it. Unknown references resolve like DefaultResolver.
type SessionResolver struct {
	Session *core.Session
}

// Resolve implements Resolver.
func (r SessionResolver) Resolve(m Marker) []core.Unit {
	u := dataUnit(m)
	if r.Session == nil {
		return []core.Unit{u}
	}
	switch m.Name {
	case "ref":
		if cached, ok := r.Session.Artifact(u.ID); ok {
			return []core.Unit{cached}
		}
	case "create":
		r.Session.CacheArtifact(u)
	}
	return []core.Unit{u}
}
