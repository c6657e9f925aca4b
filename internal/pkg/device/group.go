package device

import (
	"fmt"

	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
)

// Group aggregates collections of one logical category. Values are the members'
// values concatenated in member registration order.
type Group struct {
	name    string
	members []*Collection
}

// NewGroup returns a group over the given members.
func NewGroup(name string, members ...*Collection) *Group {
	return &Group{name: name, members: members}
}

// Add appends a member collection.
func (g *Group) Add(c *Collection) {
	g.members = append(g.members, c)
}

// Name is the group name.
func (g *Group) Name() string { return g.name }

// Members returns the member collections in registration order.
func (g *Group) Members() []*Collection {
	out := make([]*Collection, len(g.members))
	copy(out, g.members)
	return out
}

// N is the device count across members.
func (g *Group) N() int {
	n := 0
	for _, m := range g.members {
		n += m.N()
	}
	return n
}

// Idx concatenates member identifiers.
func (g *Group) Idx() []interface{} {
	out := make([]interface{}, 0, g.N())
	for _, m := range g.members {
		out = append(out, m.Idx()...)
	}
	return out
}

// Has reports whether every member carries the numeric attribute src.
func (g *Group) Has(src string) bool {
	if len(g.members) == 0 {
		return false
	}
	for _, m := range g.members {
		if !m.Has(src) {
			return false
		}
	}
	return true
}

// member finds the collection that registered idx.
func (g *Group) member(idx interface{}) (*Collection, error) {
	for _, m := range g.members {
		if m.index.Has(idx) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("<%s>: group has no device with idx=%v: %w", g.name, idx, index.ErrLookup)
}

// Holder returns the member that registered idx.
func (g *Group) Holder(idx interface{}) (*Collection, bool) {
	m, err := g.member(idx)
	return m, err == nil
}

// Get routes each idx to its member and gathers src.
func (g *Group) Get(src string, idx []interface{}, opts GetOpts) ([]float64, error) {
	flat := index.Flatten(idx)
	out := make([]float64, len(flat))
	for i, id := range flat {
		if id == nil {
			if !opts.AllowNone {
				return nil, fmt.Errorf("<%s>: nil in idx reading %s: %w", g.name, src, ErrMissingIndex)
			}
			out[i] = opts.Default
			continue
		}
		m, err := g.member(id)
		if err != nil {
			return nil, err
		}
		v, err := m.Get(src, []interface{}{id}, opts)
		if err != nil {
			return nil, err
		}
		out[i] = v[0]
	}
	return out, nil
}

// Set routes each idx to its member and writes src in place.
func (g *Group) Set(src string, idx []interface{}, values []float64) error {
	flat := index.Flatten(idx)
	if len(flat) != len(values) {
		return fmt.Errorf("<%s>: %s got %d values for %d idx: %w", g.name, src, len(values), len(flat), ErrShapeMismatch)
	}
	owners := make([]*Collection, len(flat))
	for i, id := range flat {
		if id == nil {
			return fmt.Errorf("<%s>: nil in idx writing %s: %w", g.name, src, ErrMissingIndex)
		}
		m, err := g.member(id)
		if err != nil {
			return err
		}
		owners[i] = m
	}
	for i, m := range owners {
		if err := m.Set(src, []interface{}{flat[i]}, values[i:i+1]); err != nil {
			return err
		}
	}
	return nil
}

// GetIdx routes each idx to its member and gathers the reference attribute src.
func (g *Group) GetIdx(src string, idx []interface{}) ([]interface{}, error) {
	flat := index.Flatten(idx)
	out := make([]interface{}, len(flat))
	for i, id := range flat {
		if id == nil {
			continue
		}
		m, err := g.member(id)
		if err != nil {
			return nil, err
		}
		v, err := m.GetIdx(src, []interface{}{id})
		if err != nil {
			return nil, err
		}
		out[i] = v[0]
	}
	return out, nil
}
