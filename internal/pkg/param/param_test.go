package param

import (
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/arena"
	"github.com/ohowland/cgc_dispatch/internal/pkg/device"
	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"gotest.tools/v3/assert"
)

type registry map[string]device.Owner

func (r registry) Owner(name string) (device.Owner, bool) {
	o, ok := r[name]
	return o, ok
}

func newRegistry(t *testing.T) (registry, *device.Collection, *device.Collection) {
	a := arena.New()
	pv := device.NewCollection(device.PV{}, a)
	slack := device.NewCollection(device.Slack{}, a)
	for _, d := range []map[string]interface{}{
		{"idx": 2, "bus": 2, "p0": 0.5, "pmax": 1.0},
		{"idx": 3, "bus": 3, "p0": 0.7, "pmax": 1.5},
	} {
		_, err := pv.Add(d)
		assert.NilError(t, err)
	}
	_, err := slack.Add(map[string]interface{}{"idx": 1, "bus": 1, "p0": 1.1, "pmax": 3.0})
	assert.NilError(t, err)

	return registry{
		"PV":        pv,
		"Slack":     slack,
		"StaticGen": device.NewGroup("StaticGen", pv, slack),
	}, pv, slack
}

func TestValuePriority(t *testing.T) {
	r, _, _ := newRegistry(t)

	explicit := NewValue(Decl{Name: "pmax", Owner: "PV"}, []float64{9, 9, 9, 9})
	assert.NilError(t, explicit.Bind(r))
	v, err := explicit.Value()
	assert.NilError(t, err)
	assert.DeepEqual(t, v, []float64{9, 9, 9, 9})
	assert.Equal(t, explicit.Count(), 4)

	group := New(Decl{Name: "pmax", Owner: "StaticGen"})
	assert.NilError(t, group.Bind(r))
	assert.Assert(t, group.IsGroup())
	v, err = group.Value()
	assert.NilError(t, err)
	assert.DeepEqual(t, v, []float64{1.0, 1.5, 3.0})
	assert.Equal(t, group.Count(), 3)

	single := New(Decl{Name: "pg0", Src: "p0", Owner: "PV"})
	assert.NilError(t, single.Bind(r))
	assert.Assert(t, !single.IsGroup())
	v, err = single.Value()
	assert.NilError(t, err)
	assert.DeepEqual(t, v, []float64{0.5, 0.7})
	assert.Equal(t, single.Src(), "p0")
}

func TestAliasing(t *testing.T) {
	r, pv, _ := newRegistry(t)

	a := New(Decl{Name: "pg0", Src: "p0", Owner: "PV"})
	b := New(Decl{Name: "p0", Owner: "PV"})
	g := New(Decl{Name: "p0", Owner: "StaticGen"})
	for _, p := range []*Param{a, b, g} {
		assert.NilError(t, p.Bind(r))
	}

	assert.NilError(t, pv.Set("p0", index.Ints(3), []float64{0.9}))

	va, _ := a.Value()
	vb, _ := b.Value()
	vg, _ := g.Value()
	assert.Equal(t, va[1], 0.9)
	assert.Equal(t, vb[1], 0.9)
	assert.Equal(t, vg[1], 0.9)

	// writes through one live view are seen by the others
	va[0] = 0.25
	vb, _ = b.Value()
	assert.Equal(t, vb[0], 0.25)
}

func TestUnbound(t *testing.T) {
	r, _, _ := newRegistry(t)

	p := New(Decl{Name: "pd", Src: "p0", Owner: "PQ"})
	assert.Assert(t, p.Idx() == nil)
	assert.Equal(t, p.Count(), 0)
	_, err := p.Value()
	assert.ErrorIs(t, err, ErrUnbound)

	assert.ErrorIs(t, p.Bind(r), ErrUnbound)

	missing := New(Decl{Name: "c1", Owner: "PV"})
	assert.ErrorIs(t, missing.Bind(r), device.ErrUnknownAttr)
}

func TestIdx(t *testing.T) {
	r, _, _ := newRegistry(t)
	p := New(Decl{Name: "pmax", Owner: "StaticGen"})
	assert.NilError(t, p.Bind(r))
	assert.DeepEqual(t, p.Idx(), []interface{}{2, 3, 1})
}

func TestExplicitWithoutOwner(t *testing.T) {
	r, _, _ := newRegistry(t)
	nt := NewValue(Decl{Name: "nt"}, []float64{4})
	assert.NilError(t, nt.Bind(r))
	v, err := nt.Value()
	assert.NilError(t, err)
	assert.DeepEqual(t, v, []float64{4})
	assert.Equal(t, nt.String(), "Param: nt, v=[4]")
}
