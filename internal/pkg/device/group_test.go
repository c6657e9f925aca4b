package device

import (
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/arena"
	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"gotest.tools/v3/assert"
)

func newStaticGen(t *testing.T) (*Group, *Collection, *Collection) {
	a := arena.New()
	pv := newPV(t, a)
	slack := NewCollection(Slack{}, a)
	_, err := slack.Add(map[string]interface{}{"idx": "SL", "bus": 0, "p0": 1.2})
	assert.NilError(t, err)
	return NewGroup("StaticGen", pv, slack), pv, slack
}

func TestGroupAggregatesInMemberOrder(t *testing.T) {
	g, _, _ := newStaticGen(t)

	assert.Equal(t, g.N(), 3)
	assert.DeepEqual(t, g.Idx(), []interface{}{10, 20, "SL"})

	p0, err := g.Get("p0", g.Idx(), GetOpts{})
	assert.NilError(t, err)
	assert.DeepEqual(t, p0, []float64{0.8, 0.4, 1.2})

	buses, err := g.GetIdx("bus", g.Idx())
	assert.NilError(t, err)
	assert.DeepEqual(t, buses, []interface{}{1, 2, 0})
}

func TestGroupSetRoutesToMembers(t *testing.T) {
	g, pv, slack := newStaticGen(t)

	assert.NilError(t, g.Set("p", []interface{}{"SL", 20}, []float64{2.0, 0.3}))

	p, _ := pv.Values("p", Value)
	assert.DeepEqual(t, p, []float64{0, 0.3})
	ps, _ := slack.Values("p", Value)
	assert.DeepEqual(t, ps, []float64{2.0})

	assert.ErrorIs(t, g.Set("p", index.Ints(10), nil), ErrShapeMismatch)
	assert.ErrorIs(t, g.Set("p", index.Ints(11), []float64{1}), index.ErrLookup)
}

func TestGroupHas(t *testing.T) {
	g, _, _ := newStaticGen(t)
	assert.Assert(t, g.Has("pmax"))
	// a0 exists on Slack only
	assert.Assert(t, !g.Has("a0"))
	assert.Assert(t, !NewGroup("Empty").Has("p"))
}

func TestGroupAllowNone(t *testing.T) {
	g, _, _ := newStaticGen(t)

	v, err := g.Get("p0", []interface{}{nil, "SL"}, GetOpts{AllowNone: true, Default: -1})
	assert.NilError(t, err)
	assert.DeepEqual(t, v, []float64{-1, 1.2})

	_, err = g.Get("p0", []interface{}{nil}, GetOpts{})
	assert.ErrorIs(t, err, ErrMissingIndex)
}

func TestGroupHolder(t *testing.T) {
	g, pv, slack := newStaticGen(t)

	m, ok := g.Holder(20.0)
	assert.Assert(t, ok)
	assert.Equal(t, m, pv)
	m, ok = g.Holder("SL")
	assert.Assert(t, ok)
	assert.Equal(t, m, slack)
	_, ok = g.Holder("missing")
	assert.Assert(t, !ok)
}
