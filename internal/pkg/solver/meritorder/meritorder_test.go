package meritorder

import (
	"context"
	"math"
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"gotest.tools/v3/assert"
)

func threeBus() solver.Case {
	return solver.Case{
		BaseMVA: 100,
		Bus: []solver.BusRow{
			{Idx: 0, Type: solver.RefBus, Vm: 1},
			{Idx: 1, Type: solver.PVBus, Vm: 1},
			{Idx: 2, Type: solver.PQBus, Vm: 1, Pd: 80},
		},
		Branch: []solver.BranchRow{
			{Idx: 0, From: 0, To: 1, X: 0.1, Tap: 1, Status: 1},
			{Idx: 1, From: 1, To: 2, X: 0.2, Tap: 1, Status: 1},
		},
		Gen: []solver.GenRow{
			{Idx: "G0", Bus: 0, Status: 1, Pmax: 200},
			{Idx: "G1", Bus: 1, Status: 1, Pmax: 50, Pmin: 10},
		},
		GenCost: []solver.CostRow{
			{Gen: "G0", C1: 20, C0: 5},
			{Gen: "G1", C1: 10, C0: 3},
		},
	}
}

func TestCheapestFirst(t *testing.T) {
	res, err := New().Solve(context.Background(), threeBus(), solver.Options{Algorithm: solver.MeritOrder})
	assert.NilError(t, err)
	assert.Assert(t, res.Success)
	assert.DeepEqual(t, res.Pg, []float64{30, 50})
	assert.Equal(t, res.Objective, 20.0*30+5+10.0*50+3)
	assert.Equal(t, res.Va[0], 0.0)
	assert.Assert(t, res.Va[2] < res.Va[1])
}

func TestPminRespected(t *testing.T) {
	c := threeBus()
	c.Bus[2].Pd = 15
	pg, ok := Dispatch(c, map[interface{}]solver.CostRow{
		"G0": {Gen: "G0", C1: 1},
		"G1": {Gen: "G1", C1: 10},
	})
	assert.Assert(t, ok)
	assert.DeepEqual(t, pg, []float64{5, 10})
}

func TestOfflineUnitSkipped(t *testing.T) {
	c := threeBus()
	c.Gen[1].Status = 0
	res, err := New().Solve(context.Background(), c, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.DeepEqual(t, res.Pg, []float64{80, 0})
	assert.Equal(t, res.Objective, 20.0*80+5)
}

func TestInfeasible(t *testing.T) {
	c := threeBus()
	c.Bus[2].Pd = 500
	c.Gen[1].Pg = 12
	res, err := New().Solve(context.Background(), c, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Assert(t, !res.Success)
	assert.DeepEqual(t, res.Pg, []float64{0, 12})

	c.Bus[2].Pd = 5
	_, ok := Dispatch(c, nil)
	assert.Assert(t, !ok)
}

func TestObjectiveQuadratic(t *testing.T) {
	c := threeBus()
	costs := map[interface{}]solver.CostRow{"G0": {Gen: "G0", C2: 0.5, C1: 1, C0: 2}}
	got := Objective(c, costs, []float64{4, 0})
	assert.Assert(t, math.Abs(got-(0.5*16+4+2)) < 1e-12)
}
