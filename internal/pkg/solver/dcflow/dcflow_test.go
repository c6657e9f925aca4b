package dcflow

import (
	"context"
	"math"
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"gotest.tools/v3/assert"
)

const tol = 1e-8

func threeBus() solver.Case {
	return solver.Case{
		BaseMVA: 100,
		Bus: []solver.BusRow{
			{Idx: 0, Type: solver.RefBus, Vm: 1.02},
			{Idx: 1, Type: solver.PVBus, Vm: 1},
			{Idx: 2, Type: solver.PQBus, Vm: 1, Pd: 80},
		},
		Branch: []solver.BranchRow{
			{Idx: 0, From: 0, To: 1, X: 0.1, Tap: 1, Status: 1},
			{Idx: 1, From: 1, To: 2, X: 0.2, Tap: 1, Status: 1},
		},
		Gen: []solver.GenRow{
			{Idx: "G0", Bus: 0, Pg: 0, Status: 1, Pmax: 200},
			{Idx: "G1", Bus: 1, Pg: 50, Status: 1, Pmax: 100},
		},
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < tol
}

func TestSolve(t *testing.T) {
	res, err := New().Solve(context.Background(), threeBus(), solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Assert(t, res.Success)
	assert.Equal(t, res.BaseMVA, 100.0)

	assert.Assert(t, near(res.Pg[0], 30), "slack absorbs the mismatch: %v", res.Pg[0])
	assert.Equal(t, res.Pg[1], 50.0)

	assert.Equal(t, res.Va[0], 0.0)
	assert.Assert(t, near(res.Va[1], -0.03*180/math.Pi))
	assert.Assert(t, near(res.Va[2], -0.19*180/math.Pi))
	assert.DeepEqual(t, res.Vm, []float64{1.02, 1, 1})

	assert.Assert(t, near(res.Vars["plf"][0], 0.3))
	assert.Assert(t, near(res.Vars["plf"][1], 0.8))
}

func TestOfflineGeneratorIgnored(t *testing.T) {
	c := threeBus()
	c.Gen[1].Status = 0
	res, err := New().Solve(context.Background(), c, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Assert(t, near(res.Pg[0], 80))
}

func TestTopologyFailureKeepsCaseValues(t *testing.T) {
	c := threeBus()
	c.Branch = c.Branch[:1]
	c.Bus[0].Va = 5
	c.Gen[1].Qg = 7

	res, err := New().Solve(context.Background(), c, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Assert(t, !res.Success)
	assert.DeepEqual(t, res.Va, []float64{5, 0, 0})
	assert.DeepEqual(t, res.Pg, []float64{0, 50})
	assert.DeepEqual(t, res.Qg, []float64{0, 7})
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Solve(ctx, threeBus(), solver.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
