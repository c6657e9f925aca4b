package acflow

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"gotest.tools/v3/assert"
)

func twoBus() solver.Case {
	return solver.Case{
		BaseMVA: 100,
		Bus: []solver.BusRow{
			{Idx: 1, Type: solver.RefBus, Vm: 1},
			{Idx: 2, Type: solver.PQBus, Vm: 1, Pd: 50, Qd: 20},
		},
		Branch: []solver.BranchRow{
			{Idx: 0, From: 1, To: 2, R: 0.01, X: 0.1, Tap: 1, Status: 1},
		},
		Gen: []solver.GenRow{
			{Idx: 1, Bus: 1, Status: 1, Vg: 1.0},
		},
	}
}

func TestTwoBusBalance(t *testing.T) {
	c := twoBus()
	res, err := New().Solve(context.Background(), c, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Assert(t, res.Success)
	assert.Assert(t, res.Iterations > 0)

	v1 := cmplx.Rect(res.Vm[0], res.Va[0]*math.Pi/180)
	v2 := cmplx.Rect(res.Vm[1], res.Va[1]*math.Pi/180)
	z := complex(0.01, 0.1)

	// power drawn at bus 2 matches the load
	s2 := v2 * cmplx.Conj((v2-v1)/z) * 100
	assert.Assert(t, math.Abs(real(s2)+50) < 1e-5, "P at bus 2: %v", real(s2))
	assert.Assert(t, math.Abs(imag(s2)+20) < 1e-5, "Q at bus 2: %v", imag(s2))

	// the reference generator covers load plus losses
	s1 := v1 * cmplx.Conj((v1-v2)/z) * 100
	assert.Assert(t, math.Abs(res.Pg[0]-real(s1)) < 1e-5)
	assert.Assert(t, res.Pg[0] > 50)
	assert.Assert(t, math.Abs(res.Qg[0]-imag(s1)) < 1e-5)

	assert.Equal(t, res.Vm[0], 1.0)
	assert.Assert(t, res.Vm[1] < 1.0)
	assert.Assert(t, res.Va[1] < 0)
}

func TestPVBusHoldsVoltage(t *testing.T) {
	c := twoBus()
	c.Bus = append(c.Bus, solver.BusRow{Idx: 3, Type: solver.PVBus, Vm: 1})
	c.Branch = append(c.Branch, solver.BranchRow{Idx: 1, From: 2, To: 3, R: 0.02, X: 0.2, Status: 1})
	c.Gen = append(c.Gen, solver.GenRow{Idx: 3, Bus: 3, Pg: 30, Vg: 1.03, Status: 1})

	res, err := New().Solve(context.Background(), c, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Assert(t, res.Success)
	assert.Equal(t, res.Vm[2], 1.03)
	assert.Equal(t, res.Pg[1], 30.0)
	assert.Assert(t, res.Pg[0] > 20 && res.Pg[0] < 25, "reference output %v", res.Pg[0])
}

func TestIterationLimit(t *testing.T) {
	c := twoBus()
	c.Bus[1].Pd = 250
	res, err := New().Solve(context.Background(), c, solver.Options{Algorithm: solver.ACNewton, MaxIter: 1, Tolerance: 1e-10})
	assert.NilError(t, err)
	assert.Assert(t, !res.Success)
	assert.Equal(t, res.Iterations, 1)
	assert.Equal(t, len(res.Vm), 2)
}

func TestNoReferenceBus(t *testing.T) {
	c := twoBus()
	c.Bus[0].Type = solver.PVBus
	res, err := New().Solve(context.Background(), c, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Assert(t, !res.Success)
	assert.DeepEqual(t, res.Vm, []float64{1, 1})
}
