package ptdf

import (
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"gonum.org/v1/gonum/mat"
	"gotest.tools/v3/assert"
)

const tol = 1e-8

func radial() ([]solver.BusRow, []solver.BranchRow) {
	buses := []solver.BusRow{
		{Idx: 0, Type: solver.RefBus},
		{Idx: 1, Type: solver.PVBus},
		{Idx: 2, Type: solver.PQBus},
	}
	branches := []solver.BranchRow{
		{Idx: "L01", From: 0, To: 1, X: 0.1, Tap: 1, Status: 1},
		{Idx: "L12", From: 1, To: 2, X: 0.2, Status: 1},
	}
	return buses, branches
}

func assertMatrix(t *testing.T, got mat.Matrix, want [][]float64) {
	t.Helper()
	r, c := got.Dims()
	assert.Equal(t, r, len(want))
	for i := range want {
		assert.Equal(t, c, len(want[i]))
		for j := range want[i] {
			assert.Assert(t, abs(got.At(i, j)-want[i][j]) < tol,
				"(%d, %d): got %v want %v", i, j, got.At(i, j), want[i][j])
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestRadialPTDF(t *testing.T) {
	buses, branches := radial()
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)
	assert.Equal(t, n.Ref, 0)

	assertMatrix(t, n.PTDF, [][]float64{
		{0, -1, -1},
		{0, 0, -1},
	})
	assertMatrix(t, n.Cft, [][]float64{
		{1, -1, 0},
		{0, 1, -1},
	})
}

func TestPartitionReassembles(t *testing.T) {
	buses, branches := radial()
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)

	gen, other, err := n.Partition(index.Ints(1), index.Ints(0, 2))
	assert.NilError(t, err)

	r, c := gen.Dims()
	assert.Equal(t, r, 2)
	assert.Equal(t, c, 1)
	r, c = other.Dims()
	assert.Equal(t, r, 2)
	assert.Equal(t, c, 2)

	full := mat.NewDense(2, 3, nil)
	for j, bus := range []int{1} {
		for i := 0; i < 2; i++ {
			full.Set(i, bus, gen.At(i, j))
		}
	}
	for j, bus := range []int{0, 2} {
		for i := 0; i < 2; i++ {
			full.Set(i, bus, other.At(i, j))
		}
	}
	assert.Assert(t, mat.EqualApprox(full, n.PTDF, tol))
}

func TestPartitionFollowsCallerOrder(t *testing.T) {
	buses, branches := radial()
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)

	gen, other, err := n.Partition(index.Ints(2, 1), index.Ints(0))
	assert.NilError(t, err)
	assertMatrix(t, gen, [][]float64{
		{-1, -1},
		{-1, 0},
	})
	assertMatrix(t, other, [][]float64{{0}, {0}})
}

func TestPartitionRejects(t *testing.T) {
	buses, branches := radial()
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)

	_, _, err = n.Partition(index.Ints(1), index.Ints(0))
	assert.ErrorIs(t, err, ErrTopology)

	_, _, err = n.Partition(index.Ints(1, 1), index.Ints(0, 2))
	assert.ErrorIs(t, err, ErrTopology)

	_, _, err = n.Partition(index.Ints(1, 7), index.Ints(0, 2))
	assert.ErrorIs(t, err, ErrTopology)
	assert.ErrorIs(t, err, index.ErrLookup)

	_, _, err = n.Partition([]interface{}{1, nil}, index.Ints(0, 2))
	assert.ErrorIs(t, err, ErrTopology)
}

func TestEmptyGenerationPartition(t *testing.T) {
	buses, branches := radial()
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)

	gen, other, err := n.Partition(nil, index.Ints(0, 1, 2))
	assert.NilError(t, err)
	assert.Assert(t, gen == nil)
	assert.Assert(t, mat.EqualApprox(other, n.PTDF, tol))
}

func TestMeshedPTDF(t *testing.T) {
	buses := []solver.BusRow{
		{Idx: "A", Type: solver.RefBus},
		{Idx: "B", Type: solver.PQBus},
		{Idx: "C", Type: solver.PQBus},
	}
	branches := []solver.BranchRow{
		{Idx: 0, From: "A", To: "B", X: 0.1, Status: 1},
		{Idx: 1, From: "B", To: "C", X: 0.1, Status: 1},
		{Idx: 2, From: "A", To: "C", X: 0.1, Status: 1},
	}
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)

	col := mat.Col(nil, 1, n.PTDF)
	assertMatrix(t, mat.NewDense(3, 1, col), [][]float64{{-2.0 / 3}, {1.0 / 3}, {-1.0 / 3}})

	flows, err := n.Flows([]float64{-1, 1, 0})
	assert.NilError(t, err)
	assert.Assert(t, abs(flows[0]+2.0/3) < tol)

	theta, err := n.Angles([]float64{-1, 1, 0})
	assert.NilError(t, err)
	assert.Equal(t, theta[0], 0.0)
	// flow on A-B is (theta_A - theta_B) / x
	assert.Assert(t, abs((theta[0]-theta[1])/0.1-flows[0]) < tol)
}

func TestOpenBranchIgnored(t *testing.T) {
	buses, branches := radial()
	branches = append(branches, solver.BranchRow{Idx: "L02", From: 0, To: 2, X: 0.3, Status: 0})
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)
	assertMatrix(t, n.PTDF, [][]float64{
		{0, -1, -1},
		{0, 0, -1},
		{0, 0, 0},
	})
}

func TestTopologyErrors(t *testing.T) {
	buses, branches := radial()

	_, err := Build(100, buses, nil)
	assert.ErrorIs(t, err, ErrTopology)

	noRef := append([]solver.BusRow{}, buses...)
	noRef[0].Type = solver.PQBus
	_, err = Build(100, noRef, branches)
	assert.ErrorIs(t, err, ErrTopology)

	island := append(append([]solver.BusRow{}, buses...), solver.BusRow{Idx: 3, Type: solver.PQBus})
	_, err = Build(100, island, branches)
	assert.ErrorIs(t, err, ErrTopology)

	unknown := append(append([]solver.BranchRow{}, branches...), solver.BranchRow{Idx: "L29", From: 2, To: 9, X: 0.1, Status: 1})
	_, err = Build(100, buses, unknown)
	assert.ErrorIs(t, err, ErrTopology)
	assert.ErrorIs(t, err, index.ErrLookup)

	short := append([]solver.BranchRow{}, branches...)
	short[1].X = 0
	_, err = Build(100, buses, short)
	assert.ErrorIs(t, err, ErrTopology)

	dup := append(append([]solver.BusRow{}, buses...), solver.BusRow{Idx: 1})
	_, err = Build(100, dup, branches)
	assert.ErrorIs(t, err, ErrTopology)
	assert.ErrorIs(t, err, index.ErrDuplicateKey)
}

func TestInjectionLength(t *testing.T) {
	buses, branches := radial()
	n, err := Build(100, buses, branches)
	assert.NilError(t, err)
	_, err = n.Flows([]float64{1})
	assert.ErrorContains(t, err, "injections")
	_, err = n.Angles([]float64{1})
	assert.ErrorContains(t, err, "injections")
}
