/*
acflow.go AC power flow by Newton-Raphson in polar coordinates. PV buses hold voltage
magnitude and real injection, PQ buses hold both injections, the reference bus holds its
voltage phasor. The Jacobian is dense; networks are small enough that a gonum LU solve per
iteration is adequate.
*/

package acflow

import (
	"context"
	"log"
	"math"
	"math/cmplx"

	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver/dcflow"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultTolerance = 1e-8
	defaultMaxIter   = 10
)

// Solver is the Newton-Raphson AC power flow adapter.
type Solver struct{}

// New returns the AC power flow adapter.
func New() Solver {
	return Solver{}
}

type network struct {
	base   float64
	y      [][]complex128
	sbus   []complex128
	vm, va []float64
	ref    []int
	pv     []int
	pq     []int
	genBus []int
}

// Solve runs the power flow. Non-convergence and unusable networks return an
// unsuccessful result.
func (s Solver) Solve(ctx context.Context, c solver.Case, opts solver.Options) (solver.Result, error) {
	if err := ctx.Err(); err != nil {
		return solver.Result{}, err
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}
	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}

	n, ok := build(c)
	if !ok {
		return dcflow.Initial(c), nil
	}

	pvpq := append(append([]int{}, n.pv...), n.pq...)
	npvpq, npq := len(pvpq), len(n.pq)
	dim := npvpq + npq

	v := make([]complex128, len(n.vm))
	converged := false
	iter := 0
	for ; ; iter++ {
		if err := ctx.Err(); err != nil {
			return solver.Result{}, err
		}
		for i := range v {
			v[i] = cmplx.Rect(n.vm[i], n.va[i])
		}
		current := n.multiply(v)

		f := make([]float64, dim)
		worst := 0.0
		for r, i := range pvpq {
			f[r] = real(v[i]*cmplx.Conj(current[i]) - n.sbus[i])
			worst = math.Max(worst, math.Abs(f[r]))
		}
		for r, i := range n.pq {
			f[npvpq+r] = imag(v[i]*cmplx.Conj(current[i]) - n.sbus[i])
			worst = math.Max(worst, math.Abs(f[npvpq+r]))
		}
		if opts.Verbose > 1 {
			log.Printf("[AC Flow] iteration %d max mismatch %.3e\n", iter, worst)
		}
		if worst < tol {
			converged = true
			break
		}
		if iter >= maxIter || dim == 0 {
			break
		}

		j := n.jacobian(v, current, pvpq)
		rhs := mat.NewVecDense(dim, nil)
		for r := range f {
			rhs.SetVec(r, -f[r])
		}
		var dx mat.VecDense
		if err := dx.SolveVec(j, rhs); err != nil {
			log.Printf("[AC Flow] WARN singular Jacobian at iteration %d: %v\n", iter, err)
			break
		}
		for r, i := range pvpq {
			n.va[i] += dx.AtVec(r)
		}
		for r, i := range n.pq {
			n.vm[i] += dx.AtVec(npvpq + r)
		}
	}
	if !converged {
		log.Printf("[AC Flow] WARN did not converge in %d iterations\n", iter)
	}
	if opts.Verbose > 0 {
		log.Printf("[AC Flow] %d buses, %d iterations\n", len(c.Bus), iter)
	}
	return n.result(c, v, converged, iter), nil
}

// build assembles the bus admittance matrix and scheduled injections.
func build(c solver.Case) (*network, bool) {
	nb := len(c.Bus)
	idx := index.New("Bus")
	n := &network{
		base:   c.BaseMVA,
		y:      make([][]complex128, nb),
		sbus:   make([]complex128, nb),
		vm:     make([]float64, nb),
		va:     make([]float64, nb),
		genBus: make([]int, len(c.Gen)),
	}
	for i, b := range c.Bus {
		if _, err := idx.Register(b.Idx); err != nil {
			log.Printf("[AC Flow] WARN %v\n", err)
			return nil, false
		}
		n.y[i] = make([]complex128, nb)
		n.vm[i] = b.Vm
		if n.vm[i] == 0 {
			n.vm[i] = 1
		}
		n.va[i] = b.Va * math.Pi / 180
		n.sbus[i] = complex(-b.Pd/c.BaseMVA, -b.Qd/c.BaseMVA)
		switch b.Type {
		case solver.RefBus:
			n.ref = append(n.ref, i)
		case solver.PVBus:
			n.pv = append(n.pv, i)
		case solver.PQBus:
			n.pq = append(n.pq, i)
		}
	}
	if len(n.ref) == 0 {
		log.Println("[AC Flow] WARN no reference bus")
		return nil, false
	}

	for _, br := range c.Branch {
		if br.Status == 0 {
			continue
		}
		f, err := idx.UID(br.From)
		if err != nil || f == index.NoUID {
			log.Printf("[AC Flow] WARN branch %v: %v\n", br.Idx, err)
			return nil, false
		}
		t, err := idx.UID(br.To)
		if err != nil || t == index.NoUID {
			log.Printf("[AC Flow] WARN branch %v: %v\n", br.Idx, err)
			return nil, false
		}
		z := complex(br.R, br.X)
		if z == 0 {
			log.Printf("[AC Flow] WARN branch %v has zero impedance\n", br.Idx)
			return nil, false
		}
		tap := br.Tap
		if tap == 0 {
			tap = 1
		}
		ratio := cmplx.Rect(tap, br.Shift*math.Pi/180)
		ys := complex(br.Status, 0) / z
		ytt := ys + complex(0, br.Status*br.B/2)
		n.y[f][f] += ytt / (ratio * cmplx.Conj(ratio))
		n.y[f][t] += -ys / cmplx.Conj(ratio)
		n.y[t][f] += -ys / ratio
		n.y[t][t] += ytt
	}

	for i, g := range c.Gen {
		uid, err := idx.UID(g.Bus)
		if err != nil || uid == index.NoUID {
			log.Printf("[AC Flow] WARN generator %v: %v\n", g.Idx, err)
			return nil, false
		}
		n.genBus[i] = uid
		if g.Status == 0 {
			continue
		}
		n.sbus[uid] += complex(g.Pg/c.BaseMVA, g.Qg/c.BaseMVA)
		if g.Vg > 0 && c.Bus[uid].Type != solver.PQBus {
			n.vm[uid] = g.Vg
		}
	}
	return n, true
}

func (n *network) multiply(v []complex128) []complex128 {
	out := make([]complex128, len(v))
	for i, row := range n.y {
		for k, y := range row {
			out[i] += y * v[k]
		}
	}
	return out
}

// jacobian returns [dP/dVa dP/dVm; dQ/dVa dQ/dVm] over the unknown angles (PV
// and PQ buses) and magnitudes (PQ buses).
func (n *network) jacobian(v, current []complex128, pvpq []int) *mat.Dense {
	npvpq, npq := len(pvpq), len(n.pq)
	dim := npvpq + npq

	dVa := func(i, k int) complex128 {
		d := -n.y[i][k] * v[k]
		if i == k {
			d += current[i]
		}
		return complex(0, 1) * v[i] * cmplx.Conj(d)
	}
	dVm := func(i, k int) complex128 {
		unit := v[k] / complex(cmplx.Abs(v[k]), 0)
		d := v[i] * cmplx.Conj(n.y[i][k]*unit)
		if i == k {
			d += cmplx.Conj(current[i]) * unit
		}
		return d
	}

	j := mat.NewDense(dim, dim, nil)
	for r, i := range pvpq {
		for c, k := range pvpq {
			j.Set(r, c, real(dVa(i, k)))
		}
		for c, k := range n.pq {
			j.Set(r, npvpq+c, real(dVm(i, k)))
		}
	}
	for r, i := range n.pq {
		for c, k := range pvpq {
			j.Set(npvpq+r, c, imag(dVa(i, k)))
		}
		for c, k := range n.pq {
			j.Set(npvpq+r, npvpq+c, imag(dVm(i, k)))
		}
	}
	return j
}

// result converts the final voltages to a solver result. Reference generators
// share their bus's real power, generators on PV and reference buses share the
// bus reactive power.
func (n *network) result(c solver.Case, v []complex128, converged bool, iter int) solver.Result {
	res := solver.Result{
		Success:    converged,
		BaseMVA:    n.base,
		Iterations: iter,
		Vm:         make([]float64, len(v)),
		Va:         make([]float64, len(v)),
		Pg:         make([]float64, len(c.Gen)),
		Qg:         make([]float64, len(c.Gen)),
	}
	for i := range v {
		res.Vm[i] = n.vm[i]
		res.Va[i] = n.va[i] * 180 / math.Pi
	}
	current := n.multiply(v)

	online := make(map[int]int)
	for i, g := range c.Gen {
		if g.Status != 0 {
			online[n.genBus[i]]++
		}
	}
	isRef := make(map[int]bool)
	for _, i := range n.ref {
		isRef[i] = true
	}
	for i, g := range c.Gen {
		if g.Status == 0 {
			continue
		}
		bus := n.genBus[i]
		s := v[bus] * cmplx.Conj(current[bus]) * complex(n.base, 0)
		share := float64(online[bus])
		res.Pg[i] = g.Pg
		if isRef[bus] {
			res.Pg[i] = (real(s) + c.Bus[bus].Pd) / share
		}
		res.Qg[i] = g.Qg
		if c.Bus[bus].Type != solver.PQBus {
			res.Qg[i] = (imag(s) + c.Bus[bus].Qd) / share
		}
	}
	return res
}
