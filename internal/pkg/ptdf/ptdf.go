/*
ptdf.go DC power transfer distribution factors. Build assembles the branch-bus incidence
and susceptance matrices from a case's bus and branch tables, fixes the reference bus angle
and solves for the sensitivity of every branch flow to every bus injection.
*/

package ptdf

import (
	"errors"
	"fmt"

	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"gonum.org/v1/gonum/mat"
)

// ErrTopology is returned for networks the DC sensitivity cannot be built for.
var ErrTopology = errors.New("ptdf: ill-posed network topology")

// Network holds the DC network matrices. Columns follow bus table order, rows
// follow branch table order.
type Network struct {
	BaseMVA float64
	Index   *index.Index // bus idx to column
	Ref     int          // reference bus column
	PTDF    *mat.Dense   // (n-branches, n-buses)
	Cft     *mat.Dense   // +1 at the from bus, -1 at the to bus
	Bbus    *mat.Dense
	Bf      *mat.Dense

	noRef []int
	xRed  *mat.Dense // inverse of Bbus without the reference row and column
}

// Build computes the network matrices. Series susceptance is status/(x*tap), with
// a zero tap read as 1.
func Build(base float64, buses []solver.BusRow, branches []solver.BranchRow) (*Network, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("no branches: %w", ErrTopology)
	}
	if len(buses) == 0 {
		return nil, fmt.Errorf("no buses: %w", ErrTopology)
	}

	idx := index.New("Bus")
	ref := index.NoUID
	for _, b := range buses {
		uid, err := idx.Register(b.Idx)
		if err != nil {
			return nil, fmt.Errorf("bus table: %w: %w", ErrTopology, err)
		}
		if b.Type == solver.RefBus && ref == index.NoUID {
			ref = uid
		}
	}
	if ref == index.NoUID {
		return nil, fmt.Errorf("no reference bus: %w", ErrTopology)
	}

	nb, nl := len(buses), len(branches)
	cft := mat.NewDense(nl, nb, nil)
	bf := mat.NewDense(nl, nb, nil)
	adj := make([][]int, nb)
	for l, br := range branches {
		f, err := idx.UID(br.From)
		if err != nil {
			return nil, fmt.Errorf("branch %v from bus: %w: %w", br.Idx, ErrTopology, err)
		}
		t, err := idx.UID(br.To)
		if err != nil {
			return nil, fmt.Errorf("branch %v to bus: %w: %w", br.Idx, ErrTopology, err)
		}
		if f == index.NoUID || t == index.NoUID {
			return nil, fmt.Errorf("branch %v has no terminal bus: %w", br.Idx, ErrTopology)
		}
		cft.Set(l, f, 1)
		cft.Set(l, t, -1)

		if br.Status == 0 {
			continue
		}
		if br.X == 0 {
			return nil, fmt.Errorf("branch %v has zero reactance: %w", br.Idx, ErrTopology)
		}
		tap := br.Tap
		if tap == 0 {
			tap = 1
		}
		b := br.Status / (br.X * tap)
		bf.Set(l, f, b)
		bf.Set(l, t, -b)
		adj[f] = append(adj[f], t)
		adj[t] = append(adj[t], f)
	}

	if island := unreachable(adj, ref); len(island) > 0 {
		return nil, fmt.Errorf("%d bus(es) not connected to the reference bus, first at column %d: %w",
			len(island), island[0], ErrTopology)
	}

	var bbus mat.Dense
	bbus.Mul(cft.T(), bf)

	n := &Network{
		BaseMVA: base,
		Index:   idx,
		Ref:     ref,
		PTDF:    mat.NewDense(nl, nb, nil),
		Cft:     cft,
		Bbus:    &bbus,
		Bf:      bf,
		noRef:   make([]int, 0, nb-1),
	}
	for i := 0; i < nb; i++ {
		if i != ref {
			n.noRef = append(n.noRef, i)
		}
	}
	if len(n.noRef) == 0 {
		return n, nil
	}

	bred := mat.NewDense(len(n.noRef), len(n.noRef), nil)
	for i, r := range n.noRef {
		for j, c := range n.noRef {
			bred.Set(i, j, bbus.At(r, c))
		}
	}
	var xred mat.Dense
	if err := xred.Inverse(bred); err != nil {
		return nil, fmt.Errorf("reduced susceptance matrix: %v: %w", err, ErrTopology)
	}
	n.xRed = &xred

	bfRed := Columns(bf, n.noRef)
	var red mat.Dense
	red.Mul(bfRed, &xred)
	for j, c := range n.noRef {
		for l := 0; l < nl; l++ {
			n.PTDF.Set(l, c, red.At(l, j))
		}
	}
	return n, nil
}

// unreachable returns the columns not connected to ref.
func unreachable(adj [][]int, ref int) []int {
	seen := make([]bool, len(adj))
	seen[ref] = true
	queue := []int{ref}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	out := make([]int, 0)
	for i, ok := range seen {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// Columns copies the listed columns of m, in list order. It returns nil for an
// empty list since gonum has no zero-width matrices.
func Columns(m *mat.Dense, cols []int) *mat.Dense {
	if len(cols) == 0 {
		return nil
	}
	r, _ := m.Dims()
	out := mat.NewDense(r, len(cols), nil)
	col := make([]float64, r)
	for j, c := range cols {
		mat.Col(col, c, m)
		out.SetCol(j, col)
	}
	return out
}

// Partition slices the PTDF columns for the generation-bearing buses and for all
// other buses, each in the order given. Together the lists must name every bus
// exactly once, so genBus carries one column per bus, not per generator: with
// two generators on one bus the gen partition is narrower than pg and callers
// sum pg per bus before multiplying.
func (n *Network) Partition(genBus, otherBus []interface{}) (*mat.Dense, *mat.Dense, error) {
	gen, err := n.Index.UIDs(genBus)
	if err != nil {
		return nil, nil, fmt.Errorf("generation bus list: %w: %w", ErrTopology, err)
	}
	other, err := n.Index.UIDs(otherBus)
	if err != nil {
		return nil, nil, fmt.Errorf("non-generation bus list: %w: %w", ErrTopology, err)
	}

	seen := make([]int, n.Index.Len())
	for _, uid := range append(append([]int{}, gen...), other...) {
		if uid == index.NoUID {
			return nil, nil, fmt.Errorf("nil bus in partition: %w", ErrTopology)
		}
		seen[uid]++
	}
	for uid, count := range seen {
		if count != 1 {
			return nil, nil, fmt.Errorf("bus %v appears %d times in partition: %w",
				n.Index.Idx()[uid], count, ErrTopology)
		}
	}
	return Columns(n.PTDF, gen), Columns(n.PTDF, other), nil
}

// Angles solves B*theta = p for bus angles in radians, p in p.u. and in bus order.
// The reference angle is zero.
func (n *Network) Angles(p []float64) ([]float64, error) {
	nb := n.Index.Len()
	if len(p) != nb {
		return nil, fmt.Errorf("ptdf: %d injections for %d buses", len(p), nb)
	}
	theta := make([]float64, nb)
	if n.xRed == nil {
		return theta, nil
	}
	pr := mat.NewVecDense(len(n.noRef), nil)
	for i, c := range n.noRef {
		pr.SetVec(i, p[c])
	}
	var tr mat.VecDense
	tr.MulVec(n.xRed, pr)
	for i, c := range n.noRef {
		theta[c] = tr.AtVec(i)
	}
	return theta, nil
}

// Flows returns branch flows in p.u. for bus injections p in p.u.
func (n *Network) Flows(p []float64) ([]float64, error) {
	nl, nb := n.PTDF.Dims()
	if len(p) != nb {
		return nil, fmt.Errorf("ptdf: %d injections for %d buses", len(p), nb)
	}
	var f mat.VecDense
	f.MulVec(n.PTDF, mat.NewVecDense(nb, p))
	out := make([]float64, nl)
	for l := range out {
		out[l] = f.AtVec(l)
	}
	return out, nil
}
