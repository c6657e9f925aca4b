/*
dcflow.go DC power flow. Bus angles follow from B*theta = P on the network built by the
ptdf package; generators on the reference bus pick up whatever the other injections leave
unbalanced. Voltage magnitudes are held at their case values and reactive power is zero.
*/

package dcflow

import (
	"context"
	"errors"
	"log"
	"math"

	"github.com/ohowland/cgc_dispatch/internal/pkg/ptdf"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

// Solver is the DC power flow adapter.
type Solver struct{}

// New returns the DC power flow adapter.
func New() Solver {
	return Solver{}
}

// Solve runs a DC power flow at the generator outputs given in c. An unusable
// network is reported as an unsuccessful result carrying the case values.
func (s Solver) Solve(ctx context.Context, c solver.Case, opts solver.Options) (solver.Result, error) {
	if err := ctx.Err(); err != nil {
		return solver.Result{}, err
	}
	pg := make([]float64, len(c.Gen))
	for i, g := range c.Gen {
		pg[i] = g.Pg * g.Status
	}
	res, err := Flow(c, pg)
	if errors.Is(err, ptdf.ErrTopology) {
		log.Printf("[DC Flow] WARN %v\n", err)
		return Initial(c), nil
	}
	if err != nil {
		return solver.Result{}, err
	}
	if opts.Verbose > 0 {
		log.Printf("[DC Flow] %d buses, %d branches solved\n", len(c.Bus), len(c.Branch))
	}
	return res, nil
}

// Initial returns an unsuccessful result holding the case's starting point.
func Initial(c solver.Case) solver.Result {
	res := solver.Result{
		Success: false,
		BaseMVA: c.BaseMVA,
		Vm:      make([]float64, len(c.Bus)),
		Va:      make([]float64, len(c.Bus)),
		Pg:      make([]float64, len(c.Gen)),
		Qg:      make([]float64, len(c.Gen)),
	}
	for i, b := range c.Bus {
		res.Vm[i] = b.Vm
		res.Va[i] = b.Va
	}
	for i, g := range c.Gen {
		res.Pg[i] = g.Pg
		res.Qg[i] = g.Qg
	}
	return res
}

// Flow solves the DC network for generator outputs pg in MW. Generators on the
// reference bus share the mismatch equally and their entries in the returned
// Pg are replaced. The result carries line flows in p.u. under Vars["plf"].
func Flow(c solver.Case, pg []float64) (solver.Result, error) {
	net, err := ptdf.Build(c.BaseMVA, c.Bus, c.Branch)
	if err != nil {
		return solver.Result{}, err
	}
	base := c.BaseMVA
	nb := net.Index.Len()

	p := make([]float64, nb)
	for i, b := range c.Bus {
		p[i] -= b.Pd / base
	}
	refGens := make([]int, 0)
	for i, g := range c.Gen {
		uid, err := net.Index.UID(g.Bus)
		if err != nil {
			return solver.Result{}, err
		}
		if g.Status == 0 {
			continue
		}
		if uid == net.Ref {
			refGens = append(refGens, i)
			continue
		}
		p[uid] += pg[i] / base
	}

	mismatch := 0.0
	for _, x := range p {
		mismatch += x
	}
	out := make([]float64, len(pg))
	copy(out, pg)
	for _, i := range refGens {
		out[i] = -mismatch * base / float64(len(refGens))
	}
	if len(refGens) > 0 {
		p[net.Ref] -= mismatch
	}

	theta, err := net.Angles(p)
	if err != nil {
		return solver.Result{}, err
	}
	flows, err := net.Flows(p)
	if err != nil {
		return solver.Result{}, err
	}

	refVa := c.Bus[net.Ref].Va
	res := solver.Result{
		Success:    true,
		BaseMVA:    base,
		Iterations: 1,
		Vm:         make([]float64, nb),
		Va:         make([]float64, nb),
		Pg:         out,
		Qg:         make([]float64, len(pg)),
		Vars:       map[string][]float64{"plf": make([]float64, len(flows))},
	}
	for i, b := range c.Bus {
		res.Vm[i] = b.Vm
		res.Va[i] = refVa + theta[i]*180/math.Pi
	}
	for l, f := range flows {
		res.Vars["plf"][l] = f
	}
	return res, nil
}
