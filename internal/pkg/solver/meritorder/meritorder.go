/*
meritorder.go Single-bus economic dispatch. In-service generators start at pmin and are
loaded in order of increasing linear cost until demand is met, then a DC power flow places
the bus angles. Network limits are not enforced.
*/

package meritorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/ohowland/cgc_dispatch/internal/pkg/ptdf"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver/dcflow"
)

// Solver is the merit order dispatch adapter.
type Solver struct{}

// New returns the merit order adapter.
func New() Solver {
	return Solver{}
}

// Solve dispatches the case's demand. Demand outside the committed capacity
// range is an unsuccessful result, not an error.
func (s Solver) Solve(ctx context.Context, c solver.Case, opts solver.Options) (solver.Result, error) {
	if err := ctx.Err(); err != nil {
		return solver.Result{}, err
	}
	costs := make(map[interface{}]solver.CostRow)
	for _, cost := range c.GenCost {
		costs[cost.Gen] = cost
	}

	pg, ok := Dispatch(c, costs)
	if !ok {
		log.Printf("[Merit Order] WARN demand %.3f MW outside committed capacity\n", Demand(c))
		return dcflow.Initial(c), nil
	}

	res, err := dcflow.Flow(c, pg)
	if errors.Is(err, ptdf.ErrTopology) {
		log.Printf("[Merit Order] WARN %v\n", err)
		res = dcflow.Initial(c)
		copy(res.Pg, pg)
		return res, nil
	}
	if err != nil {
		return solver.Result{}, fmt.Errorf("merit order flow: %w", err)
	}
	// the dispatch is balanced, reference generators keep their merit order output
	copy(res.Pg, pg)
	res.Objective = Objective(c, costs, pg)
	if opts.Verbose > 0 {
		log.Printf("[Merit Order] dispatched %.3f MW at %.4f $/h\n", Demand(c), res.Objective)
	}
	return res, nil
}

// Demand is the total bus load in MW.
func Demand(c solver.Case) float64 {
	d := 0.0
	for _, b := range c.Bus {
		d += b.Pd
	}
	return d
}

// Dispatch returns generator outputs in MW covering the case demand, ok false
// when demand is below total pmin or above total pmax of in-service units.
func Dispatch(c solver.Case, costs map[interface{}]solver.CostRow) ([]float64, bool) {
	pg := make([]float64, len(c.Gen))
	order := make([]int, 0, len(c.Gen))
	remaining := Demand(c)
	for i, g := range c.Gen {
		if g.Status == 0 {
			continue
		}
		pg[i] = g.Pmin
		remaining -= g.Pmin
		order = append(order, i)
	}
	if remaining < 0 {
		return pg, false
	}

	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := costs[c.Gen[order[a]].Idx], costs[c.Gen[order[b]].Idx]
		if ca.C1 != cb.C1 {
			return ca.C1 < cb.C1
		}
		return ca.C2 < cb.C2
	})
	for _, i := range order {
		if remaining <= 0 {
			break
		}
		room := c.Gen[i].Pmax - pg[i]
		if room <= 0 {
			continue
		}
		if room > remaining {
			room = remaining
		}
		pg[i] += room
		remaining -= room
	}
	return pg, remaining <= 1e-9
}

// Objective evaluates the quadratic cost of pg in $/h.
func Objective(c solver.Case, costs map[interface{}]solver.CostRow, pg []float64) float64 {
	total := 0.0
	for i, g := range c.Gen {
		if g.Status == 0 {
			continue
		}
		cost := costs[g.Idx]
		total += cost.C2*pg[i]*pg[i] + cost.C1*pg[i] + cost.C0
	}
	return total
}
