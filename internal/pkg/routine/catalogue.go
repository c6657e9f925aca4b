package routine

import (
	"fmt"
	"log"
	"sort"

	"github.com/ohowland/cgc_dispatch/internal/pkg/device"
	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"github.com/ohowland/cgc_dispatch/internal/pkg/param"
	"github.com/ohowland/cgc_dispatch/internal/pkg/ptdf"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

// All lists the routine catalogue in declaration order.
var All = []string{"DCPF", "PFlow", "DCOPF", "ACOPF", "ED", "UC"}

// DefaultHorizon is the interval count of multi-period routines.
const DefaultHorizon = 24

// New declares the named routine against m.
func New(name string, m Model, s solver.Solver) (*Routine, error) {
	switch name {
	case "DCPF":
		return NewDCPF(m, s), nil
	case "PFlow":
		return NewPFlow(m, s), nil
	case "DCOPF":
		return NewDCOPF(m, s), nil
	case "ACOPF":
		return NewACOPF(m, s), nil
	case "ED":
		return NewED(m, s, DefaultHorizon), nil
	case "UC":
		return NewUC(m, s, DefaultHorizon), nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownRoutine)
}

func withAlgorithm(a solver.Algorithm) solver.Options {
	opts := solver.DefaultOptions()
	opts.Algorithm = a
	return opts
}

func declareFlow(r *Routine) {
	r.AddParam(param.New(param.Decl{Name: "x", Owner: "Line", Info: "line reactance", Unit: "p.u."}))
	r.AddParam(param.New(param.Decl{Name: "tap", Owner: "Line", Info: "transformer tap ratio", Unit: "float"}))
	r.AddParam(param.New(param.Decl{Name: "phi", Owner: "Line", Info: "transformer phase shift", Unit: "rad"}))
	r.AddParam(param.New(param.Decl{Name: "pd", Src: "p0", Owner: "StaticLoad", Info: "active demand", Unit: "p.u."}))

	r.AddVar(param.NewVar(param.Decl{Name: "aBus", Src: "a", Owner: "Bus", Info: "bus voltage angle", Unit: "rad"}))
	r.AddVar(param.NewVar(param.Decl{Name: "pg", Src: "p", Owner: "StaticGen", Info: "generator active power", Unit: "p.u."}))
}

func declareAC(r *Routine) {
	r.AddParam(param.New(param.Decl{Name: "qd", Src: "q0", Owner: "StaticLoad", Info: "reactive demand", Unit: "p.u."}))
	r.AddVar(param.NewVar(param.Decl{Name: "vBus", Src: "v", Owner: "Bus", Info: "bus voltage magnitude", Unit: "p.u."}))
	r.AddVar(param.NewVar(param.Decl{Name: "qg", Src: "q", Owner: "StaticGen", Info: "generator reactive power", Unit: "p.u."}))
}

func declareOPF(r *Routine) {
	r.AddParam(param.New(param.Decl{Name: "c2", Owner: "GCost", Info: "gen cost coefficient 2", Unit: "$/(p.u.^2)"}))
	r.AddParam(param.New(param.Decl{Name: "c1", Owner: "GCost", Info: "gen cost coefficient 1", Unit: "$/(p.u.)"}))
	r.AddParam(param.New(param.Decl{Name: "c0", Owner: "GCost", Info: "gen cost coefficient 0", Unit: "$"}))
	r.AddParam(param.New(param.Decl{Name: "pmax", Owner: "StaticGen", Info: "generator maximum active power", Unit: "p.u."}))
	r.AddParam(param.New(param.Decl{Name: "pmin", Owner: "StaticGen", Info: "generator minimum active power", Unit: "p.u."}))
	r.AddParam(param.New(param.Decl{Name: "rate_a", Owner: "Line", Info: "long term flow limit", Unit: "MVA"}))
	r.AddVar(param.NewVar(param.Decl{Name: "plf", Owner: "Line", Info: "line active power flow", Unit: "p.u."}))
	r.build = buildPTDF
}

// buildPTDF builds the DC network and its generation-bus partition.
func buildPTDF(r *Routine) error {
	c, err := r.model.Case()
	if err != nil {
		return err
	}
	net, err := ptdf.Build(c.BaseMVA, c.Bus, c.Branch)
	if err != nil {
		return err
	}
	genBus, err := r.model.GenBuses()
	if err != nil {
		return err
	}
	other, err := r.model.NonGenBuses()
	if err != nil {
		return err
	}
	gen, rest, err := net.Partition(genBus, other)
	if err != nil {
		return err
	}
	r.network, r.ptdfGen, r.ptdfOther = net, gen, rest
	return nil
}

// NewDCPF declares a DC power flow.
func NewDCPF(m Model, s solver.Solver) *Routine {
	r := newRoutine("DCPF", "DC Power Flow", m, s, withAlgorithm(solver.DC))
	declareFlow(r)
	r.AddVar(param.NewVar(param.Decl{Name: "plf", Owner: "Line", Info: "line active power flow", Unit: "p.u."}))
	return r
}

// NewPFlow declares an AC power flow.
func NewPFlow(m Model, s solver.Solver) *Routine {
	r := newRoutine("PFlow", "AC Power Flow", m, s, withAlgorithm(solver.ACNewton))
	declareFlow(r)
	declareAC(r)
	return r
}

// NewDCOPF declares a DC optimal power flow.
func NewDCOPF(m Model, s solver.Solver) *Routine {
	r := newRoutine("DCOPF", "DC Optimal Power Flow", m, s, withAlgorithm(solver.MeritOrder))
	declareFlow(r)
	declareOPF(r)
	return r
}

// NewACOPF declares an AC optimal power flow.
func NewACOPF(m Model, s solver.Solver) *Routine {
	r := newRoutine("ACOPF", "AC Optimal Power Flow", m, s, withAlgorithm(solver.MeritOrder))
	declareFlow(r)
	declareOPF(r)
	declareAC(r)
	return r
}

// NewED declares a multi-period economic dispatch over nt intervals.
func NewED(m Model, s solver.Solver, nt int) *Routine {
	r := newRoutine("ED", "Economic Dispatch", m, s, withAlgorithm(solver.MeritOrder))
	declareFlow(r)
	declareOPF(r)
	declareED(r, nt)
	return r
}

func declareED(r *Routine, nt int) {
	r.AddParam(param.NewValue(param.Decl{Name: "nt", Info: "number of rolling intervals", Unit: "int"}, []float64{float64(nt)}))
	r.AddParam(param.New(param.Decl{Name: "R10", Owner: "StaticGen", Info: "10-min ramp rate", Unit: "p.u./h"}))
	ptdfBuild := r.build
	r.build = func(r *Routine) error {
		if err := ptdfBuild(r); err != nil {
			return err
		}
		n, err := r.Horizon()
		if err != nil {
			return err
		}
		if pg, ok := r.Var("pg"); ok {
			pg.BindHorizon(n)
		}
		return nil
	}
}

// Horizon reads the interval count from the nt parameter, 0 when the routine
// has none.
func (r *Routine) Horizon() (int, error) {
	p, ok := r.Param("nt")
	if !ok {
		return 0, nil
	}
	v, err := p.Value()
	if err != nil {
		return 0, err
	}
	if len(v) != 1 || v[0] < 1 {
		return 0, fmt.Errorf("<%s> nt=%v: %w", r.name, v, device.ErrBadValue)
	}
	return int(v[0]), nil
}

// SetHorizon replaces the interval count and invalidates the routine.
func (r *Routine) SetHorizon(nt int) error {
	for i, p := range r.params {
		if p.Name() == "nt" {
			r.params[i] = param.NewValue(param.Decl{Name: "nt", Info: p.Info(), Unit: p.Unit()}, []float64{float64(nt)})
			r.Invalidate()
			return nil
		}
	}
	return fmt.Errorf("<%s> has no horizon", r.name)
}

// NewUC declares a unit commitment over nt intervals.
func NewUC(m Model, s solver.Solver, nt int) *Routine {
	r := newRoutine("UC", "Unit Commitment", m, s, withAlgorithm(solver.MeritOrder))
	declareFlow(r)
	declareOPF(r)
	declareED(r, nt)

	r.AddParam(param.New(param.Decl{Name: "csu", Owner: "GCost", Info: "startup cost", Unit: "$"}))
	r.AddParam(param.New(param.Decl{Name: "csd", Owner: "GCost", Info: "shutdown cost", Unit: "$"}))
	r.AddParam(param.New(param.Decl{Name: "td1", Owner: "StaticGen", Info: "minimum ON duration", Unit: "h"}))
	r.AddParam(param.New(param.Decl{Name: "td2", Owner: "StaticGen", Info: "minimum OFF duration", Unit: "h"}))
	r.AddParam(param.New(param.Decl{Name: "Sn", Owner: "StaticGen", Info: "generator capacity", Unit: "MW"}))

	r.AddVar(param.NewVar(param.Decl{Name: "ugd", Src: "u", Owner: "StaticGen", Info: "commitment decision"}))
	r.AddVar(param.NewVar(param.Decl{Name: "vgd", Src: "u", Owner: "StaticGen", Info: "startup action"}))
	r.AddVar(param.NewVar(param.Decl{Name: "wgd", Src: "u", Owner: "StaticGen", Info: "shutdown action"}))
	r.AddVar(param.NewVar(param.Decl{Name: "zug", Owner: "StaticGen", Info: "aux var for ugd"}))

	edBuild := r.build
	r.build = func(r *Routine) error {
		if err := edBuild(r); err != nil {
			return err
		}
		n, err := r.Horizon()
		if err != nil {
			return err
		}
		for _, name := range []string{"ugd", "vgd", "wgd", "zug"} {
			if v, ok := r.Var(name); ok {
				v.BindHorizon(n)
			}
		}
		return nil
	}
	r.prepare = initialGuess
	return r
}

// initialGuess turns off the 30% of PV generators with the lowest weighted cost
// when every PV generator starts online.
func initialGuess(r *Routine) error {
	pv, ok := r.model.Collection("PV")
	if !ok || pv.N() == 0 {
		return nil
	}
	idx := pv.Idx()
	u, err := pv.Get("u", idx, device.GetOpts{})
	if err != nil {
		return err
	}
	for _, x := range u {
		if x == 0 {
			return nil
		}
	}
	log.Printf("[Routine] WARN <%s> all generators are online at initial, making initial guess for commitment\n", r.name)

	sn, err := pv.Get("Sn", idx, device.GetOpts{})
	if err != nil {
		return err
	}
	costs, err := costsOf(r.model, idx)
	if err != nil {
		return err
	}

	type unit struct {
		idx  interface{}
		wsum float64
	}
	units := make([]unit, len(idx))
	for i := range idx {
		c := costs[i]
		units[i] = unit{idx[i], 0.4*c[0] + 0.3*c[1] + 0.2*c[2] + 0.1*sn[i]}
	}
	sort.SliceStable(units, func(a, b int) bool { return units[a].wsum < units[b].wsum })

	off := make([]interface{}, int(0.3*float64(len(units))))
	for i := range off {
		off[i] = units[i].idx
	}
	if len(off) == 0 {
		return nil
	}
	if err := pv.Set("u", off, make([]float64, len(off))); err != nil {
		return err
	}
	log.Printf("[Routine] WARN <%s> turn off StaticGen %v as initial guess for commitment\n", r.name, off)
	return nil
}

// costsOf returns [c2, c1, c0] for each generator idx, zero where no GCost
// device names the generator.
func costsOf(m Model, gens []interface{}) ([][3]float64, error) {
	out := make([][3]float64, len(gens))
	gcost, ok := m.Collection("GCost")
	if !ok || gcost.N() == 0 {
		return out, nil
	}
	owners, err := gcost.GetIdx("gen", gcost.Idx())
	if err != nil {
		return nil, err
	}
	byGen := make(map[interface{}]interface{})
	for i, g := range owners {
		if g == nil {
			continue
		}
		if _, seen := byGen[g]; !seen {
			byGen[g] = gcost.Idx()[i]
		}
	}
	for i, g := range gens {
		costIdx, ok := byGen[index.Normalize(g)]
		if !ok {
			continue
		}
		for k, src := range []string{"c2", "c1", "c0"} {
			v, err := gcost.Get(src, []interface{}{costIdx}, device.GetOpts{})
			if err != nil {
				return nil, err
			}
			out[i][k] = v[0]
		}
	}
	return out, nil
}
