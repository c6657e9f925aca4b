/*
routine.go One dispatch or power flow problem bound to a model's device data. A routine
declares its parameters and variables up front, binds them once at setup, hands the model
to a solver adapter and scatters the adapter's result back onto the devices.
*/

package routine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/device"
	"github.com/ohowland/cgc_dispatch/internal/pkg/param"
	"github.com/ohowland/cgc_dispatch/internal/pkg/ptdf"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownRoutine is returned for names outside the catalogue.
	ErrUnknownRoutine = errors.New("routine: unknown routine")

	// ErrNotSetup is returned by Solve before Setup has succeeded.
	ErrNotSetup = errors.New("routine: not set up")
)

// State of the routine lifecycle.
type State int

const (
	// Uninitialized routines have unbound declarations.
	Uninitialized State = iota
	// Initialized routines are bound and ready to solve.
	Initialized
	// Solved routines hold the result of a successful run.
	Solved
	// Failed routines hold the result of an unsuccessful run.
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Solved:
		return "Solved"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Model is the device data a routine binds to.
type Model interface {
	param.Registry
	Collection(model string) (*device.Collection, bool)
	BaseMVA() float64
	Case() (solver.Case, error)
	GenBuses() ([]interface{}, error)
	NonGenBuses() ([]interface{}, error)
	SetRecent(r *Routine)
}

// Report is the token returned by Run for downstream reporting.
type Report struct {
	ID        uuid.UUID `json:"ID"`
	Routine   string    `json:"Routine"`
	ExitCode  int       `json:"ExitCode"`
	ExecTime  float64   `json:"ExecTime"`
	Objective float64   `json:"Objective"`
	Success   bool      `json:"Success"`
	Finished  time.Time `json:"Finished"`
}

// Routine is a declared problem instance.
type Routine struct {
	name   string
	info   string
	model  Model
	solver solver.Solver
	opts   solver.Options

	params []*param.Param
	vars   []*param.Var

	// prepare runs before binding, build after binding.
	prepare func(r *Routine) error
	build   func(r *Routine) error

	ready     bool
	state     State
	exitCode  int
	execTime  time.Duration
	objective float64
	result    *solver.Result

	network   *ptdf.Network
	ptdfGen   *mat.Dense
	ptdfOther *mat.Dense
}

func newRoutine(name, info string, m Model, s solver.Solver, opts solver.Options) *Routine {
	return &Routine{
		name:   name,
		info:   info,
		model:  m,
		solver: s,
		opts:   opts,
		params: make([]*param.Param, 0),
		vars:   make([]*param.Var, 0),
	}
}

// Name of the routine.
func (r *Routine) Name() string { return r.name }

// Info is the human readable description.
func (r *Routine) Info() string { return r.info }

// State returns the lifecycle state.
func (r *Routine) State() State { return r.state }

// ExitCode of the last run: 0 on solver success, 1 otherwise.
func (r *Routine) ExitCode() int { return r.exitCode }

// ExecTime of the last run's solve.
func (r *Routine) ExecTime() time.Duration { return r.execTime }

// Objective of the last unpacked result.
func (r *Routine) Objective() float64 { return r.objective }

// Options returns the solver options used when a caller supplies none.
func (r *Routine) Options() solver.Options { return r.opts }

// Result returns the last unpacked result, nil before the first unpack.
func (r *Routine) Result() *solver.Result { return r.result }

// Params lists declared parameters in declaration order.
func (r *Routine) Params() []*param.Param { return r.params }

// Vars lists declared variables in declaration order.
func (r *Routine) Vars() []*param.Var { return r.vars }

// Param returns the named parameter.
func (r *Routine) Param(name string) (*param.Param, bool) {
	for _, p := range r.params {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Var returns the named variable.
func (r *Routine) Var(name string) (*param.Var, bool) {
	for _, v := range r.vars {
		if v.Name() == name {
			return v, true
		}
	}
	return nil, false
}

// Network returns the DC network built at setup, nil for routines without one.
func (r *Routine) Network() *ptdf.Network { return r.network }

// PTDF returns the generation-bus and other-bus column partitions built at setup.
func (r *Routine) PTDF() (*mat.Dense, *mat.Dense) { return r.ptdfGen, r.ptdfOther }

// AddParam declares a parameter. The routine must be set up again.
func (r *Routine) AddParam(p *param.Param) {
	r.params = append(r.params, p)
	r.Invalidate()
}

// AddVar declares a variable. The routine must be set up again.
func (r *Routine) AddVar(v *param.Var) {
	r.vars = append(r.vars, v)
	r.Invalidate()
}

// Setup binds every declaration and builds the routine's fixed structures. It is
// a no-op once done, until Invalidate. Parameters that cannot bind abort setup;
// variables that cannot bind are skipped at unpack.
func (r *Routine) Setup() error {
	if r.ready {
		return nil
	}
	if r.prepare != nil {
		if err := r.prepare(r); err != nil {
			return fmt.Errorf("<%s> setup: %w", r.name, err)
		}
	}
	for _, p := range r.params {
		if err := p.Bind(r.model); err != nil {
			return fmt.Errorf("<%s> setup: %w", r.name, err)
		}
	}
	for _, v := range r.vars {
		if err := v.Bind(r.model); err != nil {
			log.Printf("[Routine] WARN <%s> var %s unresolved: %v\n", r.name, v.Name(), err)
		}
	}
	if r.build != nil {
		if err := r.build(r); err != nil {
			return fmt.Errorf("<%s> setup: %w", r.name, err)
		}
	}
	r.ready = true
	r.state = Initialized
	log.Printf("[Routine] <%s> setup with %d params and %d vars\n", r.name, len(r.params), len(r.vars))
	return nil
}

// Invalidate returns the routine to Uninitialized after a structural model change.
func (r *Routine) Invalidate() {
	r.ready = false
	r.state = Uninitialized
	r.network = nil
	r.ptdfGen = nil
	r.ptdfOther = nil
}

// Solve hands the model to the solver adapter. Device data is not modified.
func (r *Routine) Solve(ctx context.Context, opts solver.Options) (solver.Result, error) {
	if !r.ready {
		return solver.Result{}, fmt.Errorf("<%s>: %w", r.name, ErrNotSetup)
	}
	c, err := r.model.Case()
	if err != nil {
		return solver.Result{}, fmt.Errorf("<%s> case: %w", r.name, err)
	}
	res, err := r.solver.Solve(ctx, c, opts)
	if err != nil {
		return solver.Result{}, fmt.Errorf("<%s> solve: %w", r.name, err)
	}
	return res, nil
}

// Unpack writes a result onto the devices: bus voltage and angle, reference then
// remaining generator output, then every variable whose owner is resolved.
// Adapter powers are in MW and angles in degrees; devices hold p.u. and radians.
func (r *Routine) Unpack(res solver.Result) error {
	base := res.BaseMVA
	if base == 0 {
		base = r.model.BaseMVA()
	}

	if bus, ok := r.model.Collection("Bus"); ok {
		if err := bus.Assign("v", res.Vm); err != nil {
			return fmt.Errorf("<%s> unpack: %w", r.name, err)
		}
		if err := bus.Assign("a", scale(res.Va, math.Pi/180)); err != nil {
			return fmt.Errorf("<%s> unpack: %w", r.name, err)
		}
	}

	pg, qg := scale(res.Pg, 1/base), scale(res.Qg, 1/base)
	offset := 0
	for _, model := range []string{"Slack", "PV"} {
		gen, ok := r.model.Collection(model)
		if !ok {
			continue
		}
		n := gen.N()
		if offset+n > len(pg) || offset+n > len(qg) {
			return fmt.Errorf("<%s> unpack: %d generator results for %s devices from %d: %w",
				r.name, len(pg), model, offset, device.ErrShapeMismatch)
		}
		if err := gen.Assign("p", pg[offset:offset+n]); err != nil {
			return fmt.Errorf("<%s> unpack: %w", r.name, err)
		}
		if err := gen.Assign("q", qg[offset:offset+n]); err != nil {
			return fmt.Errorf("<%s> unpack: %w", r.name, err)
		}
		offset += n
	}

	for _, v := range r.vars {
		values, named := res.Vars[v.Name()]
		if v.Src() == "" {
			if named {
				if err := v.SetValue(values); err != nil {
					log.Printf("[Routine] WARN <%s> var %s: %v\n", r.name, v.Name(), err)
				}
			}
			continue
		}
		owner := v.Owner()
		if owner == nil || !owner.Has(v.Src()) {
			log.Printf("[Routine] WARN <%s> var %s: cannot resolve %s.%s, skipped\n",
				r.name, v.Name(), v.OwnerName(), v.Src())
			continue
		}
		if named {
			if err := v.SetValue(values); err != nil {
				log.Printf("[Routine] WARN <%s> var %s: %v\n", r.name, v.Name(), err)
				continue
			}
			if err := v.Writeback(owner); err != nil {
				log.Printf("[Routine] WARN <%s> var %s: %v\n", r.name, v.Name(), err)
			}
			continue
		}
		if err := v.Load(); err != nil {
			log.Printf("[Routine] WARN <%s> var %s: %v\n", r.name, v.Name(), err)
		}
	}

	r.objective = res.Objective
	r.result = &res
	r.model.SetRecent(r)
	return nil
}

func scale(values []float64, k float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * k
	}
	return out
}

// Run sets up if needed, solves and unpacks. The result is unpacked even when the
// solver reports failure; the exit code carries the solver's success flag. An
// error is returned only when the adapter or unpack itself fails.
func (r *Routine) Run(ctx context.Context, opts solver.Options) (Report, error) {
	report := Report{ID: uuid.New(), Routine: r.name, ExitCode: 1}
	if err := r.Setup(); err != nil {
		return report, err
	}

	start := time.Now()
	res, err := r.Solve(ctx, opts)
	r.execTime = time.Since(start)
	report.ExecTime = r.execTime.Seconds()
	if err != nil {
		r.exitCode = 1
		r.state = Failed
		log.Printf("[Routine] <%s> failed after %.4f seconds: %v\n", r.name, report.ExecTime, err)
		report.Finished = time.Now()
		return report, err
	}

	r.exitCode = 1
	if res.Success {
		r.exitCode = 0
	}
	if err := r.Unpack(res); err != nil {
		r.exitCode = 1
		r.state = Failed
		report.Finished = time.Now()
		return report, err
	}
	r.state = Failed
	if res.Success {
		r.state = Solved
	}
	log.Printf("[Routine] <%s> completed in %.4f seconds with exit code %d\n", r.name, report.ExecTime, r.exitCode)

	report.ExitCode = r.exitCode
	report.Objective = r.objective
	report.Success = res.Success
	report.Finished = time.Now()
	return report, nil
}

// VarSummary describes one declared variable.
type VarSummary struct {
	Name  string `json:"Name"`
	Owner string `json:"Owner"`
	Src   string `json:"Src"`
	Rows  int    `json:"Rows"`
	Cols  int    `json:"Cols"`
}

// Summary is a snapshot of a routine for reporting surfaces.
type Summary struct {
	Name      string       `json:"Name"`
	Info      string       `json:"Info"`
	State     string       `json:"State"`
	ExitCode  int          `json:"ExitCode"`
	ExecTime  float64      `json:"ExecTime"`
	Objective float64      `json:"Objective"`
	Algorithm string       `json:"Algorithm"`
	Params    []string     `json:"Params"`
	Vars      []VarSummary `json:"Vars"`
}

// Summary snapshots the routine.
func (r *Routine) Summary() Summary {
	s := Summary{
		Name:      r.name,
		Info:      r.info,
		State:     r.state.String(),
		ExitCode:  r.exitCode,
		ExecTime:  r.execTime.Seconds(),
		Objective: r.objective,
		Algorithm: r.opts.Algorithm.String(),
		Params:    make([]string, len(r.params)),
		Vars:      make([]VarSummary, len(r.vars)),
	}
	for i, p := range r.params {
		s.Params[i] = p.Name()
	}
	for i, v := range r.vars {
		rows, cols := v.Shape()
		s.Vars[i] = VarSummary{v.Name(), v.OwnerName(), v.Src(), rows, cols}
	}
	return s
}

func (r *Routine) String() string {
	return fmt.Sprintf("%s(%s)", r.name, r.state)
}
