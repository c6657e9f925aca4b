/*
solver.go Contract between routines and external solver adapters. A routine hands the
adapter a Case built from device data and reads back a Result; the adapter's algorithm is
opaque to the routine.
*/

package solver

import (
	"context"
	"fmt"
	"strings"
)

// Bus types.
const (
	PQBus    = 1
	PVBus    = 2
	RefBus   = 3
	Isolated = 4
)

// BusRow is one bus of a Case. Powers are in MW / MVAr, angles in degrees.
type BusRow struct {
	Idx    interface{}
	Type   int
	Pd     float64
	Qd     float64
	Vm     float64
	Va     float64
	BaseKV float64
	Vmax   float64
	Vmin   float64
	Zone   interface{}
}

// BranchRow is one series branch. Impedances are in p.u. on the system base.
type BranchRow struct {
	Idx    interface{}
	From   interface{}
	To     interface{}
	R      float64
	X      float64
	B      float64
	RateA  float64
	Tap    float64
	Shift  float64
	Status float64
}

// GenRow is one generator. Reference generators come first.
type GenRow struct {
	Idx    interface{}
	Bus    interface{}
	Pg     float64
	Qg     float64
	Qmax   float64
	Qmin   float64
	Vg     float64
	Mbase  float64
	Status float64
	Pmax   float64
	Pmin   float64
}

// CostRow is a quadratic generator cost in $/h with power in MW.
type CostRow struct {
	Gen interface{}
	C2  float64
	C1  float64
	C0  float64
}

// Case is the numeric problem handed to an adapter.
type Case struct {
	BaseMVA float64
	Bus     []BusRow
	Branch  []BranchRow
	Gen     []GenRow
	GenCost []CostRow
}

// NRef counts leading reference generators, those located on a RefBus.
func (c Case) NRef() int {
	ref := make(map[interface{}]bool)
	for _, b := range c.Bus {
		if b.Type == RefBus {
			ref[b.Idx] = true
		}
	}
	n := 0
	for _, g := range c.Gen {
		if !ref[g.Bus] {
			break
		}
		n++
	}
	return n
}

// Result is what an adapter returns. Vm/Va follow Case.Bus order, Pg/Qg follow
// Case.Gen order. Vars optionally carries named routine variable values, row-major.
type Result struct {
	Success    bool
	Objective  float64
	BaseMVA    float64
	Iterations int
	Vm         []float64
	Va         []float64
	Pg         []float64
	Qg         []float64
	Vars       map[string][]float64
}

// Algorithm selects the adapter behaviour.
type Algorithm int

// Supported algorithms.
const (
	DC Algorithm = iota
	ACNewton
	MeritOrder
)

var algorithmNames = map[Algorithm]string{
	DC:         "DC",
	ACNewton:   "ACNewton",
	MeritOrder: "MeritOrder",
}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm maps a configured name to an Algorithm, ignoring case.
func ParseAlgorithm(s string) (Algorithm, error) {
	for a, name := range algorithmNames {
		if strings.EqualFold(name, s) {
			return a, nil
		}
	}
	return DC, fmt.Errorf("solver: unknown algorithm %q", s)
}

// MarshalText encodes the algorithm name for JSON and YAML config files.
func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an algorithm name from JSON and YAML config files.
func (a *Algorithm) UnmarshalText(b []byte) error {
	parsed, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Options configures one solve.
type Options struct {
	Algorithm Algorithm `json:"Algorithm" yaml:"algorithm"`
	Tolerance float64   `json:"Tolerance" yaml:"tolerance"`
	MaxIter   int       `json:"MaxIter" yaml:"max_iter"`
	Verbose   int       `json:"Verbose" yaml:"verbose"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{Algorithm: DC, Tolerance: 1e-8, MaxIter: 10, Verbose: 0}
}

// Solver is an external solver adapter. Solve blocks until the adapter returns;
// cancellation is whatever the adapter does with ctx.
type Solver interface {
	Solve(ctx context.Context, c Case, opts Options) (Result, error)
}

// Func adapts a function to the Solver interface.
type Func func(ctx context.Context, c Case, opts Options) (Result, error)

// Solve calls f.
func (f Func) Solve(ctx context.Context, c Case, opts Options) (Result, error) {
	return f(ctx, c, opts)
}

// Set dispatches to a solver per algorithm.
type Set map[Algorithm]Solver

// Solve calls the solver registered for opts.Algorithm.
func (s Set) Solve(ctx context.Context, c Case, opts Options) (Result, error) {
	sv, ok := s[opts.Algorithm]
	if !ok {
		return Result{}, fmt.Errorf("solver: no adapter for %v", opts.Algorithm)
	}
	return sv.Solve(ctx, c, opts)
}
