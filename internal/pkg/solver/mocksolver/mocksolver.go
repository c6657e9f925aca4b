package mocksolver

import (
	"context"
	"sync"

	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

// MockSolver returns scripted results in order and records the cases it saw.
// When the script runs out the last entry repeats.
type MockSolver struct {
	mux    *sync.Mutex
	script []Step
	Calls  []solver.Case
}

// Step is one scripted response.
type Step struct {
	Result solver.Result
	Err    error
}

// New returns a MockSolver playing steps.
func New(steps ...Step) *MockSolver {
	return &MockSolver{&sync.Mutex{}, steps, make([]solver.Case, 0)}
}

// Solve implements solver.Solver.
func (m *MockSolver) Solve(ctx context.Context, c solver.Case, opts solver.Options) (solver.Result, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.Calls = append(m.Calls, c)
	if len(m.script) == 0 {
		return solver.Result{}, nil
	}
	step := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	return step.Result, step.Err
}

// Echo returns a result that restates the case: bus voltages and generator
// outputs as given, with the requested success flag.
func Echo(c solver.Case, success bool) solver.Result {
	res := solver.Result{
		Success: success,
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
