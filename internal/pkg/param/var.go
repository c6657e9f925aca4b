package param

import (
	"fmt"
	"log"

	"github.com/ohowland/cgc_dispatch/internal/pkg/device"
	"gonum.org/v1/gonum/mat"
)

// Var is a routine decision variable. Values are stored row-major with one row
// per device and one column per horizon interval.
type Var struct {
	decl    Decl
	owner   device.Owner
	horizon int
	v       []float64
}

// NewVar declares a variable. A Var with an empty Src is never written back.
func NewVar(decl Decl) *Var {
	return &Var{decl: decl}
}

// Name is the variable name inside its routine.
func (v *Var) Name() string { return v.decl.Name }

// Src is the owner attribute the variable maps to.
func (v *Var) Src() string { return v.decl.Src }

// OwnerName is the declared owner token.
func (v *Var) OwnerName() string { return v.decl.Owner }

// Info is the human readable description.
func (v *Var) Info() string { return v.decl.Info }

// Owner returns the bound source owner, nil when unresolved.
func (v *Var) Owner() device.Owner { return v.owner }

// Bind resolves the source owner. Unlike Param, a failed bind is not fatal:
// the variable is skipped at unpack time.
func (v *Var) Bind(r Registry) error {
	v.owner = nil
	if v.decl.Src == "" {
		owner, ok := r.Owner(v.decl.Owner)
		if ok {
			v.owner = owner
		}
		return nil
	}
	owner, err := resolve(r, v.decl)
	if err != nil {
		return err
	}
	v.owner = owner
	return nil
}

// BindHorizon sets the interval count. Existing storage is left alone; only the
// shape contract checked by SetValue changes.
func (v *Var) BindHorizon(n int) {
	if n < 0 {
		n = 0
	}
	v.horizon = n
}

// Horizon is the interval count, 0 for single period variables.
func (v *Var) Horizon() int { return v.horizon }

// Shape returns (devices, intervals). Intervals is 1 without a horizon.
func (v *Var) Shape() (int, int) {
	cols := v.horizon
	if cols == 0 {
		cols = 1
	}
	if v.owner != nil {
		return v.owner.N(), cols
	}
	return len(v.v) / cols, cols
}

// Value returns the flat row-major values.
func (v *Var) Value() []float64 { return v.v }

// Matrix returns a (devices, intervals) view sharing the variable storage.
func (v *Var) Matrix() *mat.Dense {
	r, c := v.Shape()
	if r == 0 || len(v.v) != r*c {
		return nil
	}
	return mat.NewDense(r, c, v.v)
}

// At returns the value of device row i in interval t.
func (v *Var) At(i, t int) float64 {
	_, c := v.Shape()
	return v.v[i*c+t]
}

// SetValue replaces the values after checking them against the shape contract.
func (v *Var) SetValue(values []float64) error {
	r, c := v.Shape()
	if v.owner != nil && len(values) != r*c {
		return fmt.Errorf("<%s>: got %d values for shape (%d, %d): %w",
			v.decl.Name, len(values), r, c, device.ErrShapeMismatch)
	}
	if v.owner == nil && len(values)%c != 0 {
		return fmt.Errorf("<%s>: got %d values for %d intervals: %w",
			v.decl.Name, len(values), c, device.ErrShapeMismatch)
	}
	v.v = make([]float64, len(values))
	copy(v.v, values)
	return nil
}

// Load copies the owner's current values into the variable. Horizon variables
// receive the same value in every interval.
func (v *Var) Load() error {
	if v.owner == nil || v.decl.Src == "" {
		return fmt.Errorf("<%s>: %w", v.decl.Name, ErrUnbound)
	}
	cur, err := v.owner.Get(v.decl.Src, v.owner.Idx(), device.GetOpts{})
	if err != nil {
		return err
	}
	_, c := v.Shape()
	vals := make([]float64, len(cur)*c)
	for i, x := range cur {
		for t := 0; t < c; t++ {
			vals[i*c+t] = x
		}
	}
	v.v = vals
	return nil
}

// Writeback writes the variable into owner.Src for the owner's devices. Horizon
// variables write their first interval, the one being dispatched.
func (v *Var) Writeback(owner device.Owner) error {
	if v.decl.Src == "" {
		return nil
	}
	r, c := v.Shape()
	if len(v.v) != r*c {
		return fmt.Errorf("<%s>: holds %d values for shape (%d, %d): %w",
			v.decl.Name, len(v.v), r, c, device.ErrShapeMismatch)
	}
	col := make([]float64, r)
	for i := range col {
		col[i] = v.v[i*c]
	}
	idx := owner.Idx()
	if len(idx) != r {
		log.Printf("[Var] <%s> owner %s has %d devices, variable has %d\n", v.decl.Name, owner.Name(), len(idx), r)
	}
	return owner.Set(v.decl.Src, idx, col)
}

// Idx returns the identifiers of the source owner, nil while unbound.
func (v *Var) Idx() []interface{} {
	if v.owner == nil {
		log.Printf("[Var] <%s> has no owner\n", v.decl.Name)
		return nil
	}
	return v.owner.Idx()
}

func (v *Var) String() string {
	r, c := v.Shape()
	if v.horizon > 0 {
		return fmt.Sprintf("Var: %s.%s, shape=(%d, %d)", v.decl.Owner, v.decl.Name, r, c)
	}
	return fmt.Sprintf("Var: %s.%s, shape=(%d,)", v.decl.Owner, v.decl.Name, r)
}
