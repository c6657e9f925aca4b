/*
param.go Routine parameters. A Param is declared with an owner name and bound to a
concrete device collection or group during routine setup; its value is resolved on
every read so that it always reflects the device data.
*/

package param

import (
	"errors"
	"fmt"
	"log"

	"github.com/ohowland/cgc_dispatch/internal/pkg/device"
)

// ErrUnbound is returned when a declaration cannot be resolved to an owner.
var ErrUnbound = errors.New("param: owner not bound")

// Registry resolves owner names (model or group) to device owners.
type Registry interface {
	Owner(name string) (device.Owner, bool)
}

// Decl is the declaration phase of a parameter or variable.
type Decl struct {
	Name  string
	Src   string // attribute read from the owner, defaults to Name
	Owner string // model or group name
	Info  string
	Unit  string
}

func (d Decl) src() string {
	if d.Src == "" {
		return d.Name
	}
	return d.Src
}

// Param is a lazily resolved routine parameter.
type Param struct {
	decl     Decl
	owner    device.Owner
	isGroup  bool
	explicit []float64
	isSet    bool
}

// New declares a parameter bound later to decl.Owner.
func New(decl Decl) *Param {
	decl.Src = decl.src()
	return &Param{decl: decl}
}

// NewValue declares a parameter with an explicit value. The value is returned
// verbatim and supersedes any owner.
func NewValue(decl Decl, v []float64) *Param {
	p := New(decl)
	p.explicit = v
	p.isSet = true
	return p
}

// Name is the parameter name inside its routine.
func (p *Param) Name() string { return p.decl.Name }

// Src is the owner attribute the parameter reads.
func (p *Param) Src() string { return p.decl.Src }

// OwnerName is the declared owner token.
func (p *Param) OwnerName() string { return p.decl.Owner }

// Info is the human readable description.
func (p *Param) Info() string { return p.decl.Info }

// Unit of the parameter value.
func (p *Param) Unit() string { return p.decl.Unit }

// Owner returns the bound owner, nil before Bind.
func (p *Param) Owner() device.Owner { return p.owner }

// IsGroup reports whether the owner is a group.
func (p *Param) IsGroup() bool { return p.isGroup }

// IsSet reports whether the value was supplied explicitly.
func (p *Param) IsSet() bool { return p.isSet }

// Bind resolves the owner name against r. Explicit parameters without an owner
// name need no binding.
func (p *Param) Bind(r Registry) error {
	if p.isSet && p.decl.Owner == "" {
		return nil
	}
	owner, err := resolve(r, p.decl)
	if err != nil {
		if p.isSet {
			log.Printf("[Param] WARN <%s> explicit value kept, owner unresolved: %v\n", p.decl.Name, err)
			return nil
		}
		return err
	}
	p.owner = owner
	_, p.isGroup = owner.(*device.Group)
	return nil
}

func resolve(r Registry, d Decl) (device.Owner, error) {
	if d.Owner == "" {
		return nil, fmt.Errorf("<%s>: no owner declared: %w", d.Name, ErrUnbound)
	}
	owner, ok := r.Owner(d.Owner)
	if !ok {
		return nil, fmt.Errorf("<%s>: owner %s not found: %w", d.Name, d.Owner, ErrUnbound)
	}
	if !owner.Has(d.src()) {
		return nil, fmt.Errorf("<%s>: %s.%s: %w", d.Name, d.Owner, d.src(), device.ErrUnknownAttr)
	}
	return owner, nil
}

// Value resolves the parameter: the explicit value if set, else the group
// aggregation, else the live buffer of the owning collection.
func (p *Param) Value() ([]float64, error) {
	switch {
	case p.isSet:
		return p.explicit, nil
	case p.owner == nil:
		return nil, fmt.Errorf("<%s>: %w", p.decl.Name, ErrUnbound)
	case p.isGroup:
		return p.owner.Get(p.decl.Src, p.owner.Idx(), device.GetOpts{})
	}
	if c, ok := p.owner.(*device.Collection); ok {
		return c.Values(p.decl.Src, device.Value)
	}
	return p.owner.Get(p.decl.Src, p.owner.Idx(), device.GetOpts{})
}

// Count is the number of entries the parameter ranges over.
func (p *Param) Count() int {
	if p.isSet {
		return len(p.explicit)
	}
	if p.owner == nil {
		return 0
	}
	return p.owner.N()
}

// Idx returns the identifiers the parameter ranges over, nil while unbound.
func (p *Param) Idx() []interface{} {
	if p.owner == nil {
		log.Printf("[Param] <%s> has no owner\n", p.decl.Name)
		return nil
	}
	return p.owner.Idx()
}

func (p *Param) String() string {
	if p.isSet {
		return fmt.Sprintf("Param: %s, v=%v", p.decl.Name, p.explicit)
	}
	return fmt.Sprintf("Param: %s.%s", p.decl.Owner, p.decl.Name)
}
