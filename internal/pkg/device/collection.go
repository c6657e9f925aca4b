/*
collection.go An ordered set of homogeneous devices. Numeric attributes are stored in arena
slots addressed by uid; reference attributes hold the idx of other devices.
*/

package device

import (
	"errors"
	"fmt"

	"github.com/ohowland/cgc_dispatch/internal/pkg/arena"
	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
)

var (
	// ErrMissingIndex is returned when a nil idx is read without AllowNone.
	ErrMissingIndex = errors.New("device: nil idx not allowed")

	// ErrShapeMismatch is returned when a write carries the wrong number of values.
	ErrShapeMismatch = errors.New("device: value count does not match idx count")

	// ErrSealed is returned when a device is added after Materialize.
	ErrSealed = errors.New("device: collection is materialized")

	// ErrUnknownAttr is returned for attribute names the kind does not define.
	ErrUnknownAttr = errors.New("device: unknown attribute")

	// ErrBadValue is returned when a parameter value cannot be stored.
	ErrBadValue = errors.New("device: bad parameter value")
)

// View selects one of the parallel arrays kept for each numeric attribute.
type View int

// Views of a numeric attribute: value, solver address, equation residual.
const (
	Value View = iota
	Address
	Residual
	nViews
)

func (v View) String() string {
	switch v {
	case Value:
		return "v"
	case Address:
		return "a"
	case Residual:
		return "e"
	}
	return fmt.Sprintf("View(%d)", int(v))
}

// GetOpts tunes Get. The zero value reads the Value view and rejects nil idx.
type GetOpts struct {
	View      View
	AllowNone bool
	Default   float64
}

// Owner is anything parameters and routine variables can bind to: a single
// Collection or a Group of collections.
type Owner interface {
	Name() string
	N() int
	Idx() []interface{}
	Has(src string) bool
	Get(src string, idx []interface{}, opts GetOpts) ([]float64, error)
	Set(src string, idx []interface{}, values []float64) error
	GetIdx(src string, idx []interface{}) ([]interface{}, error)
}

// Collection holds every device of one Kind.
type Collection struct {
	kind   Kind
	index  *index.Index
	arena  *arena.Arena
	attrs  map[string][nViews]arena.Handle
	order  []string
	refs   map[string][]interface{}
	names  []string
	sealed bool
}

// NewCollection allocates attribute slots for kind k in arena a.
func NewCollection(k Kind, a *arena.Arena) *Collection {
	c := &Collection{
		kind:  k,
		index: index.New(k.Model()),
		arena: a,
		attrs: make(map[string][nViews]arena.Handle),
		order: make([]string, 0),
		refs:  make(map[string][]interface{}),
		names: make([]string, 0),
	}
	for _, p := range k.Params() {
		c.alloc(p.Name)
	}
	for _, name := range k.Algebs() {
		c.alloc(name)
	}
	for _, name := range k.Refs() {
		c.refs[name] = make([]interface{}, 0)
	}
	return c
}

func (c *Collection) alloc(name string) {
	var h [nViews]arena.Handle
	for v := range h {
		h[v] = c.arena.Alloc(0)
	}
	c.attrs[name] = h
	c.order = append(c.order, name)
}

// Name is the kind's model name.
func (c *Collection) Name() string { return c.kind.Model() }

// Group is the kind's logical category.
func (c *Collection) Group() string { return c.kind.Group() }

// Kind returns the device kind.
func (c *Collection) Kind() Kind { return c.kind }

// N is the number of devices.
func (c *Collection) N() int { return c.index.Len() }

// Idx returns device identifiers in uid order.
func (c *Collection) Idx() []interface{} { return c.index.Idx() }

// Index exposes the identifier index.
func (c *Collection) Index() *index.Index { return c.index }

// Attrs lists numeric attribute names in declaration order.
func (c *Collection) Attrs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Names returns the device display names in uid order.
func (c *Collection) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Has reports whether src is a numeric attribute.
func (c *Collection) Has(src string) bool {
	_, ok := c.attrs[src]
	return ok
}

// HasRef reports whether src is a reference attribute.
func (c *Collection) HasRef(src string) bool {
	_, ok := c.refs[src]
	return ok
}

// Add registers one device. params must carry "idx"; numeric parameters that are
// absent take the kind default, algebraic quantities start at zero.
func (c *Collection) Add(params map[string]interface{}) (int, error) {
	if c.sealed {
		return index.NoUID, fmt.Errorf("<%s>: %w", c.Name(), ErrSealed)
	}
	idx, ok := params["idx"]
	if !ok || idx == nil {
		return index.NoUID, fmt.Errorf("<%s>: device has no idx: %w", c.Name(), ErrBadValue)
	}

	values := make(map[string]float64)
	for _, p := range c.kind.Params() {
		values[p.Name] = p.Default
	}
	refs := make(map[string]interface{})
	name := ""
	for key, raw := range params {
		switch {
		case key == "idx":
		case key == "name":
			name = fmt.Sprint(raw)
		case c.HasRef(key):
			refs[key] = index.Normalize(raw)
		case c.Has(key):
			f, err := toFloat(raw)
			if err != nil {
				return index.NoUID, fmt.Errorf("<%s>: %s=%v: %w", c.Name(), key, raw, err)
			}
			values[key] = f
		default:
			return index.NoUID, fmt.Errorf("<%s>: %s: %w", c.Name(), key, ErrUnknownAttr)
		}
	}

	uid, err := c.index.Register(idx)
	if err != nil {
		return uid, err
	}
	if name == "" {
		name = fmt.Sprintf("%s_%v", c.Name(), idx)
	}
	c.names = append(c.names, name)
	for _, attr := range c.order {
		h := c.attrs[attr]
		c.arena.Append(h[Value], values[attr])
		c.arena.Append(h[Address], 0)
		c.arena.Append(h[Residual], 0)
	}
	for key := range c.refs {
		c.refs[key] = append(c.refs[key], refs[key])
	}
	return uid, nil
}

func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, ErrBadValue
}

// Materialize fixes every attribute buffer to its final size and seals the
// collection. Buffers keep their arena slots, so existing handles stay valid.
func (c *Collection) Materialize() {
	for _, h := range c.attrs {
		for _, slot := range h {
			c.arena.Compact(slot)
		}
	}
	c.sealed = true
}

// Sealed reports whether Materialize has run.
func (c *Collection) Sealed() bool { return c.sealed }

// Handle returns the arena slot backing src in the given view.
func (c *Collection) Handle(src string, view View) (arena.Handle, error) {
	h, ok := c.attrs[src]
	if !ok {
		return 0, fmt.Errorf("<%s>: %s: %w", c.Name(), src, ErrUnknownAttr)
	}
	if view < 0 || view >= nViews {
		return 0, fmt.Errorf("<%s>: %s view %v: %w", c.Name(), src, view, ErrUnknownAttr)
	}
	return h[view], nil
}

// Values returns the live buffer of src. Writes through the returned slice are
// seen by every reader of the attribute.
func (c *Collection) Values(src string, view View) ([]float64, error) {
	h, err := c.Handle(src, view)
	if err != nil {
		return nil, err
	}
	return c.arena.Buffer(h), nil
}

// Get gathers src at the positions of idx.
func (c *Collection) Get(src string, idx []interface{}, opts GetOpts) ([]float64, error) {
	buf, err := c.Values(src, opts.View)
	if err != nil {
		return nil, err
	}
	uids, err := c.index.UIDs(idx)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(uids))
	for i, uid := range uids {
		if uid == index.NoUID {
			if !opts.AllowNone {
				return nil, fmt.Errorf("<%s>: nil in idx reading %s, enable AllowNone and provide a Default: %w",
					c.Name(), src, ErrMissingIndex)
			}
			out[i] = opts.Default
			continue
		}
		out[i] = buf[uid]
	}
	return out, nil
}

// Set scatters values into the Value view of src at the positions of idx.
func (c *Collection) Set(src string, idx []interface{}, values []float64) error {
	return c.SetView(src, Value, idx, values)
}

// SetView scatters values into one view of src in place.
func (c *Collection) SetView(src string, view View, idx []interface{}, values []float64) error {
	buf, err := c.Values(src, view)
	if err != nil {
		return err
	}
	uids, err := c.index.UIDs(idx)
	if err != nil {
		return err
	}
	if len(uids) != len(values) {
		return fmt.Errorf("<%s>: %s got %d values for %d idx: %w", c.Name(), src, len(values), len(uids), ErrShapeMismatch)
	}
	for _, uid := range uids {
		if uid == index.NoUID {
			return fmt.Errorf("<%s>: nil in idx writing %s: %w", c.Name(), src, ErrMissingIndex)
		}
	}
	for i, uid := range uids {
		buf[uid] = values[i]
	}
	return nil
}

// Assign overwrites the whole Value view of src in place.
func (c *Collection) Assign(src string, values []float64) error {
	buf, err := c.Values(src, Value)
	if err != nil {
		return err
	}
	if len(values) != len(buf) {
		return fmt.Errorf("<%s>: %s got %d values for %d devices: %w", c.Name(), src, len(values), len(buf), ErrShapeMismatch)
	}
	copy(buf, values)
	return nil
}

// GetIdx gathers the reference attribute src at the positions of idx.
func (c *Collection) GetIdx(src string, idx []interface{}) ([]interface{}, error) {
	refs, ok := c.refs[src]
	if !ok {
		return nil, fmt.Errorf("<%s>: %s: %w", c.Name(), src, ErrUnknownAttr)
	}
	uids, err := c.index.UIDs(idx)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(uids))
	for i, uid := range uids {
		if uid == index.NoUID {
			continue
		}
		out[i] = refs[uid]
	}
	return out, nil
}
