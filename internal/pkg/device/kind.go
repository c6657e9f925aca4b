package device

// Param is a numeric device parameter and the value used when a case omits it.
type Param struct {
	Name    string
	Default float64
}

// Kind describes one device class. The set of kinds is closed; see Kinds.
type Kind interface {
	Model() string    // class name, e.g. "PV"
	Group() string    // logical category, e.g. "StaticGen"
	Params() []Param  // numeric input parameters
	Refs() []string   // parameters holding the idx of another device
	Algebs() []string // quantities written back by a solve
	isKind()
}

// Bus is a network node.
type Bus struct{}

func (Bus) Model() string { return "Bus" }
func (Bus) Group() string { return "ACTopology" }
func (Bus) Params() []Param {
	return []Param{{"Vn", 110}, {"vmax", 1.1}, {"vmin", 0.9}, {"v0", 1}, {"a0", 0}}
}
func (Bus) Refs() []string { return []string{"zone"} }
func (Bus) Algebs() []string { return []string{"v", "a"} }
func (Bus) isKind() {}

// Line is a series branch between bus1 and bus2.
type Line struct{}

func (Line) Model() string { return "Line" }
func (Line) Group() string { return "ACLine" }
func (Line) Params() []Param {
	return []Param{{"r", 0}, {"x", 1e-4}, {"b", 0}, {"rate_a", 0}, {"tap", 1}, {"phi", 0}, {"u", 1}}
}
func (Line) Refs() []string { return []string{"bus1", "bus2"} }
func (Line) Algebs() []string { return nil }
func (Line) isKind() {}

// PQ is a constant power load.
type PQ struct{}

func (PQ) Model() string { return "PQ" }
func (PQ) Group() string { return "StaticLoad" }
func (PQ) Params() []Param { return []Param{{"p0", 0}, {"q0", 0}, {"u", 1}} }
func (PQ) Refs() []string { return []string{"bus"} }
func (PQ) Algebs() []string { return nil }
func (PQ) isKind() {}

func genParams() []Param {
	return []Param{
		{"Sn", 100}, {"p0", 0}, {"q0", 0},
		{"pmax", 999}, {"pmin", 0}, {"qmax", 999}, {"qmin", -999},
		{"v0", 1}, {"u", 1},
		{"R10", 999}, {"Ragc", 999},
		{"td1", 0}, {"td2", 0},
	}
}

// PV is a voltage controlled generator.
type PV struct{}

func (PV) Model() string { return "PV" }
func (PV) Group() string { return "StaticGen" }
func (PV) Params() []Param { return genParams() }
func (PV) Refs() []string { return []string{"bus"} }
func (PV) Algebs() []string { return []string{"p", "q"} }
func (PV) isKind() {}

// Slack is the reference generator. It holds the angle of its bus.
type Slack struct{}

func (Slack) Model() string { return "Slack" }
func (Slack) Group() string { return "StaticGen" }
func (Slack) Params() []Param { return append(genParams(), Param{"a0", 0}) }
func (Slack) Refs() []string { return []string{"bus"} }
func (Slack) Algebs() []string { return []string{"p", "q"} }
func (Slack) isKind() {}

// GCost is a generator cost curve c2*p^2 + c1*p + c0, in $/h with p in p.u.
type GCost struct{}

func (GCost) Model() string { return "GCost" }
func (GCost) Group() string { return "Cost" }
func (GCost) Params() []Param {
	return []Param{{"c2", 0}, {"c1", 0}, {"c0", 0}, {"csu", 0}, {"csd", 0}}
}
func (GCost) Refs() []string { return []string{"gen"} }
func (GCost) Algebs() []string { return nil }
func (GCost) isKind() {}

// Kinds lists every supported device kind in case-loading order.
func Kinds() []Kind {
	return []Kind{Bus{}, Line{}, PQ{}, PV{}, Slack{}, GCost{}}
}

// KindOf returns the kind with the given model name.
func KindOf(model string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.Model() == model {
			return k, true
		}
	}
	return nil, false
}
