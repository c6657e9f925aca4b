package system

import (
	"math"

	"github.com/ohowland/cgc_dispatch/internal/pkg/device"
	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

// Case translates the device collections into the adapter contract. Powers are
// scaled from p.u. to MW, angles from radians to degrees. Generator rows list
// Slack devices before PV devices.
func (s *System) Case() (solver.Case, error) {
	base := s.config.BaseMVA
	c := solver.Case{BaseMVA: base}

	bus := s.collections["Bus"]
	busIdx := bus.Idx()
	types := make(map[interface{}]int)
	for _, model := range []string{"PV", "Slack"} {
		gens := s.collections[model]
		refs, err := gens.GetIdx("bus", gens.Idx())
		if err != nil {
			return c, err
		}
		t := solver.PVBus
		if model == "Slack" {
			t = solver.RefBus
		}
		for _, b := range refs {
			if b != nil {
				types[b] = t
			}
		}
	}

	pd := make(map[interface{}]float64)
	qd := make(map[interface{}]float64)
	load := s.collections["PQ"]
	loadBus, err := load.GetIdx("bus", load.Idx())
	if err != nil {
		return c, err
	}
	lv, err := values(load, "p0", "q0", "u")
	if err != nil {
		return c, err
	}
	for i, b := range loadBus {
		pd[b] += lv["p0"][i] * lv["u"][i] * base
		qd[b] += lv["q0"][i] * lv["u"][i] * base
	}

	bv, err := values(bus, "Vn", "vmax", "vmin", "v0", "a0")
	if err != nil {
		return c, err
	}
	zones, err := bus.GetIdx("zone", busIdx)
	if err != nil {
		return c, err
	}
	c.Bus = make([]solver.BusRow, len(busIdx))
	for i, idx := range busIdx {
		t, ok := types[idx]
		if !ok {
			t = solver.PQBus
		}
		c.Bus[i] = solver.BusRow{
			Idx:    idx,
			Type:   t,
			Pd:     pd[idx],
			Qd:     qd[idx],
			Vm:     bv["v0"][i],
			Va:     bv["a0"][i] * 180 / math.Pi,
			BaseKV: bv["Vn"][i],
			Vmax:   bv["vmax"][i],
			Vmin:   bv["vmin"][i],
			Zone:   zones[i],
		}
	}

	line := s.collections["Line"]
	lineIdx := line.Idx()
	from, err := line.GetIdx("bus1", lineIdx)
	if err != nil {
		return c, err
	}
	to, err := line.GetIdx("bus2", lineIdx)
	if err != nil {
		return c, err
	}
	ln, err := values(line, "r", "x", "b", "rate_a", "tap", "phi", "u")
	if err != nil {
		return c, err
	}
	c.Branch = make([]solver.BranchRow, len(lineIdx))
	for i, idx := range lineIdx {
		c.Branch[i] = solver.BranchRow{
			Idx:    idx,
			From:   from[i],
			To:     to[i],
			R:      ln["r"][i],
			X:      ln["x"][i],
			B:      ln["b"][i],
			RateA:  ln["rate_a"][i] * base,
			Tap:    ln["tap"][i],
			Shift:  ln["phi"][i] * 180 / math.Pi,
			Status: ln["u"][i],
		}
	}

	c.Gen = make([]solver.GenRow, 0)
	for _, model := range []string{"Slack", "PV"} {
		gens := s.collections[model]
		genIdx := gens.Idx()
		genBus, err := gens.GetIdx("bus", genIdx)
		if err != nil {
			return c, err
		}
		gv, err := values(gens, "p0", "q0", "qmax", "qmin", "v0", "Sn", "u", "pmax", "pmin")
		if err != nil {
			return c, err
		}
		for i, idx := range genIdx {
			c.Gen = append(c.Gen, solver.GenRow{
				Idx:    idx,
				Bus:    genBus[i],
				Pg:     gv["p0"][i] * base,
				Qg:     gv["q0"][i] * base,
				Qmax:   gv["qmax"][i] * base,
				Qmin:   gv["qmin"][i] * base,
				Vg:     gv["v0"][i],
				Mbase:  gv["Sn"][i],
				Status: gv["u"][i],
				Pmax:   gv["pmax"][i] * base,
				Pmin:   gv["pmin"][i] * base,
			})
		}
	}

	cost := s.collections["GCost"]
	costIdx := cost.Idx()
	costGen, err := cost.GetIdx("gen", costIdx)
	if err != nil {
		return c, err
	}
	cv, err := values(cost, "c2", "c1", "c0")
	if err != nil {
		return c, err
	}
	c.GenCost = make([]solver.CostRow, len(costIdx))
	for i := range costIdx {
		c.GenCost[i] = solver.CostRow{
			Gen: costGen[i],
			C2:  cv["c2"][i] / (base * base),
			C1:  cv["c1"][i] / base,
			C0:  cv["c0"][i],
		}
	}
	return c, nil
}

func values(c *device.Collection, attrs ...string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(attrs))
	for _, attr := range attrs {
		v, err := c.Values(attr, device.Value)
		if err != nil {
			return nil, err
		}
		out[attr] = v
	}
	return out, nil
}

// GenBuses lists the buses hosting a StaticGen device, de-duplicated in
// generator order. Two generators on one bus share one PTDF column.
func (s *System) GenBuses() ([]interface{}, error) {
	g := s.groups["StaticGen"]
	refs, err := g.GetIdx("bus", g.Idx())
	if err != nil {
		return nil, err
	}
	seen := make(map[interface{}]bool)
	out := make([]interface{}, 0, len(refs))
	for _, b := range refs {
		if b == nil || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out, nil
}

// NonGenBuses lists the remaining buses in bus order.
func (s *System) NonGenBuses() ([]interface{}, error) {
	gen, err := s.GenBuses()
	if err != nil {
		return nil, err
	}
	hosted := make(map[interface{}]bool)
	for _, b := range gen {
		hosted[index.Normalize(b)] = true
	}
	out := make([]interface{}, 0)
	for _, b := range s.collections["Bus"].Idx() {
		if !hosted[b] {
			out = append(out, b)
		}
	}
	return out, nil
}
