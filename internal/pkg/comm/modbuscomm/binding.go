/*
binding.go Maps polled registers onto device attributes. Inputs carry field telemetry
(load, unit status) into the model before a run; outputs carry dispatched setpoints back
out to the field after one.
*/

package modbuscomm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ohowland/cgc_dispatch/internal/pkg/config"
	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
)

// failedRead is the value Poller.Read reports for a register that did not answer.
const failedRead = 0xBEEF

// Binding ties a register to one device attribute. Scale converts register
// units to device units: device = register * Scale. A zero Scale means 1.
type Binding struct {
	Register string      `json:"Register" yaml:"register"`
	Model    string      `json:"Model" yaml:"model"`
	Attr     string      `json:"Attr" yaml:"attr"`
	Idx      interface{} `json:"Idx" yaml:"idx"`
	Scale    float64     `json:"Scale" yaml:"scale"`
}

func (b Binding) scale() float64 {
	if b.Scale == 0 {
		return 1
	}
	return b.Scale
}

// Setter writes device attributes.
type Setter interface {
	Set(model, attr string, idx []interface{}, values []float64) error
}

// Getter reads device attributes with their idx.
type Getter interface {
	Values(model, attr string) ([]interface{}, []float64, error)
}

// Apply writes polled register values through their bindings. Registers that
// were not read, or whose read failed, leave the attribute untouched. The first
// write error is returned after every binding has been tried.
func Apply(s Setter, bindings []Binding, values map[string]float64) error {
	var first error
	for _, b := range bindings {
		v, ok := values[b.Register]
		if !ok || v == failedRead {
			log.Printf("[Modbus] WARN register %s has no reading, %s.%s[%v] unchanged\n", b.Register, b.Model, b.Attr, b.Idx)
			continue
		}
		err := s.Set(b.Model, b.Attr, []interface{}{b.Idx}, []float64{v * b.scale()})
		if err != nil && first == nil {
			first = fmt.Errorf("binding %s: %w", b.Register, err)
		}
	}
	return first
}

// Collect reads the bound device attributes and converts them to register units.
func Collect(g Getter, bindings []Binding) (map[string]float64, error) {
	out := make(map[string]float64, len(bindings))
	for _, b := range bindings {
		idx, values, err := g.Values(b.Model, b.Attr)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", b.Register, err)
		}
		pos := -1
		for i, id := range idx {
			if id == index.Normalize(b.Idx) {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("binding %s: %s has no device %v", b.Register, b.Model, b.Idx)
		}
		out[b.Register] = values[pos] / b.scale()
	}
	return out, nil
}

// Config is the telemetry configuration file.
type Config struct {
	Poller    PollerConfig `json:"Poller" yaml:"poller"`
	Registers []Register   `json:"Registers" yaml:"registers"`
	Inputs    []Binding    `json:"Inputs" yaml:"inputs"`
	Outputs   []Binding    `json:"Outputs" yaml:"outputs"`
}

// Telemetry couples a target's registers to the device model.
type Telemetry struct {
	comm   ModbusComm
	config Config
	rate   time.Duration
}

// New reads the telemetry config at configPath and builds a Poller for it.
func New(configPath string) (Telemetry, error) {
	cfg := Config{}
	if err := config.Load(configPath, &cfg); err != nil {
		return Telemetry{}, err
	}
	p := NewPoller(cfg.Poller)
	return NewWithComm(cfg, p, p.PollRate()), nil
}

// NewWithComm builds a Telemetry over an existing ModbusComm.
func NewWithComm(cfg Config, comm ModbusComm, rate time.Duration) Telemetry {
	if rate <= 0 {
		rate = time.Second
	}
	return Telemetry{comm: comm, config: cfg, rate: rate}
}

// Sync reads the input registers and applies them to s.
func (t Telemetry) Sync(s Setter) error {
	values, err := t.comm.Read(FilterRegisters(t.config.Registers, ro))
	if err != nil {
		log.Printf("[Modbus] WARN read: %v\n", err)
	}
	if values == nil {
		return err
	}
	return Apply(s, t.config.Inputs, values)
}

// Dispatch writes the bound outputs of g to their registers.
func (t Telemetry) Dispatch(g Getter) error {
	values, err := Collect(g, t.config.Outputs)
	if err != nil {
		return err
	}
	return t.comm.Write(FilterRegisters(t.config.Registers, wo), values)
}

// Poll runs Sync at the poll rate until ctx is done.
func (t Telemetry) Poll(ctx context.Context, s Setter) {
	ticker := time.NewTicker(t.rate)
	defer ticker.Stop()
	log.Println("[Modbus] Poll Started")
	for {
		select {
		case <-ticker.C:
			if err := t.Sync(s); err != nil {
				log.Printf("[Modbus] WARN sync: %v\n", err)
			}
		case <-ctx.Done():
			log.Println("[Modbus] Poll Shutdown")
			return
		}
	}
}
