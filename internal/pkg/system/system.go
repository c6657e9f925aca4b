/*
system.go The model registry. A System owns the arena, one device collection per kind, the
groups over them and the declared routines. It is the Model every routine binds to and the
Publisher reporting components subscribe to for run reports.
*/

package system

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/arena"
	"github.com/ohowland/cgc_dispatch/internal/pkg/config"
	"github.com/ohowland/cgc_dispatch/internal/pkg/device"
	"github.com/ohowland/cgc_dispatch/internal/pkg/index"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver/acflow"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver/dcflow"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver/meritorder"
)

// ErrUnknownModel is returned for model names outside the device kinds.
var ErrUnknownModel = errors.New("system: unknown model")

// Config is the system configuration file.
type Config struct {
	Name     string   `json:"Name" yaml:"name"`
	BaseMVA  float64  `json:"BaseMVA" yaml:"base_mva"`
	Routines []string `json:"Routines" yaml:"routines"`
	Horizon  int      `json:"Horizon" yaml:"horizon"`
	Case     string   `json:"Case" yaml:"case"`
}

// System is the device model and routine registry.
type System struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	config      Config
	arena       *arena.Arena
	collections map[string]*device.Collection
	groups      map[string]*device.Group
	routines    map[string]*routine.Routine
	solver      solver.Solver
	publisher   *msg.PubSub
	recent      *routine.Routine
	ready       bool
}

// DefaultSolvers returns the bundled adapters keyed by algorithm.
func DefaultSolvers() solver.Set {
	return solver.Set{
		solver.DC:         dcflow.New(),
		solver.ACNewton:   acflow.New(),
		solver.MeritOrder: meritorder.New(),
	}
}

// New reads the system config at configPath. A nil solver selects DefaultSolvers.
// When the config names a case file it is loaded; relative case paths are taken
// from the config file's directory.
func New(configPath string, s solver.Solver) (*System, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	sys := NewWithConfig(cfg, s)
	if cfg.Case != "" {
		if err := sys.LoadCase(cfg.Case); err != nil {
			return nil, err
		}
	}
	return sys, nil
}

// LoadConfig reads a system config file and resolves its case path.
func LoadConfig(configPath string) (Config, error) {
	cfg := Config{}
	if err := config.Load(configPath, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Case != "" && !filepath.IsAbs(cfg.Case) {
		cfg.Case = filepath.Join(filepath.Dir(configPath), cfg.Case)
	}
	return cfg, nil
}

// NewWithConfig builds an empty system. A nil solver selects DefaultSolvers.
func NewWithConfig(cfg Config, s solver.Solver) *System {
	if cfg.BaseMVA == 0 {
		cfg.BaseMVA = 100
	}
	if len(cfg.Routines) == 0 {
		cfg.Routines = routine.All
	}
	if cfg.Horizon == 0 {
		cfg.Horizon = routine.DefaultHorizon
	}
	if s == nil {
		s = DefaultSolvers()
	}
	pid, _ := uuid.NewUUID()
	a := arena.New()
	sys := &System{
		mux:         &sync.Mutex{},
		pid:         pid,
		config:      cfg,
		arena:       a,
		collections: make(map[string]*device.Collection),
		groups:      make(map[string]*device.Group),
		routines:    make(map[string]*routine.Routine),
		solver:      s,
		publisher:   msg.NewPublisher(pid),
	}
	for _, k := range device.Kinds() {
		c := device.NewCollection(k, a)
		sys.collections[k.Model()] = c
		g, ok := sys.groups[k.Group()]
		if !ok {
			g = device.NewGroup(k.Group())
			sys.groups[k.Group()] = g
		}
		g.Add(c)
	}
	return sys
}

// PID of the system process
func (s *System) PID() uuid.UUID {
	return s.pid
}

// Name of the configured system
func (s *System) Name() string {
	return s.config.Name
}

// BaseMVA is the system power base.
func (s *System) BaseMVA() float64 {
	return s.config.BaseMVA
}

// Subscribe returns a channel on which the specified topic is broadcast
func (s *System) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return s.publisher.Subscribe(pid, topic)
}

// Unsubscribe pid from all topic broadcasts
func (s *System) Unsubscribe(pid uuid.UUID) {
	s.publisher.Unsubscribe(pid)
}

// Collection returns the collection of one device kind.
func (s *System) Collection(model string) (*device.Collection, bool) {
	c, ok := s.collections[model]
	return c, ok
}

// Owner resolves a model or group name for parameter binding.
func (s *System) Owner(name string) (device.Owner, bool) {
	if c, ok := s.collections[name]; ok {
		return c, true
	}
	if g, ok := s.groups[name]; ok {
		return g, true
	}
	return nil, false
}

// Models lists device kinds in case-loading order.
func (s *System) Models() []string {
	out := make([]string, 0, len(s.collections))
	for _, k := range device.Kinds() {
		out = append(out, k.Model())
	}
	return out
}

// AddDevice registers one device of model. An idx is unique across the members
// of the model's group.
func (s *System) AddDevice(model string, params map[string]interface{}) (int, error) {
	c, ok := s.collections[model]
	if !ok {
		return -1, fmt.Errorf("%q: %w", model, ErrUnknownModel)
	}
	if idx := params["idx"]; idx != nil {
		if holder, dup := s.groups[c.Group()].Holder(idx); dup && holder != c {
			return index.NoUID, fmt.Errorf("<%s>: idx=%v already registered by %s in group %s: %w",
				model, idx, holder.Name(), c.Group(), index.ErrDuplicateKey)
		}
	}
	return c.Add(params)
}

// LoadCase reads a case file mapping model names to device parameter lists.
func (s *System) LoadCase(path string) error {
	data := make(map[string][]map[string]interface{})
	if err := config.Load(path, &data); err != nil {
		return err
	}
	for model := range data {
		if _, ok := s.collections[model]; !ok {
			return fmt.Errorf("case %s: %q: %w", path, model, ErrUnknownModel)
		}
	}
	n := 0
	for _, model := range s.Models() {
		for _, params := range data[model] {
			if _, err := s.AddDevice(model, params); err != nil {
				return fmt.Errorf("case %s: %w", path, err)
			}
			n++
		}
	}
	log.Printf("[System] loaded %d devices from %s\n", n, path)
	return nil
}

// Setup materializes every collection and declares the configured routines. It
// runs once; later calls are no-ops.
func (s *System) Setup() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.setup()
}

func (s *System) setup() error {
	if s.ready {
		return nil
	}
	for _, model := range s.Models() {
		s.collections[model].Materialize()
	}
	for _, name := range s.config.Routines {
		r, err := routine.New(name, s, s.solver)
		if err != nil {
			return err
		}
		if _, ok := r.Param("nt"); ok {
			if err := r.SetHorizon(s.config.Horizon); err != nil {
				return err
			}
		}
		s.routines[name] = r
	}
	s.ready = true
	log.Printf("[System] <%s> ready with %d routines\n", s.config.Name, len(s.routines))
	return nil
}

// Routine returns a declared routine.
func (s *System) Routine(name string) (*routine.Routine, error) {
	if err := s.Setup(); err != nil {
		return nil, err
	}
	r, ok := s.routines[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, routine.ErrUnknownRoutine)
	}
	return r, nil
}

// Routines returns the declared routines in configured order.
func (s *System) Routines() []*routine.Routine {
	out := make([]*routine.Routine, 0, len(s.routines))
	for _, name := range s.config.Routines {
		if r, ok := s.routines[name]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Run runs the named routine and publishes its report on msg.Result. A nil
// opts uses the routine's own defaults. Runs are serialized.
func (s *System) Run(ctx context.Context, name string, opts *solver.Options) (routine.Report, error) {
	r, err := s.Routine(name)
	if err != nil {
		return routine.Report{}, err
	}
	o := r.Options()
	if opts != nil {
		o = *opts
	}

	s.mux.Lock()
	report, err := r.Run(ctx, o)
	s.mux.Unlock()
	if err != nil {
		return report, err
	}
	s.publisher.Publish(msg.Result, report)
	return report, nil
}

// Summary snapshots the named routine under the run lock.
func (s *System) Summary(name string) (routine.Summary, error) {
	r, err := s.Routine(name)
	if err != nil {
		return routine.Summary{}, err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	return r.Summary(), nil
}

// Summaries snapshots every declared routine under the run lock.
func (s *System) Summaries() ([]routine.Summary, error) {
	if err := s.Setup(); err != nil {
		return nil, err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	out := make([]routine.Summary, 0, len(s.routines))
	for _, name := range s.config.Routines {
		if r, ok := s.routines[name]; ok {
			out = append(out, r.Summary())
		}
	}
	return out, nil
}

// RecentSummary snapshots the most recently unpacked routine.
func (s *System) RecentSummary() (routine.Summary, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.recent == nil {
		return routine.Summary{}, false
	}
	return s.recent.Summary(), true
}

// SetRecent records the most recently unpacked routine.
func (s *System) SetRecent(r *routine.Routine) {
	s.recent = r
}

// Recent returns the most recently unpacked routine, nil before any run.
func (s *System) Recent() *routine.Routine {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.recent
}

// Values copies one attribute of model with its device idx. Runs in progress
// finish before the copy is taken.
func (s *System) Values(model, attr string) ([]interface{}, []float64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	c, ok := s.collections[model]
	if !ok {
		return nil, nil, fmt.Errorf("%q: %w", model, ErrUnknownModel)
	}
	live, err := c.Values(attr, device.Value)
	if err != nil {
		return nil, nil, err
	}
	values := make([]float64, len(live))
	copy(values, live)
	return c.Idx(), values, nil
}

// Set writes values into model.attr under the run lock.
func (s *System) Set(model, attr string, idx []interface{}, values []float64) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	c, ok := s.collections[model]
	if !ok {
		return fmt.Errorf("%q: %w", model, ErrUnknownModel)
	}
	return c.Set(attr, idx, values)
}
