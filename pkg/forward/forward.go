// Package forward defines the ForwardModel external contract: an
// opaque, deterministic mapping from a layered 1-D conductivity column
// to a per-window EM response. The actual geophysical solvers are
// out of scope (§1 Non-goals); this package owns only the contract,
// the survey-system (STM) descriptor that configures it, and a
// Registry that combines several systems' responses in observation
// order.
package forward

import (
	"fmt"
	"strings"
	"text/scanner"

	"github.com/aeminvert/rjmcmc/pkg/grid"
)

// Direction is the component of the EM response a window measures.
type Direction int

const (
	DirectionX Direction = iota
	DirectionY
	DirectionZ
)

func (d Direction) String() string {
	switch d {
	case DirectionX:
		return "x"
	case DirectionY:
		return "y"
	case DirectionZ:
		return "z"
	default:
		return "unknown"
	}
}

// Model is the ForwardModel contract. Eval must be a pure, deterministic
// function of its inputs: same geometry and conductivity column always
// produce the same response.
type Model interface {
	// Name identifies the survey system this model represents.
	Name() string
	// NWindows is the length of the response vector Eval produces.
	NWindows() int
	// Eval maps a layered conductivity column (length geometry.Height)
	// to a response vector (length NWindows).
	Eval(geometry grid.Geometry, layeredConductivity []float64) ([]float64, error)
}

// Registry combines the responses of several named forward models, one
// per survey system, concatenating them in the order the systems were
// registered (the "observation order" the core requires).
type Registry struct {
	order  []string
	models map[string]Model
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds a model under its own Name(), preserving registration
// order for EvalAll. Registering the same name twice is an error.
func (r *Registry) Register(m Model) error {
	if _, exists := r.models[m.Name()]; exists {
		return fmt.Errorf("forward: model %q already registered", m.Name())
	}
	r.order = append(r.order, m.Name())
	r.models[m.Name()] = m
	return nil
}

// Len reports how many systems are registered.
func (r *Registry) Len() int { return len(r.order) }

// NWindows is the total response length across every registered system.
func (r *Registry) NWindows() int {
	n := 0
	for _, name := range r.order {
		n += r.models[name].NWindows()
	}
	return n
}

// EvalAll evaluates every registered system against the same geometry
// and conductivity column, concatenating their responses in
// registration order.
func (r *Registry) EvalAll(geometry grid.Geometry, layeredConductivity []float64) ([]float64, error) {
	out := make([]float64, 0, r.NWindows())
	for _, name := range r.order {
		resp, err := r.models[name].Eval(geometry, layeredConductivity)
		if err != nil {
			return nil, fmt.Errorf("forward: %s: %w", name, err)
		}
		out = append(out, resp...)
	}
	return out, nil
}

// System is the parsed configuration of one STM descriptor: the
// geometry of a single transmitter/receiver pair and the time gates it
// is windowed into. The solver that turns a System plus a conductivity
// column into a response is supplied externally and must be registered
// separately as a Model with a matching Name.
type System struct {
	Name         string
	Direction    Direction
	TxHeight     float64
	TxRoll       float64
	TxPitch      float64
	TxYaw        float64
	TxRxDX       float64
	TxRxDY       float64
	TxRxDZ       float64
	RxRoll       float64
	RxPitch      float64
	RxYaw        float64
	WindowTimes  []float64 // gate centre times
}

// ParseSTM parses a survey-system descriptor: a sequence of "key
// value" pairs terminated at EOF. Recognised keys are "name" (quoted
// string), "direction" (x|y|z), the ten scalar geometry fields, and
// "times" followed by a gate count and that many gate-centre times.
func ParseSTM(text string) (System, error) {
	var s scanner.Scanner
	s.Init(strings.NewReader(text))
	s.Mode = scanner.ScanIdents | scanner.ScanFloats | scanner.ScanStrings
	s.Filename = "stm"

	var sys System
	haveName := false

	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		key := s.TokenText()
		switch key {
		case "name":
			s.Scan()
			sys.Name = unquote(s.TokenText())
			haveName = true
		case "direction":
			s.Scan()
			switch unquote(s.TokenText()) {
			case "x":
				sys.Direction = DirectionX
			case "y":
				sys.Direction = DirectionY
			case "z":
				sys.Direction = DirectionZ
			default:
				return System{}, fmt.Errorf("forward: stm: unknown direction %q", s.TokenText())
			}
		case "tx_height":
			sys.TxHeight = scanFloat(&s)
		case "tx_roll":
			sys.TxRoll = scanFloat(&s)
		case "tx_pitch":
			sys.TxPitch = scanFloat(&s)
		case "tx_yaw":
			sys.TxYaw = scanFloat(&s)
		case "txrx_dx":
			sys.TxRxDX = scanFloat(&s)
		case "txrx_dy":
			sys.TxRxDY = scanFloat(&s)
		case "txrx_dz":
			sys.TxRxDZ = scanFloat(&s)
		case "rx_roll":
			sys.RxRoll = scanFloat(&s)
		case "rx_pitch":
			sys.RxPitch = scanFloat(&s)
		case "rx_yaw":
			sys.RxYaw = scanFloat(&s)
		case "times":
			count := int(scanFloat(&s))
			sys.WindowTimes = make([]float64, count)
			for i := 0; i < count; i++ {
				sys.WindowTimes[i] = scanFloat(&s)
			}
		default:
			return System{}, fmt.Errorf("forward: stm: unknown key %q at line %d", key, s.Pos().Line)
		}
	}

	if !haveName {
		return System{}, fmt.Errorf("forward: stm: missing required \"name\" field")
	}
	if len(sys.WindowTimes) == 0 {
		return System{}, fmt.Errorf("forward: stm: system %q has no window times", sys.Name)
	}
	return sys, nil
}

// scanFloat scans one numeric token, accounting for text/scanner
// emitting a leading minus sign as its own rune token rather than
// folding it into the number.
func scanFloat(s *scanner.Scanner) float64 {
	tok := s.Scan()
	neg := false
	if tok == '-' {
		neg = true
		s.Scan()
	}
	var v float64
	fmt.Sscan(s.TokenText(), &v)
	if neg {
		v = -v
	}
	return v
}

func unquote(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	return tok
}
