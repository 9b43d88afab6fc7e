package nn

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/tsawler/go-infer/tensor"
)

// Pipeline runs its stages left to right
type Pipeline struct {
	stages []Stage
	device tensor.DeviceType
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: append([]Stage(nil), stages...)}
}

func (p *Pipeline) Append(s Stage) {
	p.stages = append(p.stages, s)
}

// Stages returns the stages in execution order
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

func (p *Pipeline) Len() int {
	return len(p.stages)
}

func (p *Pipeline) Device() tensor.DeviceType {
	return p.device
}

// StageError reports the stage that failed during a forward pass or shape walk
type StageError struct {
	Index int
	Kind  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Forward evaluates the pipeline on x. x itself is never modified and the
// result never shares x's backing array, even when every stage is a view.
func (p *Pipeline) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	for i, s := range p.stages {
		next, err := s.Forward(out)
		if err != nil {
			return nil, &StageError{Index: i, Kind: s.Kind(), Err: err}
		}
		out = next
	}
	if sharesData(out, x) {
		out = out.Clone()
	}
	return out, nil
}

func sharesData(a, b *tensor.Tensor) bool {
	if a == b {
		return true
	}
	return len(a.Data) > 0 && len(b.Data) > 0 && &a.Data[0] == &b.Data[0]
}

// OutputShapes walks the input shape through every stage and returns the
// output shape of each one.
func (p *Pipeline) OutputShapes(in []int) ([][]int, error) {
	shapes := make([][]int, 0, len(p.stages))
	current := copyShape(in)
	for i, s := range p.stages {
		next, err := s.OutputShape(current)
		if err != nil {
			return nil, &StageError{Index: i, Kind: s.Kind(), Err: err}
		}
		shapes = append(shapes, next)
		current = next
	}
	return shapes, nil
}

// NamedParameter is a parameter with its state-dict key
type NamedParameter struct {
	Key string
	*Parameter
}

// NamedParameters lists every parameter keyed by stage position. A stage
// wrapped with an activation is addressed as a two-element sequence, so its
// weight is "<index>.0.weight".
func (p *Pipeline) NamedParameters() []NamedParameter {
	var out []NamedParameter
	for i, s := range p.stages {
		prefix := strconv.Itoa(i) + "."
		if a, ok := s.(*Activated); ok {
			s = a.Stage
			prefix += "0."
		}
		ps, ok := s.(Parameterized)
		if !ok {
			continue
		}
		for _, param := range ps.Parameters() {
			out = append(out, NamedParameter{Key: prefix + param.Name, Parameter: param})
		}
	}
	return out
}

// ParameterCount counts learnable elements, excluding buffers
func (p *Pipeline) ParameterCount() int64 {
	var n int64
	for _, np := range p.NamedParameters() {
		if !np.Buffer {
			n += int64(np.Value.Numel())
		}
	}
	return n
}

// ResetParameters applies every stage's default initialization
func (p *Pipeline) ResetParameters(rng *rand.Rand) error {
	for i, s := range p.stages {
		if a, ok := s.(*Activated); ok {
			s = a.Stage
		}
		ps, ok := s.(Parameterized)
		if !ok {
			continue
		}
		if err := ps.ResetParameters(rng); err != nil {
			return &StageError{Index: i, Kind: s.Kind(), Err: err}
		}
	}
	return nil
}

// To places every parameter on device
func (p *Pipeline) To(device tensor.DeviceType) error {
	for _, np := range p.NamedParameters() {
		moved, err := np.Value.ToDevice(device)
		if err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", np.Key, device, err)
		}
		np.Value = moved
	}
	p.device = device
	return nil
}
