package checkpoints

import (
	"fmt"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/tsawler/go-infer/nn"
	"github.com/tsawler/go-infer/tensor"
)

// StateDict maps parameter keys such as "0.weight" to tensors, keeping the
// order in which they were added.
type StateDict struct {
	m  *orderedmap.OrderedMap[string, *tensor.Tensor]
	id uuid.UUID
}

func NewStateDict() *StateDict {
	return &StateDict{m: orderedmap.New[string, *tensor.Tensor]()}
}

// StateDictOf snapshots every parameter of p. The tensors are copies.
func StateDictOf(p *nn.Pipeline) *StateDict {
	params := p.NamedParameters()
	sd := &StateDict{m: orderedmap.New[string, *tensor.Tensor](orderedmap.WithCapacity[string, *tensor.Tensor](len(params)))}
	for _, np := range params {
		sd.m.Set(np.Key, np.Value.Clone())
	}
	return sd
}

// Set adds or replaces a tensor. Replacing keeps the original position.
func (sd *StateDict) Set(key string, t *tensor.Tensor) {
	sd.m.Set(key, t)
}

func (sd *StateDict) Get(key string) (*tensor.Tensor, bool) {
	return sd.m.Get(key)
}

func (sd *StateDict) Len() int {
	return sd.m.Len()
}

// Keys returns the keys in insertion order
func (sd *StateDict) Keys() []string {
	keys := make([]string, 0, sd.m.Len())
	for pair := sd.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Bind copies the tensors onto p's parameters. Every parameter of p must have
// a tensor of the same shape and every tensor must belong to a parameter; on
// any mismatch nothing is copied.
func (sd *StateDict) Bind(p *nn.Pipeline) error {
	params := p.NamedParameters()
	if len(params) != sd.Len() {
		return fmt.Errorf("parameter count mismatch: pipeline has %d, state has %d", len(params), sd.Len())
	}

	for _, np := range params {
		t, ok := sd.Get(np.Key)
		if !ok {
			return fmt.Errorf("missing tensor %q", np.Key)
		}
		if !tensor.ShapesEqual(t.Shape, np.Value.Shape) {
			return fmt.Errorf("shape mismatch for %s: parameter %v vs stored %v", np.Key, np.Value.Shape, t.Shape)
		}
	}

	for _, np := range params {
		t, _ := sd.Get(np.Key)
		copy(np.Value.Data, t.Data)
	}
	return nil
}
