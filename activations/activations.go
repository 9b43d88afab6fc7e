// Package activations maps activation names used in model configs to
// stateless tensor operations.
package activations

import (
	"github.com/tsawler/go-infer/tensor"
)

// Activation is a stateless unary tensor operation
type Activation interface {
	Name() string
	Apply(t *tensor.Tensor) (*tensor.Tensor, error)
}

type unary struct {
	name string
	fn   func(*tensor.Tensor) *tensor.Tensor
}

func (u unary) Name() string { return u.name }

func (u unary) Apply(t *tensor.Tensor) (*tensor.Tensor, error) {
	return u.fn(t), nil
}

// softmax always normalizes over the last dimension
type softmax struct{}

func (softmax) Name() string { return "Softmax" }

func (softmax) Apply(t *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Softmax(t)
}

var (
	ReLU    Activation = unary{name: "ReLU", fn: tensor.ReLU}
	Sigmoid Activation = unary{name: "Sigmoid", fn: tensor.Sigmoid}
	Tanh    Activation = unary{name: "Tanh", fn: tensor.Tanh}
	GELU    Activation = unary{name: "GELU", fn: tensor.GELU}
	Softmax Activation = softmax{}
)

var registry = map[string]Activation{
	"ReLU":    ReLU,
	"Sigmoid": Sigmoid,
	"Tanh":    Tanh,
	"Softmax": Softmax,
	"GELU":    GELU,
}

// Resolve looks up an activation by name. Names are case sensitive; an
// unknown name reports false and callers treat the stage as activation-less.
func Resolve(name string) (Activation, bool) {
	act, ok := registry[name]
	return act, ok
}

// Names lists the supported activation names in a stable order
func Names() []string {
	return []string{"ReLU", "Sigmoid", "Tanh", "Softmax", "GELU"}
}
