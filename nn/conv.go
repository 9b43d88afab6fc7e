package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-infer/tensor"
)

// Padding is either an explicit amount per side or the same-size policy,
// which pads so that the output size is ceil(input / stride).
type Padding struct {
	Same     bool
	Explicit tensor.Padding2D
}

// SamePadding is the same-size policy
var SamePadding = Padding{Same: true}

// ValidPadding pads nothing
var ValidPadding = Padding{}

func (p Padding) resolve(h, w int, kernel, stride [2]int) tensor.Padding2D {
	if p.Same {
		return tensor.SamePadding(h, w, kernel, stride)
	}
	return p.Explicit
}

func (p Padding) String() string {
	switch {
	case p.Same:
		return "same"
	case p.Explicit == tensor.Padding2D{}:
		return "valid"
	default:
		e := p.Explicit
		return fmt.Sprintf("%d,%d,%d,%d", e.Top, e.Bottom, e.Left, e.Right)
	}
}

func spatialOutput(in, k, s, before, after int) int {
	return (in+before+after-k)/s + 1
}

func check4D(kind string, in []int) error {
	if len(in) != 4 {
		return fmt.Errorf("%s layer requires 4D input [batch, channels, height, width], got %v", kind, in)
	}
	return nil
}

// Conv2D is a 2D convolution over [N, C, H, W] inputs
type Conv2D struct {
	InChannels  int
	OutChannels int
	Kernel      [2]int
	Stride      [2]int
	Padding     Padding

	weight *Parameter
	bias   *Parameter
}

func NewConv2D(inChannels, outChannels int, kernel, stride [2]int, padding Padding, useBias bool) (*Conv2D, error) {
	if inChannels < 0 || outChannels < 0 {
		return nil, fmt.Errorf("conv2d channels must not be negative, got %d -> %d", inChannels, outChannels)
	}
	if kernel[0] < 1 || kernel[1] < 1 || stride[0] < 1 || stride[1] < 1 {
		return nil, fmt.Errorf("conv2d kernel %v and stride %v must be positive", kernel, stride)
	}
	w, err := tensor.Zeros([]int{outChannels, inChannels, kernel[0], kernel[1]})
	if err != nil {
		return nil, err
	}
	c := &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Kernel:      kernel,
		Stride:      stride,
		Padding:     padding,
		weight:      &Parameter{Name: "weight", Value: w},
	}
	if useBias {
		b, err := tensor.Zeros([]int{outChannels})
		if err != nil {
			return nil, err
		}
		c.bias = &Parameter{Name: "bias", Value: b}
	}
	return c, nil
}

func (c *Conv2D) Kind() string { return "Conv2D" }

func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := check4D("conv2d", x.Shape); err != nil {
		return nil, err
	}
	var bias *tensor.Tensor
	if c.bias != nil {
		bias = c.bias.Value
	}
	pad := c.Padding.resolve(x.Shape[2], x.Shape[3], c.Kernel, c.Stride)
	return tensor.Conv2D(x, c.weight.Value, bias, c.Stride, pad)
}

func (c *Conv2D) OutputShape(in []int) ([]int, error) {
	if err := check4D("conv2d", in); err != nil {
		return nil, err
	}
	if in[1] != c.InChannels {
		return nil, fmt.Errorf("conv2d layer expects %d input channels, got %v", c.InChannels, in)
	}
	pad := c.Padding.resolve(in[2], in[3], c.Kernel, c.Stride)
	h := spatialOutput(in[2], c.Kernel[0], c.Stride[0], pad.Top, pad.Bottom)
	w := spatialOutput(in[3], c.Kernel[1], c.Stride[1], pad.Left, pad.Right)
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("conv2d kernel %v does not fit input %v", c.Kernel, in)
	}
	return []int{in[0], c.OutChannels, h, w}, nil
}

func (c *Conv2D) Parameters() []*Parameter {
	if c.bias == nil {
		return []*Parameter{c.weight}
	}
	return []*Parameter{c.weight, c.bias}
}

func (c *Conv2D) ResetParameters(rng *rand.Rand) error {
	fanIn := c.InChannels * c.Kernel[0] * c.Kernel[1]
	for _, p := range c.Parameters() {
		if err := uniformInit(p.Value, fanIn, rng); err != nil {
			return err
		}
	}
	return nil
}

// MaxPool2D takes the maximum over each window of [N, C, H, W] inputs
type MaxPool2D struct {
	Kernel  [2]int
	Stride  [2]int
	Padding Padding
}

func NewMaxPool2D(kernel, stride [2]int, padding Padding) (*MaxPool2D, error) {
	if kernel[0] < 1 || kernel[1] < 1 || stride[0] < 1 || stride[1] < 1 {
		return nil, fmt.Errorf("maxpool2d pool size %v and stride %v must be positive", kernel, stride)
	}
	return &MaxPool2D{Kernel: kernel, Stride: stride, Padding: padding}, nil
}

func (m *MaxPool2D) Kind() string { return "MaxPool2D" }

func (m *MaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := check4D("maxpool2d", x.Shape); err != nil {
		return nil, err
	}
	pad := m.Padding.resolve(x.Shape[2], x.Shape[3], m.Kernel, m.Stride)
	return tensor.MaxPool2D(x, m.Kernel, m.Stride, pad)
}

func (m *MaxPool2D) OutputShape(in []int) ([]int, error) {
	if err := check4D("maxpool2d", in); err != nil {
		return nil, err
	}
	pad := m.Padding.resolve(in[2], in[3], m.Kernel, m.Stride)
	h := spatialOutput(in[2], m.Kernel[0], m.Stride[0], pad.Top, pad.Bottom)
	w := spatialOutput(in[3], m.Kernel[1], m.Stride[1], pad.Left, pad.Right)
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("maxpool2d pool size %v does not fit input %v", m.Kernel, in)
	}
	return []int{in[0], in[1], h, w}, nil
}
