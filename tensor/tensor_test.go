package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func seq(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestNewValidatesData(t *testing.T) {
	_, err := New([]int{2, 3}, make([]float32, 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match tensor size 6")

	_, err = New([]int{2, -1}, nil)
	require.Error(t, err)

	_, err = New(nil, nil)
	require.Error(t, err)

	z, err := Zeros([]int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 6, z.Numel())
	assert.Equal(t, []int{3, 1}, z.Strides)
	assert.Equal(t, CPU, z.Device)
}

func TestValidateCatchesInconsistentTensors(t *testing.T) {
	require.NoError(t, MustNew([]int{2, 2}, nil).Validate())

	for name, x := range map[string]*Tensor{
		"short data":   {Shape: []int{1, 4}, Data: []float32{1}, NumElems: 4},
		"stale count":  {Shape: []int{1, 2}, Data: []float32{1, 2}, NumElems: 8},
		"negative dim": {Shape: []int{-1, 2}, Data: []float32{1, 2}, NumElems: 2},
		"no shape":     {Data: []float32{1}},
		"huge shape":   {Shape: []int{1 << 40, 1 << 40}, Data: []float32{1}, NumElems: 1},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, x.Validate())
		})
	}
}

func TestReshapeInfersDimension(t *testing.T) {
	x := MustNew([]int{2, 3, 4}, nil)

	r, err := x.Reshape([]int{2, -1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, r.Shape)

	_, err = x.Reshape([]int{5, -1})
	require.Error(t, err)

	_, err = x.Reshape([]int{-1, -1})
	require.Error(t, err)
}

func TestLinear(t *testing.T) {
	input := MustNew([]int{1, 2}, []float32{1, 2})
	weight := MustNew([]int{3, 2}, []float32{1, 0, 0, 1, 1, 1})
	bias := MustNew([]int{3}, []float32{0.5, 0, -1})

	out, err := Linear(input, weight, bias)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, out.Shape)
	assert.Equal(t, []float32{1.5, 2, 2}, out.Data)

	noBias, err := Linear(input, weight, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, noBias.Data)

	gpuInput := input.Clone()
	gpuInput.Device = GPU
	_, err = Linear(gpuInput, weight, bias)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same device")

	_, err = Linear(MustNew([]int{1, 4}, nil), weight, bias)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last input dimension 2")
}

func TestConv2D(t *testing.T) {
	input := MustNew([]int{1, 1, 3, 3}, seq(9, 1))
	weight := MustNew([]int{1, 1, 2, 2}, []float32{1, 1, 1, 1})
	bias := MustNew([]int{1}, []float32{1})

	out, err := Conv2D(input, weight, bias, [2]int{1, 1}, Padding2D{})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	assert.Equal(t, []float32{13, 17, 25, 29}, out.Data)
}

func TestConv2DSamePadding(t *testing.T) {
	input := MustNew([]int{1, 1, 3, 3}, seq(9, 1))
	ones, err := Ones([]int{1, 1, 3, 3})
	require.NoError(t, err)

	pad := SamePadding(3, 3, [2]int{3, 3}, [2]int{1, 1})
	assert.Equal(t, SymmetricPadding(1, 1), pad)

	out, err := Conv2D(input, ones, nil, [2]int{1, 1}, pad)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3}, out.Shape)
	center, err := out.At(0, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(45), center)
	corner, err := out.At(0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(12), corner)
}

func TestConv2DChannelMismatch(t *testing.T) {
	input := MustNew([]int{1, 2, 3, 3}, nil)
	weight := MustNew([]int{1, 3, 2, 2}, nil)

	_, err := Conv2D(input, weight, nil, [2]int{1, 1}, Padding2D{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 3 input channels")
}

func TestMaxPool2D(t *testing.T) {
	input := MustNew([]int{1, 1, 4, 4}, seq(16, 0))

	out, err := MaxPool2D(input, [2]int{2, 2}, [2]int{2, 2}, Padding2D{})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	assert.Equal(t, []float32{5, 7, 13, 15}, out.Data)
}

func TestMaxPool2DSamePadding(t *testing.T) {
	input := MustNew([]int{1, 1, 3, 3}, seq(9, 1))
	pad := SamePadding(3, 3, [2]int{2, 2}, [2]int{2, 2})
	assert.Equal(t, Padding2D{Top: 0, Bottom: 1, Left: 0, Right: 1}, pad)

	out, err := MaxPool2D(input, [2]int{2, 2}, [2]int{2, 2}, pad)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	assert.Equal(t, []float32{5, 6, 8, 9}, out.Data)
}

func TestBatchNormInference(t *testing.T) {
	input := MustNew([]int{2, 2}, []float32{1, 2, 3, 4})
	mean := MustNew([]int{2}, []float32{2, 3})
	variance := MustNew([]int{2}, []float32{1, 4})
	gamma := MustNew([]int{2}, []float32{1, 1})
	beta := MustNew([]int{2}, []float32{0, 1})

	out, err := BatchNormInference(input, mean, variance, gamma, beta, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{-1, 0.5, 1, 1.5}, out.Data, approx); diff != "" {
		t.Errorf("batch norm mismatch (-want +got):\n%s", diff)
	}

	_, err = BatchNormInference(MustNew([]int{2, 3}, nil), mean, variance, gamma, beta, 1e-5)
	require.Error(t, err)
}

func TestActivations(t *testing.T) {
	x := MustNew([]int{1, 3}, []float32{-1, 0, 2})

	assert.Equal(t, []float32{0, 0, 2}, ReLU(x).Data)

	sig := Sigmoid(x)
	assert.InDelta(t, 0.5, sig.Data[1], 1e-6)
	assert.InDelta(t, 1/(1+math.Exp(1)), sig.Data[0], 1e-6)

	assert.InDelta(t, math.Tanh(2), Tanh(x).Data[2], 1e-6)

	gelu := GELU(x)
	assert.InDelta(t, 0, gelu.Data[1], 1e-6)
	assert.InDelta(t, 1.9545, gelu.Data[2], 1e-4)

	// inputs are never modified
	assert.Equal(t, []float32{-1, 0, 2}, x.Data)
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x, err := RandomNormal([]int{4, 5}, 0, 3, rng)
	require.NoError(t, err)

	p, err := Softmax(x)
	require.NoError(t, err)
	for r := 0; r < 4; r++ {
		var sum float64
		for _, v := range p.Data[r*5 : (r+1)*5] {
			assert.GreaterOrEqual(t, v, float32(0))
			sum += float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}

	even, err := Softmax(MustNew([]int{1, 2}, []float32{1000, 1000}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, even.Data)
}

func TestTopKAndArgMax(t *testing.T) {
	values := []float32{0.1, 0.5, 0.2, 0.5}

	idx, vals, err := TopK(values, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, idx)
	assert.Equal(t, []float32{0.5, 0.5, 0.2}, vals)

	_, _, err = TopK(values, 5)
	require.Error(t, err)
	_, _, err = TopK(values, 0)
	require.Error(t, err)

	i, v := ArgMax(values)
	assert.Equal(t, 1, i)
	assert.Equal(t, float32(0.5), v)
}

func TestFlatten(t *testing.T) {
	x := MustNew([]int{2, 3, 2, 2}, nil)
	f, err := Flatten(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, f.Shape)
}

func TestDeviceDetectionAndPlacement(t *testing.T) {
	d := DetectDevice()
	assert.Equal(t, CPU, d.Type)
	assert.NotEmpty(t, d.Arch)
	assert.Contains(t, d.String(), "CPU")

	x := MustNew([]int{1}, []float32{3})
	same, err := x.ToDevice(CPU)
	require.NoError(t, err)
	assert.Same(t, x, same)

	_, err = x.ToDevice(GPU)
	require.Error(t, err)
}
