package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Padding2D is the number of padded rows/columns on each side of an image
type Padding2D struct {
	Top, Bottom, Left, Right int
}

// SymmetricPadding pads h rows above and below and w columns left and right
func SymmetricPadding(h, w int) Padding2D {
	return Padding2D{Top: h, Bottom: h, Left: w, Right: w}
}

// SamePadding returns the padding that makes the output size ceil(in/stride)
// for the given kernel. Odd totals put the extra row/column after the image.
func SamePadding(inH, inW int, kernel, stride [2]int) Padding2D {
	before := func(in, k, s int) (int, int) {
		out := (in + s - 1) / s
		total := max((out-1)*s+k-in, 0)
		return total / 2, total - total/2
	}
	top, bottom := before(inH, kernel[0], stride[0])
	left, right := before(inW, kernel[1], stride[1])
	return Padding2D{Top: top, Bottom: bottom, Left: left, Right: right}
}

func outputSize(in, padBefore, padAfter, k, s int) int {
	return (in+padBefore+padAfter-k)/s + 1
}

func check4D(op string, t *Tensor) error {
	if len(t.Shape) != 4 {
		return fmt.Errorf("%s requires 4D input [batch, channels, height, width], got %v", op, t.Shape)
	}
	return nil
}

// Conv2D convolves input [N, C, H, W] with weight [O, C, kh, kw] and adds
// bias [O] when it is not nil.
func Conv2D(input, weight, bias *Tensor, stride [2]int, pad Padding2D) (*Tensor, error) {
	if err := check4D("conv2d", input); err != nil {
		return nil, err
	}
	if len(weight.Shape) != 4 {
		return nil, fmt.Errorf("conv2d weight must be 4D [out, in, kh, kw], got %v", weight.Shape)
	}
	if stride[0] < 1 || stride[1] < 1 {
		return nil, fmt.Errorf("conv2d stride must be positive, got %v", stride)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	outC, inC, kh, kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]
	if c != inC {
		return nil, fmt.Errorf("conv2d expects %d input channels, got shape %v", inC, input.Shape)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != outC) {
		return nil, fmt.Errorf("conv2d bias shape %v does not match %d output channels", bias.Shape, outC)
	}

	outH := outputSize(h, pad.Top, pad.Bottom, kh, stride[0])
	outW := outputSize(w, pad.Left, pad.Right, kw, stride[1])
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("conv2d kernel %dx%d does not fit input %dx%d with padding %+v", kh, kw, h, w, pad)
	}

	result, err := Zeros([]int{n, outC, outH, outW})
	if err != nil {
		return nil, err
	}

	patch := inC * kh * kw
	spatial := outH * outW
	cols := make([]float32, patch*spatial)

	for b := 0; b < n; b++ {
		img := input.Data[b*c*h*w : (b+1)*c*h*w]
		im2col(img, c, h, w, kh, kw, stride, pad, outH, outW, cols)

		out := result.Data[b*outC*spatial : (b+1)*outC*spatial]
		if bias != nil {
			for o := 0; o < outC; o++ {
				row := out[o*spatial : (o+1)*spatial]
				for i := range row {
					row[i] = bias.Data[o]
				}
			}
		}
		if patch == 0 || outC == 0 {
			continue
		}

		beta := float32(0)
		if bias != nil {
			beta = 1
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			general(outC, patch, weight.Data),
			general(patch, spatial, cols),
			beta, general(outC, spatial, out))
	}

	return result, nil
}

// im2col lays out every receptive field of img as a column of cols
func im2col(img []float32, c, h, w, kh, kw int, stride [2]int, pad Padding2D, outH, outW int, cols []float32) {
	spatial := outH * outW
	for ch := 0; ch < c; ch++ {
		for ky := 0; ky < kh; ky++ {
			for kx := 0; kx < kw; kx++ {
				row := ((ch*kh+ky)*kw + kx) * spatial
				for oy := 0; oy < outH; oy++ {
					iy := oy*stride[0] - pad.Top + ky
					for ox := 0; ox < outW; ox++ {
						ix := ox*stride[1] - pad.Left + kx
						var v float32
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							v = img[(ch*h+iy)*w+ix]
						}
						cols[row+oy*outW+ox] = v
					}
				}
			}
		}
	}
}

// MaxPool2D takes the maximum over each kernel window. Padded positions
// never win.
func MaxPool2D(input *Tensor, kernel, stride [2]int, pad Padding2D) (*Tensor, error) {
	if err := check4D("maxpool2d", input); err != nil {
		return nil, err
	}
	if kernel[0] < 1 || kernel[1] < 1 || stride[0] < 1 || stride[1] < 1 {
		return nil, fmt.Errorf("maxpool2d kernel %v and stride %v must be positive", kernel, stride)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	outH := outputSize(h, pad.Top, pad.Bottom, kernel[0], stride[0])
	outW := outputSize(w, pad.Left, pad.Right, kernel[1], stride[1])
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("maxpool2d kernel %v does not fit input %dx%d with padding %+v", kernel, h, w, pad)
	}

	result, err := Zeros([]int{n, c, outH, outW})
	if err != nil {
		return nil, err
	}

	for plane := 0; plane < n*c; plane++ {
		src := input.Data[plane*h*w : (plane+1)*h*w]
		dst := result.Data[plane*outH*outW : (plane+1)*outH*outW]
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				best := float32(math.Inf(-1))
				for ky := 0; ky < kernel[0]; ky++ {
					iy := oy*stride[0] - pad.Top + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < kernel[1]; kx++ {
						ix := ox*stride[1] - pad.Left + kx
						if ix < 0 || ix >= w {
							continue
						}
						if v := src[iy*w+ix]; v > best {
							best = v
						}
					}
				}
				dst[oy*outW+ox] = best
			}
		}
	}

	return result, nil
}

// BatchNormInference normalizes dimension 1 of input with fixed statistics:
// (x - mean) / sqrt(var + eps) * gamma + beta
func BatchNormInference(input, mean, variance, gamma, beta *Tensor, eps float32) (*Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("batch norm requires at least 2D input [batch, features, ...], got %v", input.Shape)
	}
	features := input.Shape[1]
	for name, p := range map[string]*Tensor{"running_mean": mean, "running_var": variance, "weight": gamma, "bias": beta} {
		if len(p.Shape) != 1 || p.Shape[0] != features {
			return nil, fmt.Errorf("batch norm %s shape %v does not match %d features of input %v", name, p.Shape, features, input.Shape)
		}
	}

	inner := 1
	for _, d := range input.Shape[2:] {
		inner *= d
	}

	scale := make([]float32, features)
	shift := make([]float32, features)
	for f := 0; f < features; f++ {
		inv := float32(1 / math.Sqrt(float64(variance.Data[f])+float64(eps)))
		scale[f] = gamma.Data[f] * inv
		shift[f] = beta.Data[f] - mean.Data[f]*scale[f]
	}

	result := input.Clone()
	for i := range result.Data {
		f := (i / inner) % features
		result.Data[i] = result.Data[i]*scale[f] + shift[f]
	}
	return result, nil
}
