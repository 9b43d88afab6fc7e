// Package preprocessing turns image files into input tensors shaped for a
// loaded model.
package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"sync"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/tensor"
)

// Layout is the pixel arrangement an input shape expects
type Layout struct {
	Channels int
	Height   int
	Width    int
	// Flat layouts pack CHW pixels into a single feature dimension
	Flat bool
}

// LayoutFor derives a Layout from a model input shape. [N,C,H,W] with C of
// 1 or 3 is used as is; [N,D] is accepted when D is a square grayscale image
// (784 = 28x28) or three square channels.
func LayoutFor(inputShape []int) (Layout, error) {
	switch len(inputShape) {
	case 4:
		c, h, w := inputShape[1], inputShape[2], inputShape[3]
		if c != 1 && c != 3 {
			return Layout{}, errtypes.Errorf(errtypes.Config, "LayoutFor", "input shape %v: expected 1 or 3 channels, got %d", inputShape, c)
		}
		if h < 1 || w < 1 {
			return Layout{}, errtypes.Errorf(errtypes.Config, "LayoutFor", "input shape %v has an empty spatial dimension", inputShape)
		}
		return Layout{Channels: c, Height: h, Width: w}, nil
	case 2:
		d := inputShape[1]
		for _, c := range []int{1, 3} {
			if d%c != 0 {
				continue
			}
			if side, ok := squareSide(d / c); ok {
				return Layout{Channels: c, Height: side, Width: side, Flat: true}, nil
			}
		}
		return Layout{}, errtypes.Errorf(errtypes.Config, "LayoutFor", "input shape %v is not an image: %d features is not a square image", inputShape, d)
	default:
		return Layout{}, errtypes.Errorf(errtypes.Config, "LayoutFor", "input shape %v is not an image: expected [N,C,H,W] or [N,D]", inputShape)
	}
}

func squareSide(n int) (int, bool) {
	if n < 1 {
		return 0, false
	}
	side := int(math.Round(math.Sqrt(float64(n))))
	return side, side*side == n
}

// Size is the number of values in one preprocessed image
func (l Layout) Size() int {
	return l.Channels * l.Height * l.Width
}

// Shape is the tensor shape of a single preprocessed image
func (l Layout) Shape() []int {
	if l.Flat {
		return []int{1, l.Size()}
	}
	return []int{1, l.Channels, l.Height, l.Width}
}

// ImageProcessor decodes images into tensors of a fixed Layout, reusing its
// scratch buffer between calls
type ImageProcessor struct {
	mu            sync.Mutex
	layout        Layout
	processBuffer []float32
}

// NewImageProcessor creates a processor for the given model input shape
func NewImageProcessor(inputShape []int) (*ImageProcessor, error) {
	layout, err := LayoutFor(inputShape)
	if err != nil {
		return nil, err
	}
	return &ImageProcessor{layout: layout}, nil
}

func (p *ImageProcessor) Layout() Layout {
	return p.layout
}

// DecodeAndPreprocess decodes an image, resizes it to the layout and returns
// CHW data normalized to [0, 1]. Single channel layouts use luma.
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*tensor.Tensor, error) {
	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.IO, "DecodeAndPreprocess", "failed to decode image: %w", err)
	}
	return p.Preprocess(img, format)
}

// Preprocess converts an already decoded image. format is only used in errors.
func (p *ImageProcessor) Preprocess(img image.Image, format string) (*tensor.Tensor, error) {
	l := p.layout
	if b := img.Bounds(); b.Empty() {
		return nil, errtypes.Errorf(errtypes.Validation, "Preprocess", "%s image has no pixels", format)
	}
	resized := resize.Resize(uint(l.Width), uint(l.Height), img, resize.Bilinear)
	bounds := resized.Bounds()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.processBuffer) < l.Size() {
		p.processBuffer = make([]float32, l.Size())
	}
	data := p.processBuffer[:l.Size()]
	plane := l.Height * l.Width

	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			c := resized.At(bounds.Min.X+x, bounds.Min.Y+y)
			idx := y*l.Width + x
			if l.Channels == 1 {
				data[idx] = float32(color.Gray16Model.Convert(c).(color.Gray16).Y) / 65535.0
				continue
			}
			r, g, b, _ := c.RGBA()
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	// the buffer is reused, the tensor gets its own copy
	out := make([]float32, len(data))
	copy(out, data)
	return tensor.New(l.Shape(), out)
}

// LoadImage opens and preprocesses the image at path
func (p *ImageProcessor) LoadImage(path string) (*tensor.Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.IO, "LoadImage", "failed to open image: %w", err)
	}
	defer file.Close()

	x, err := p.DecodeAndPreprocess(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return x, nil
}

// PreprocessBatch preprocesses images concurrently. Results keep the order of
// imagePaths and the first failing index is reported.
func PreprocessBatch(imagePaths []string, inputShape []int, maxWorkers int) ([]*tensor.Tensor, error) {
	if _, err := LayoutFor(inputShape); err != nil {
		return nil, err
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*tensor.Tensor, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// layout was checked above
			processor, _ := NewImageProcessor(inputShape)

			for j := range jobs {
				x, err := processor.LoadImage(j.path)
				if err != nil {
					errs[j.index] = err
					continue
				}
				results[j.index] = x
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d: %w", i, err)
		}
	}
	return results, nil
}
