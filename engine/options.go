package engine

import (
	"go.uber.org/zap"

	"github.com/tsawler/go-infer/checkpoints"
	"github.com/tsawler/go-infer/tensor"
)

// Option configures an InferenceEngine
type Option func(*InferenceEngine)

// WithDevice sets the compute target. The default is tensor.DetectDevice().
func WithDevice(d tensor.Device) Option {
	return func(e *InferenceEngine) {
		e.device = d
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *InferenceEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSeed seeds default parameter initialization and synthetic warmup inputs
func WithSeed(seed int64) Option {
	return func(e *InferenceEngine) {
		e.seed = seed
	}
}

// WithDecoders replaces the weight decoders tried by LoadModel, in order
func WithDecoders(decoders ...checkpoints.Decoder) Option {
	return func(e *InferenceEngine) {
		e.decoders = decoders
	}
}
