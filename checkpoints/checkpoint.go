// Package checkpoints reads and writes pipeline parameters. Weight blobs are
// tried against an ordered list of decoders; the first one whose state dict
// binds onto the pipeline wins.
package checkpoints

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/nn"
	"github.com/tsawler/go-infer/tensor"
)

// Producer is recorded in every blob written by Save
const Producer = "go-infer"

// Outcome says whether a load bound weights onto the pipeline
type Outcome int

const (
	// Bound means every parameter was populated from the blob
	Bound Outcome = iota
	// WeightsUnbound means the blob was recognized but could not be mapped,
	// so parameters keep their default initialization
	WeightsUnbound
)

func (o Outcome) String() string {
	switch o {
	case Bound:
		return "bound"
	case WeightsUnbound:
		return "unbound"
	default:
		return "unknown"
	}
}

// LoadResult describes a completed load
type LoadResult struct {
	Format  string
	Outcome Outcome
	Tensors int
	// CheckpointID is set for native blobs that carry one
	CheckpointID string
}

// Loader binds weight blobs onto pipelines
type Loader struct {
	decoders []Decoder
	logger   *zap.SugaredLogger
}

// NewLoader creates a loader trying decoders in order. With no decoders the
// native format is tried first and the JSON export second.
func NewLoader(logger *zap.SugaredLogger, decoders ...Decoder) *Loader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if len(decoders) == 0 {
		decoders = DefaultDecoders()
	}
	return &Loader{decoders: decoders, logger: logger}
}

// Load reads path and binds it onto p
func (l *Loader) Load(path string, p *nn.Pipeline) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, errtypes.Errorf(errtypes.IO, "LoadWeights", "failed to read weights: %w", err)
	}
	result, err := l.Bind(data, p)
	if err != nil {
		return result, fmt.Errorf("%s: %w", path, err)
	}
	return result, nil
}

// Bind decodes data with each decoder in turn. When no decoder binds but one
// recognized the blob as an unsupported format, the result is WeightsUnbound
// and p is left untouched; otherwise the failures are returned as an IO
// error.
func (l *Loader) Bind(data []byte, p *nn.Pipeline) (LoadResult, error) {
	var (
		failures    []error
		unsupported string
	)

	for _, d := range l.decoders {
		sd, err := d.Decode(data)
		if err != nil {
			if errors.Is(err, errtypes.ErrUnsupportedWeightFormat) && unsupported == "" {
				unsupported = d.Name()
				l.logger.Warnw("weights were not bound; parameters keep their default initialization",
					"format", d.Name(), "reason", err)
			}
			failures = append(failures, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		if err := sd.Bind(p); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}

		result := LoadResult{Format: d.Name(), Outcome: Bound, Tensors: sd.Len()}
		if sd.id != uuid.Nil {
			result.CheckpointID = sd.id.String()
		}
		l.logger.Debugw("weights bound", "format", d.Name(), "tensors", sd.Len())
		return result, nil
	}

	if unsupported != "" {
		return LoadResult{Format: unsupported, Outcome: WeightsUnbound}, nil
	}
	return LoadResult{}, errtypes.Errorf(errtypes.IO, "LoadWeights", "no decoder could bind the weights: %w", errors.Join(failures...))
}

// Save writes p's parameters as a native float32 blob. The file is replaced
// atomically.
func (l *Loader) Save(path string, p *nn.Pipeline) (uuid.UUID, error) {
	id := uuid.New()
	data, err := MarshalNative(StateDictOf(p), Header{Producer: Producer, ID: id}, tensor.Float32)
	if err != nil {
		return uuid.Nil, errtypes.Errorf(errtypes.IO, "SaveWeights", "failed to encode weights: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return uuid.Nil, errtypes.Errorf(errtypes.IO, "SaveWeights", "failed to create weights file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return uuid.Nil, errtypes.Errorf(errtypes.IO, "SaveWeights", "failed to write weights: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return uuid.Nil, errtypes.Errorf(errtypes.IO, "SaveWeights", "failed to write weights: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return uuid.Nil, errtypes.Errorf(errtypes.IO, "SaveWeights", "failed to write weights: %w", err)
	}

	l.logger.Debugw("weights saved", "path", path, "id", id.String(), "bytes", len(data))
	return id, nil
}
