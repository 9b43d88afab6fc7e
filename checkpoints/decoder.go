package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tsawler/go-infer/errtypes"
)

// Decoder turns a weight blob into a state dict. A decoder that recognizes
// a blob but cannot map it onto pipeline parameters returns an error
// wrapping errtypes.ErrUnsupportedWeightFormat.
type Decoder interface {
	Name() string
	Decode(data []byte) (*StateDict, error)
}

// NativeDecoder reads the protobuf parameter-state format written by Save
type NativeDecoder struct{}

func (NativeDecoder) Name() string { return "native" }

func (NativeDecoder) Decode(data []byte) (*StateDict, error) {
	sd, h, err := UnmarshalNative(data)
	if err != nil {
		return nil, err
	}
	sd.id = h.ID
	return sd, nil
}

// WeightsDocument is the JSON weight export: one flat array per layer with
// no names or shapes.
type WeightsDocument struct {
	Version string      `json:"version"`
	Weights [][]float64 `json:"weights"`
}

// JSONDecoder recognizes JSON weight exports. Neither WeightsDocument nor
// layer-name maps carry enough shape information to be assigned to
// parameters, so every well-formed JSON object is reported as an
// unsupported format.
type JSONDecoder struct{}

func (JSONDecoder) Name() string { return "json" }

func (JSONDecoder) Decode(data []byte) (*StateDict, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &fields); err != nil {
		return nil, fmt.Errorf("not a json weight document: %w", err)
	}

	var doc WeightsDocument
	if raw, ok := fields["weights"]; ok && json.Unmarshal(raw, &doc.Weights) == nil {
		_ = json.Unmarshal(fields["version"], &doc.Version)
		values := 0
		for _, w := range doc.Weights {
			values += len(w)
		}
		return nil, fmt.Errorf("%w: json weights (version %q, %d arrays, %d values) have no mapping onto pipeline parameters",
			errtypes.ErrUnsupportedWeightFormat, doc.Version, len(doc.Weights), values)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return nil, fmt.Errorf("%w: json document with keys %v has no mapping onto pipeline parameters",
		errtypes.ErrUnsupportedWeightFormat, keys)
}

// DefaultDecoders is the decode order used when none is configured
func DefaultDecoders() []Decoder {
	return []Decoder{NativeDecoder{}, JSONDecoder{}}
}
