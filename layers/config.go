package layers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-infer/errtypes"
)

// ConfigFormat is the encoding of a model config document
type ConfigFormat int

const (
	JSON ConfigFormat = iota
	YAML
)

func (f ConfigFormat) String() string {
	switch f {
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// FormatForPath picks the config format from a file extension. Anything
// other than .yaml or .yml is read as JSON.
func FormatForPath(path string) ConfigFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

// ModelConfig declares a model: its input/output shapes, optional class
// names and the ordered layer specifications.
type ModelConfig struct {
	Version     string      `json:"version" yaml:"version"`
	ModelType   string      `json:"model_type" yaml:"model_type"`
	InputShape  []int       `json:"input_shape" yaml:"input_shape"`
	OutputShape []int       `json:"output_shape,omitempty" yaml:"output_shape,omitempty"`
	Classes     []string    `json:"classes,omitempty" yaml:"classes,omitempty"`
	Layers      []LayerSpec `json:"layers" yaml:"layers"`
}

// LayerSpec is one declared layer. Params are interpreted per Type when the
// layer is turned into a stage.
type LayerSpec struct {
	Type   LayerType      `json:"type" yaml:"type"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Label names the layer for messages, falling back to its type
func (ls LayerSpec) Label() string {
	if ls.Name != "" {
		return ls.Name
	}
	return string(ls.Type)
}

// Clone returns a deep copy of the layer spec
func (ls LayerSpec) Clone() LayerSpec {
	out := LayerSpec{Type: ls.Type, Name: ls.Name}
	if ls.Params != nil {
		out.Params = make(map[string]any, len(ls.Params))
		for k, v := range ls.Params {
			out.Params[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []int:
		return append([]int(nil), val...)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}

// Clone returns a deep copy of the config. Nothing in the copy aliases c.
func (c ModelConfig) Clone() ModelConfig {
	out := ModelConfig{Version: c.Version, ModelType: c.ModelType}
	if c.InputShape != nil {
		out.InputShape = append([]int(nil), c.InputShape...)
	}
	if c.OutputShape != nil {
		out.OutputShape = append([]int(nil), c.OutputShape...)
	}
	if c.Classes != nil {
		out.Classes = append([]string(nil), c.Classes...)
	}
	if c.Layers != nil {
		out.Layers = make([]LayerSpec, len(c.Layers))
		for i, l := range c.Layers {
			out.Layers[i] = l.Clone()
		}
	}
	return out
}

// OutputDim is the size of the last output dimension, or 0 when no output
// shape is declared.
func (c ModelConfig) OutputDim() int {
	if len(c.OutputShape) == 0 {
		return 0
	}
	return c.OutputShape[len(c.OutputShape)-1]
}

// Validate checks the document-level invariants. Layer parameters are
// checked when the layers are built.
func (c ModelConfig) Validate() error {
	const op = "Validate"
	if len(c.InputShape) == 0 {
		return errtypes.Errorf(errtypes.Config, op, "input_shape is required")
	}
	for i, d := range c.InputShape {
		if d < 0 {
			return errtypes.Errorf(errtypes.Config, op, "input_shape[%d] is negative: %v", i, c.InputShape)
		}
	}
	if len(c.Layers) == 0 {
		return errtypes.Errorf(errtypes.Config, op, "layers must not be empty")
	}
	if len(c.Classes) > 0 && len(c.OutputShape) > 0 && len(c.Classes) != c.OutputDim() {
		return errtypes.Errorf(errtypes.Config, op, "%d classes declared but output dimension is %d", len(c.Classes), c.OutputDim())
	}
	return nil
}

// ParseConfig decodes and validates a config document
func ParseConfig(data []byte, format ConfigFormat) (*ModelConfig, error) {
	const op = "ParseConfig"
	var cfg ModelConfig
	switch format {
	case YAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errtypes.Errorf(errtypes.IO, op, "failed to decode yaml config: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&cfg); err != nil {
			return nil, errtypes.Errorf(errtypes.IO, op, "failed to decode json config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads a JSON or YAML config document from path
func LoadConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.IO, "LoadConfig", "failed to read config: %w", err)
	}
	cfg, err := ParseConfig(data, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in the format implied by its extension
func SaveConfig(path string, cfg ModelConfig) error {
	var (
		data []byte
		err  error
	)
	switch FormatForPath(path) {
	case YAML:
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return errtypes.Errorf(errtypes.IO, "SaveConfig", "failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errtypes.Errorf(errtypes.IO, "SaveConfig", "failed to write config: %w", err)
	}
	return nil
}
