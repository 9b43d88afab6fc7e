package checkpoints

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-infer/activations"
	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/nn"
	"github.com/tsawler/go-infer/tensor"
)

func newPipeline(t *testing.T, seed int64) *nn.Pipeline {
	t.Helper()
	fc1, err := nn.NewDense(4, 8, true)
	require.NoError(t, err)
	bn, err := nn.NewBatchNorm(8, nn.DefaultBatchNormEps)
	require.NoError(t, err)
	fc2, err := nn.NewDense(8, 3, true)
	require.NoError(t, err)

	p := nn.NewPipeline(nn.NewActivated(fc1, activations.ReLU), bn, fc2)
	require.NoError(t, p.ResetParameters(rand.New(rand.NewSource(seed))))
	return p
}

func snapshot(p *nn.Pipeline) map[string][]float32 {
	out := map[string][]float32{}
	for _, np := range p.NamedParameters() {
		out[np.Key] = append([]float32(nil), np.Value.Data...)
	}
	return out
}

func TestStateDictKeepsParameterOrder(t *testing.T) {
	sd := StateDictOf(newPipeline(t, 1))
	want := []string{
		"0.0.weight", "0.0.bias",
		"1.weight", "1.bias", "1.running_mean", "1.running_var",
		"2.weight", "2.bias",
	}
	if diff := cmp.Diff(want, sd.Keys()); diff != "" {
		t.Errorf("key order mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	src := newPipeline(t, 1)
	dst := newPipeline(t, 2)
	require.NotEqual(t, snapshot(src), snapshot(dst))

	path := filepath.Join(t.TempDir(), "weights.bin")
	loader := NewLoader(nil)
	id, err := loader.Save(path, src)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	result, err := loader.Load(path, dst)
	require.NoError(t, err)
	assert.Equal(t, Bound, result.Outcome)
	assert.Equal(t, "native", result.Format)
	assert.Equal(t, 8, result.Tensors)
	assert.Equal(t, id.String(), result.CheckpointID)
	assert.Equal(t, snapshot(src), snapshot(dst))
}

func TestNativeHalfAndDoublePrecision(t *testing.T) {
	values := []float32{0.5, -1.25, 2, 0}
	sd := NewStateDict()
	sd.Set("0.weight", tensor.MustNew([]int{2, 2}, values))

	for _, dtype := range []tensor.DType{tensor.Float16, tensor.BFloat16, tensor.Float64, tensor.Float32} {
		t.Run(dtype.String(), func(t *testing.T) {
			blob, err := MarshalNative(sd, Header{Producer: "test"}, dtype)
			require.NoError(t, err)

			decoded, h, err := UnmarshalNative(blob)
			require.NoError(t, err)
			assert.Equal(t, "test", h.Producer)
			assert.Equal(t, uint64(1), h.Version)
			assert.Equal(t, uuid.Nil, h.ID)

			got, ok := decoded.Get("0.weight")
			require.True(t, ok)
			assert.Equal(t, []int{2, 2}, got.Shape)
			assert.Equal(t, values, got.Data)
		})
	}
}

func TestNativeRejectsOtherBlobs(t *testing.T) {
	for name, blob := range map[string][]byte{
		"json":  []byte(`{"version": "1.0", "weights": [[1, 2]]}`),
		"text":  []byte("hello world"),
		"empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := UnmarshalNative(blob)
			require.Error(t, err)
		})
	}
}

func TestNativeRejectsTruncatedPayload(t *testing.T) {
	sd := NewStateDict()
	sd.Set("0.weight", tensor.MustNew([]int{3}, []float32{1, 2, 3}))
	blob, err := MarshalNative(sd, Header{}, tensor.Float32)
	require.NoError(t, err)

	_, _, err = UnmarshalNative(blob[:len(blob)-2])
	require.Error(t, err)
}

// oversizedRecordBlob declares a double tensor far larger than its payload
func oversizedRecordBlob() []byte {
	var record []byte
	record = protowire.AppendTag(record, recordName, protowire.BytesType)
	record = protowire.AppendString(record, "0.weight")
	record = protowire.AppendTag(record, recordDims, protowire.BytesType)
	record = protowire.AppendBytes(record, protowire.AppendVarint(nil, 1<<61))
	record = protowire.AppendTag(record, recordDataType, protowire.VarintType)
	record = protowire.AppendVarint(record, onnxDouble)

	var b []byte
	b = protowire.AppendTag(b, stateMagic, protowire.BytesType)
	b = protowire.AppendString(b, nativeMagic)
	b = protowire.AppendTag(b, stateVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, nativeVersion)
	b = protowire.AppendTag(b, stateTensors, protowire.BytesType)
	return protowire.AppendBytes(b, record)
}

func TestNativeRejectsOversizedShape(t *testing.T) {
	blob := oversizedRecordBlob()

	require.NotPanics(t, func() {
		_, _, err := UnmarshalNative(blob)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `tensor "0.weight"`)
	})

	p := newPipeline(t, 11)
	before := snapshot(p)
	_, err := NewLoader(nil).Bind(blob, p)
	require.Error(t, err)
	assert.True(t, errtypes.Is(err, errtypes.IO))
	assert.Equal(t, before, snapshot(p))
}

func TestJSONWeightsLeaveParametersUnbound(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	loader := NewLoader(zap.New(core).Sugar())

	p := newPipeline(t, 3)
	before := snapshot(p)

	result, err := loader.Bind([]byte(`{"version": "1.0", "weights": [[0.1, 0.2], [0.3]]}`), p)
	require.NoError(t, err)
	assert.Equal(t, WeightsUnbound, result.Outcome)
	assert.Equal(t, "json", result.Format)
	assert.Equal(t, before, snapshot(p))
	assert.Equal(t, 1, logs.FilterMessageSnippet("weights were not bound").Len())
}

func TestJSONDecoderReportsUnsupportedFormat(t *testing.T) {
	_, err := JSONDecoder{}.Decode([]byte(`{"version": "2", "weights": [[1, 2, 3]]}`))
	require.ErrorIs(t, err, errtypes.ErrUnsupportedWeightFormat)
	assert.Contains(t, err.Error(), "3 values")

	for name, doc := range map[string]string{
		"layer map":      `{"fc1": {"weight": [[0.1, 0.2]]}, "fc2": {"bias": [0.3]}}`,
		"nested weights": `{"weights": {"fc1": [0.1]}}`,
		"no weights":     `{"version": "2"}`,
		"empty object":   `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := JSONDecoder{}.Decode([]byte(doc))
			require.ErrorIs(t, err, errtypes.ErrUnsupportedWeightFormat)
		})
	}

	for name, doc := range map[string]string{
		"array":     `[[1, 2]]`,
		"malformed": `{"weights": [[1,`,
		"text":      `weights`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := JSONDecoder{}.Decode([]byte(doc))
			require.Error(t, err)
			assert.NotErrorIs(t, err, errtypes.ErrUnsupportedWeightFormat)
		})
	}
}

func TestUnreadableWeightsAreIOErrors(t *testing.T) {
	loader := NewLoader(nil)
	p := newPipeline(t, 4)

	_, err := loader.Bind([]byte("definitely not weights"), p)
	require.Error(t, err)
	assert.True(t, errtypes.Is(err, errtypes.IO))

	_, err = loader.Load(filepath.Join(t.TempDir(), "missing.bin"), p)
	require.Error(t, err)
	assert.True(t, errtypes.Is(err, errtypes.IO))
}

func TestShapeMismatchDoesNotBind(t *testing.T) {
	sd := StateDictOf(newPipeline(t, 5))
	sd.Set("2.weight", tensor.MustNew([]int{3, 7}, nil))
	blob, err := MarshalNative(sd, Header{}, tensor.Float32)
	require.NoError(t, err)

	p := newPipeline(t, 6)
	before := snapshot(p)

	_, err = NewLoader(nil).Bind(blob, p)
	require.Error(t, err)
	assert.True(t, errtypes.Is(err, errtypes.IO))
	assert.Contains(t, err.Error(), "shape mismatch for 2.weight")
	assert.Equal(t, before, snapshot(p))
}

func TestMissingTensorDoesNotBind(t *testing.T) {
	full := StateDictOf(newPipeline(t, 7))
	partial := NewStateDict()
	for _, k := range full.Keys() {
		if k == "1.running_var" {
			continue
		}
		v, _ := full.Get(k)
		partial.Set(k, v)
	}
	partial.Set("1.num_batches", tensor.MustNew([]int{1}, nil))

	err := partial.Bind(newPipeline(t, 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing tensor "1.running_var"`)
}

type fixedDecoder struct {
	name string
	sd   *StateDict
	err  error
}

func (f fixedDecoder) Name() string                      { return f.name }
func (f fixedDecoder) Decode([]byte) (*StateDict, error) { return f.sd, f.err }

func TestDecodersAreTriedInOrder(t *testing.T) {
	src := newPipeline(t, 9)
	dst := newPipeline(t, 10)

	loader := NewLoader(nil,
		fixedDecoder{name: "broken", err: os.ErrInvalid},
		fixedDecoder{name: "good", sd: StateDictOf(src)},
		fixedDecoder{name: "never", err: os.ErrClosed},
	)
	result, err := loader.Bind(nil, dst)
	require.NoError(t, err)
	assert.Equal(t, "good", result.Format)
	assert.Equal(t, snapshot(src), snapshot(dst))
}
