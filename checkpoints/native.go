package checkpoints

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-infer/tensor"
)

// The native parameter blob is protobuf wire format:
//
//	message ParameterState {
//	  string magic = 1;            // nativeMagic
//	  uint32 version = 2;
//	  string producer = 3;
//	  string id = 4;               // checkpoint uuid
//	  repeated TensorRecord tensors = 5;
//	}
//	message TensorRecord {
//	  string name = 1;
//	  repeated int64 dims = 2 [packed = true];
//	  int32 data_type = 3;         // ONNX TensorProto.DataType
//	  bytes raw_data = 4;          // little endian
//	}
const (
	nativeMagic   = "go-infer/parameter-state"
	nativeVersion = 1

	stateMagic    protowire.Number = 1
	stateVersion  protowire.Number = 2
	stateProducer protowire.Number = 3
	stateID       protowire.Number = 4
	stateTensors  protowire.Number = 5

	recordName     protowire.Number = 1
	recordDims     protowire.Number = 2
	recordDataType protowire.Number = 3
	recordRawData  protowire.Number = 4
)

// ONNX TensorProto.DataType codes
const (
	onnxFloat    = 1
	onnxFloat16  = 10
	onnxDouble   = 11
	onnxBFloat16 = 16
)

var errNotNative = errors.New("not a native parameter blob")

func onnxCode(dt tensor.DType) (int32, error) {
	switch dt {
	case tensor.Float32:
		return onnxFloat, nil
	case tensor.Float16:
		return onnxFloat16, nil
	case tensor.Float64:
		return onnxDouble, nil
	case tensor.BFloat16:
		return onnxBFloat16, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %s", dt)
	}
}

func dtypeOf(code int32) (tensor.DType, error) {
	switch code {
	case onnxFloat:
		return tensor.Float32, nil
	case onnxFloat16:
		return tensor.Float16, nil
	case onnxDouble:
		return tensor.Float64, nil
	case onnxBFloat16:
		return tensor.BFloat16, nil
	default:
		return 0, fmt.Errorf("unsupported tensor data type %d", code)
	}
}

// Header identifies a native parameter blob
type Header struct {
	Version  uint64
	Producer string
	ID       uuid.UUID
}

// MarshalNative encodes sd as a native parameter blob, storing every tensor
// as dtype. Float32 round trips exactly.
func MarshalNative(sd *StateDict, h Header, dtype tensor.DType) ([]byte, error) {
	code, err := onnxCode(dtype)
	if err != nil {
		return nil, err
	}

	var b []byte
	b = protowire.AppendTag(b, stateMagic, protowire.BytesType)
	b = protowire.AppendString(b, nativeMagic)
	b = protowire.AppendTag(b, stateVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, nativeVersion)
	if h.Producer != "" {
		b = protowire.AppendTag(b, stateProducer, protowire.BytesType)
		b = protowire.AppendString(b, h.Producer)
	}
	if h.ID != uuid.Nil {
		b = protowire.AppendTag(b, stateID, protowire.BytesType)
		b = protowire.AppendString(b, h.ID.String())
	}

	for pair := sd.m.Oldest(); pair != nil; pair = pair.Next() {
		record := marshalRecord(pair.Key, pair.Value, code, dtype)
		b = protowire.AppendTag(b, stateTensors, protowire.BytesType)
		b = protowire.AppendBytes(b, record)
	}
	return b, nil
}

func marshalRecord(name string, t *tensor.Tensor, code int32, dtype tensor.DType) []byte {
	var b []byte
	b = protowire.AppendTag(b, recordName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	var dims []byte
	for _, d := range t.Shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	b = protowire.AppendTag(b, recordDims, protowire.BytesType)
	b = protowire.AppendBytes(b, dims)

	b = protowire.AppendTag(b, recordDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(code))

	raw := make([]byte, len(t.Data)*dtype.Size())
	for i, v := range t.Data {
		switch dtype {
		case tensor.Float16:
			binary.LittleEndian.PutUint16(raw[i*2:], float16.Fromfloat32(v).Bits())
		case tensor.BFloat16:
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(math.Float32bits(v)>>16))
		case tensor.Float64:
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(float64(v)))
		default:
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
		}
	}
	b = protowire.AppendTag(b, recordRawData, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	return b
}

// UnmarshalNative decodes a native parameter blob. Half and double precision
// payloads are converted to float32.
func UnmarshalNative(data []byte) (*StateDict, Header, error) {
	var (
		h     Header
		magic bool
		sd    = NewStateDict()
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, h, fmt.Errorf("%w: %v", errNotNative, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == stateMagic && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 || v != nativeMagic {
				return nil, h, errNotNative
			}
			magic = true
			data = data[n:]
		case !magic:
			// the magic is always the first field
			return nil, h, errNotNative
		case num == stateVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, h, protowire.ParseError(n)
			}
			if v > nativeVersion {
				return nil, h, fmt.Errorf("unsupported parameter blob version %d", v)
			}
			h.Version = v
			data = data[n:]
		case num == stateProducer && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, h, protowire.ParseError(n)
			}
			h.Producer = v
			data = data[n:]
		case num == stateID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, h, protowire.ParseError(n)
			}
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, h, fmt.Errorf("invalid checkpoint id: %w", err)
			}
			h.ID = id
			data = data[n:]
		case num == stateTensors && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, h, protowire.ParseError(n)
			}
			name, t, err := unmarshalRecord(v)
			if err != nil {
				return nil, h, err
			}
			if _, exists := sd.Get(name); exists {
				return nil, h, fmt.Errorf("duplicate tensor %q", name)
			}
			sd.Set(name, t)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, h, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	if !magic {
		return nil, h, errNotNative
	}
	return sd, h, nil
}

func unmarshalRecord(data []byte) (string, *tensor.Tensor, error) {
	var (
		name string
		dims []int
		code int32 = onnxFloat
		raw  []byte
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == recordName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			name = v
			data = data[n:]
		case num == recordDims && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				d, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return "", nil, protowire.ParseError(m)
				}
				dims = append(dims, int(int64(d)))
				packed = packed[m:]
			}
			data = data[n:]
		case num == recordDims && typ == protowire.VarintType:
			d, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			dims = append(dims, int(int64(d)))
			data = data[n:]
		case num == recordDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			code = int32(v)
			data = data[n:]
		case num == recordRawData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			raw = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	if name == "" {
		return "", nil, errors.New("tensor record without a name")
	}
	t, err := decodeTensor(dims, code, raw)
	if err != nil {
		return "", nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return name, t, nil
}

func decodeTensor(dims []int, code int32, raw []byte) (*tensor.Tensor, error) {
	dtype, err := dtypeOf(code)
	if err != nil {
		return nil, err
	}

	count := 1
	for _, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in %v", dims)
		}
		if d != 0 && count > math.MaxInt/d {
			return nil, fmt.Errorf("element count overflows for shape %v", dims)
		}
		count *= d
	}
	if len(dims) == 0 {
		count = 0
	}
	// compare element counts so a huge shape cannot wrap the byte size
	size := dtype.Size()
	if len(raw)%size != 0 || len(raw)/size != count {
		return nil, fmt.Errorf("%s payload is %d bytes, shape %v needs %d elements of %d bytes", dtype, len(raw), dims, count, size)
	}

	values := make([]float32, count)
	for i := range values {
		switch dtype {
		case tensor.Float16:
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		case tensor.BFloat16:
			values[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		case tensor.Float64:
			values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		default:
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return tensor.New(dims, values)
}
