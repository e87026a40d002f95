package onnx

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"gorgonia.org/tensor"
)

// EncodeTensor serializes a dense tensor as a TensorProto with raw_data, the layout used by
// the ONNX model zoo fixtures.
//
// Arguments:
//   - name: The tensor name, may be empty.
//   - t: The tensor. Supported dtypes are float32, float64, int32, int64, uint8 and int8.
//
// Returns:
//   - []byte: The protobuf bytes.
//   - error: An error for unsupported dtypes.
func EncodeTensor(name string, t *tensor.Dense) ([]byte, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	if t.RequiresIterator() {
		t = t.Materialize().(*tensor.Dense)
	}

	var (
		dataType DataType
		raw      []byte
		le       = binary.LittleEndian
	)
	switch data := t.Data().(type) {
	case []float32:
		dataType = DataTypeFloat
		raw = make([]byte, 4*len(data))
		for i, v := range data {
			le.PutUint32(raw[i*4:], math.Float32bits(v))
		}
	case []float64:
		dataType = DataTypeDouble
		raw = make([]byte, 8*len(data))
		for i, v := range data {
			le.PutUint64(raw[i*8:], math.Float64bits(v))
		}
	case []int32:
		dataType = DataTypeInt32
		raw = make([]byte, 4*len(data))
		for i, v := range data {
			le.PutUint32(raw[i*4:], uint32(v))
		}
	case []int64:
		dataType = DataTypeInt64
		raw = make([]byte, 8*len(data))
		for i, v := range data {
			le.PutUint64(raw[i*8:], uint64(v))
		}
	case []uint8:
		dataType = DataTypeUint8
		raw = append([]byte(nil), data...)
	case []int8:
		dataType = DataTypeInt8
		raw = make([]byte, len(data))
		for i, v := range data {
			raw[i] = byte(v)
		}
	default:
		return nil, errors.Errorf("unsupported dtype %v", t.Dtype())
	}

	var b []byte
	for _, d := range t.Shape() {
		b = protowire.AppendTag(b, fieldDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(dataType))
	if name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	b = protowire.AppendTag(b, fieldRawData, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)

	return b, nil
}
