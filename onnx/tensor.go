// Package onnx - Decoding of ONNX protobuf messages: serialized tensors and graph signatures.
package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"gorgonia.org/tensor"
)

// DataType is the TensorProto element type enumeration.
type DataType int32

// Element types with a dense Go representation.
const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeUint8     DataType = 2
	DataTypeInt8      DataType = 3
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
	DataTypeDouble    DataType = 11
)

func (d DataType) String() string {
	switch d {
	case DataTypeFloat:
		return "float32"
	case DataTypeUint8:
		return "uint8"
	case DataTypeInt8:
		return "int8"
	case DataTypeInt32:
		return "int32"
	case DataTypeInt64:
		return "int64"
	case DataTypeDouble:
		return "float64"
	default:
		return fmt.Sprintf("onnx type %d", int32(d))
	}
}

// TensorProto field numbers.
const (
	fieldDims         = 1
	fieldDataType     = 2
	fieldFloatData    = 4
	fieldInt32Data    = 5
	fieldInt64Data    = 7
	fieldName         = 8
	fieldRawData      = 9
	fieldDoubleData   = 10
	fieldExternalData = 13
	fieldDataLocation = 14
)

// Tensor is a decoded TensorProto.
type Tensor struct {
	// Name is the tensor name, often empty in test fixtures.
	Name string
	// Type is the element type declared in the message.
	Type DataType
	// Dims is the declared shape.
	Dims []int64
	// Dense holds the values with the declared shape.
	Dense *tensor.Dense
}

// tensorProto collects the raw fields before they are turned into a dense tensor.
type tensorProto struct {
	name       string
	dataType   DataType
	dims       []int64
	rawData    []byte
	floatData  []float32
	doubleData []float64
	int32Data  []int32
	int64Data  []int64
	external   bool
}

// ParseTensor decodes a serialized TensorProto into a dense tensor.
//
// Arguments:
//   - data: The protobuf bytes, e.g. the content of a fixture "input_0.pb".
//
// Returns:
//   - *tensor.Dense: The tensor with the declared shape and a matching Go dtype.
//   - error: An error when the bytes are malformed or the type is unsupported.
func ParseTensor(data []byte) (*tensor.Dense, error) {
	t, err := DecodeTensor(data)
	if err != nil {
		return nil, err
	}
	return t.Dense, nil
}

// DecodeTensor decodes a serialized TensorProto.
//
// Arguments:
//   - data: The protobuf bytes.
//
// Returns:
//   - *Tensor: The decoded tensor and its metadata.
//   - error: An error when the bytes are malformed, the element count disagrees with the dims,
//     or the element type has no dense representation.
func DecodeTensor(data []byte) (*Tensor, error) {
	var m tensorProto
	if err := m.unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "decode TensorProto")
	}
	if m.external {
		return nil, errors.New("tensors with external data are not supported")
	}

	shape := make([]int, len(m.dims))
	count := 1
	for i, d := range m.dims {
		if d <= 0 {
			return nil, errors.Errorf("dimension %d has unsupported size %d", i, d)
		}
		shape[i] = int(d)
		count *= int(d)
	}

	backing, err := m.values(count)
	if err != nil {
		return nil, err
	}

	var dense *tensor.Dense
	if len(shape) == 0 {
		dense = tensor.New(tensor.WithShape(1), tensor.WithBacking(backing))
	} else {
		dense = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}

	return &Tensor{Name: m.name, Type: m.dataType, Dims: m.dims, Dense: dense}, nil
}

func (m *tensorProto) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldDims:
			n = consumeVarints(b, typ, func(v uint64) { m.dims = append(m.dims, int64(v)) })
		case num == fieldDataType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.dataType = DataType(int32(v))
		case num == fieldFloatData:
			n = consumeFixed32s(b, typ, func(v uint32) { m.floatData = append(m.floatData, math.Float32frombits(v)) })
		case num == fieldDoubleData:
			n = consumeFixed64s(b, typ, func(v uint64) { m.doubleData = append(m.doubleData, math.Float64frombits(v)) })
		case num == fieldInt32Data:
			n = consumeVarints(b, typ, func(v uint64) { m.int32Data = append(m.int32Data, int32(v)) })
		case num == fieldInt64Data:
			n = consumeVarints(b, typ, func(v uint64) { m.int64Data = append(m.int64Data, int64(v)) })
		case num == fieldName && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			m.name = string(v)
		case num == fieldRawData && typ == protowire.BytesType:
			m.rawData, n = protowire.ConsumeBytes(b)
		case num == fieldExternalData:
			m.external = true
			n = protowire.ConsumeFieldValue(num, typ, b)
		case num == fieldDataLocation && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.external = m.external || v == 1
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]
	}
	return nil
}

// values returns a typed backing slice of exactly count elements.
func (m *tensorProto) values(count int) (interface{}, error) {
	if m.rawData != nil {
		return m.fromRaw(count)
	}

	var got int
	switch m.dataType {
	case DataTypeFloat:
		if got = len(m.floatData); got == count {
			return m.floatData, nil
		}
	case DataTypeDouble:
		if got = len(m.doubleData); got == count {
			return m.doubleData, nil
		}
	case DataTypeInt64:
		if got = len(m.int64Data); got == count {
			return m.int64Data, nil
		}
	case DataTypeInt32:
		if got = len(m.int32Data); got == count {
			return m.int32Data, nil
		}
	case DataTypeUint8:
		if got = len(m.int32Data); got == count {
			out := make([]uint8, count)
			for i, v := range m.int32Data {
				out[i] = uint8(v)
			}
			return out, nil
		}
	case DataTypeInt8:
		if got = len(m.int32Data); got == count {
			out := make([]int8, count)
			for i, v := range m.int32Data {
				out[i] = int8(v)
			}
			return out, nil
		}
	default:
		return nil, errors.Errorf("unsupported element type %s", m.dataType)
	}

	return nil, errors.Errorf("dims describe %d elements but %s data holds %d", count, m.dataType, got)
}

func (m *tensorProto) fromRaw(count int) (interface{}, error) {
	raw := m.rawData
	width := map[DataType]int{
		DataTypeFloat:  4,
		DataTypeDouble: 8,
		DataTypeInt32:  4,
		DataTypeInt64:  8,
		DataTypeUint8:  1,
		DataTypeInt8:   1,
	}[m.dataType]
	if width == 0 {
		return nil, errors.Errorf("unsupported element type %s", m.dataType)
	}
	if len(raw) != count*width {
		return nil, errors.Errorf("dims describe %d elements (%d bytes) but raw_data holds %d bytes", count, count*width, len(raw))
	}

	le := binary.LittleEndian
	switch m.dataType {
	case DataTypeFloat:
		out := make([]float32, count)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(raw[i*4:]))
		}
		return out, nil
	case DataTypeDouble:
		out := make([]float64, count)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(raw[i*8:]))
		}
		return out, nil
	case DataTypeInt32:
		out := make([]int32, count)
		for i := range out {
			out[i] = int32(le.Uint32(raw[i*4:]))
		}
		return out, nil
	case DataTypeInt64:
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(le.Uint64(raw[i*8:]))
		}
		return out, nil
	case DataTypeUint8:
		return append([]uint8(nil), raw...), nil
	default:
		out := make([]int8, count)
		for i, v := range raw {
			out[i] = int8(v)
		}
		return out, nil
	}
}

// consumeVarints reads a packed or unpacked repeated varint field.
func consumeVarints(b []byte, typ protowire.Type, fn func(uint64)) int {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			fn(v)
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			fn(v)
			packed = packed[m:]
		}
		return n
	default:
		return protowire.ConsumeFieldValue(0, typ, b)
	}
}

// consumeFixed32s reads a packed or unpacked repeated fixed32 field.
func consumeFixed32s(b []byte, typ protowire.Type, fn func(uint32)) int {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n >= 0 {
			fn(v)
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		if len(packed)%4 != 0 {
			return -1
		}
		for i := 0; i < len(packed); i += 4 {
			fn(binary.LittleEndian.Uint32(packed[i:]))
		}
		return n
	default:
		return protowire.ConsumeFieldValue(0, typ, b)
	}
}

// consumeFixed64s reads a packed or unpacked repeated fixed64 field.
func consumeFixed64s(b []byte, typ protowire.Type, fn func(uint64)) int {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n >= 0 {
			fn(v)
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		if len(packed)%8 != 0 {
			return -1
		}
		for i := 0; i < len(packed); i += 8 {
			fn(binary.LittleEndian.Uint64(packed[i:]))
		}
		return n
	default:
		return protowire.ConsumeFieldValue(0, typ, b)
	}
}
