package onnx

import (
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ModelProto, GraphProto and ValueInfoProto field numbers.
const (
	modelGraph = 7

	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12

	valueInfoName = 1
	valueInfoType = 2

	typeTensor      = 1
	tensorTypeElem  = 1
	tensorTypeShape = 2
	shapeDim        = 1
	dimValue        = 1
)

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	// Name is the tensor name used to feed or fetch the value.
	Name string `json:"name"`
	// Type is the declared element type.
	Type DataType `json:"type"`
	// Shape holds the declared dims; symbolic or unknown dims are -1.
	Shape []int64 `json:"shape"`
}

// Signature lists the runtime inputs and the outputs of a model graph.
type Signature struct {
	Inputs  []ValueInfo `json:"inputs"`
	Outputs []ValueInfo `json:"outputs"`
}

// InputNames returns the names of the inputs in declaration order.
func (s Signature) InputNames() []string {
	return names(s.Inputs)
}

// OutputNames returns the names of the outputs in declaration order.
func (s Signature) OutputNames() []string {
	return names(s.Outputs)
}

func names(values []ValueInfo) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Name
	}
	return out
}

// ReadSignatureFile reads a model file and returns its signature.
//
// Arguments:
//   - path: The path to the .onnx file.
//
// Returns:
//   - Signature: The model inputs and outputs.
//   - error: An error if the file cannot be read or decoded.
func ReadSignatureFile(path string) (Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signature{}, err
	}
	sig, err := ReadSignature(data)
	if err != nil {
		return Signature{}, errors.Wrapf(err, "read signature of %s", path)
	}
	return sig, nil
}

// ReadSignature decodes the graph inputs and outputs of a serialized ModelProto.
//
// Graph inputs that are also initializers are weights, not runtime inputs, and are left out.
//
// Arguments:
//   - model: The protobuf bytes of the model.
//
// Returns:
//   - Signature: The model inputs and outputs.
//   - error: An error if the bytes are malformed or the model has no graph.
func ReadSignature(model []byte) (Signature, error) {
	var graph []byte
	err := walk(model, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == modelGraph && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			graph = v
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err != nil {
		return Signature{}, errors.Wrap(err, "decode ModelProto")
	}
	if graph == nil {
		return Signature{}, errors.New("model has no graph")
	}

	var (
		sig          Signature
		inputs       []ValueInfo
		initializers = map[string]bool{}
		decodeErr    error
	)
	err = walk(graph, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType || (num != graphInput && num != graphOutput && num != graphInitializer) {
			return protowire.ConsumeFieldValue(num, typ, b)
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}

		switch num {
		case graphInitializer:
			name, err := initializerName(v)
			if err != nil {
				decodeErr = err
				return -1
			}
			initializers[name] = true
		case graphInput, graphOutput:
			info, err := decodeValueInfo(v)
			if err != nil {
				decodeErr = err
				return -1
			}
			if num == graphInput {
				inputs = append(inputs, info)
			} else {
				sig.Outputs = append(sig.Outputs, info)
			}
		}
		return n
	})
	if decodeErr != nil {
		return Signature{}, errors.Wrap(decodeErr, "decode GraphProto")
	}
	if err != nil {
		return Signature{}, errors.Wrap(err, "decode GraphProto")
	}

	for _, in := range inputs {
		if !initializers[in.Name] {
			sig.Inputs = append(sig.Inputs, in)
		}
	}

	return sig, nil
}

// walk calls fn for every field of a message. fn returns the number of bytes of the field
// value it consumed, or a negative protowire error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]
	}
	return nil
}

func initializerName(b []byte) (string, error) {
	var name string
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == fieldName && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			name = string(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	return name, err
}

func decodeValueInfo(b []byte) (ValueInfo, error) {
	var info ValueInfo
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == valueInfoName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			info.Name = string(v)
			return n
		case num == valueInfoType && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			if err := decodeType(v, &info); err != nil {
				return -1
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	return info, err
}

// decodeType reads TypeProto.tensor_type into info.
func decodeType(b []byte, info *ValueInfo) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != typeTensor || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch {
			case num == tensorTypeElem && typ == protowire.VarintType:
				elem, n := protowire.ConsumeVarint(b)
				info.Type = DataType(int32(elem))
				return n
			case num == tensorTypeShape && typ == protowire.BytesType:
				shape, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return n
				}
				if err := decodeShape(shape, info); err != nil {
					return -1
				}
				return n
			}
			return protowire.ConsumeFieldValue(num, typ, b)
		})
		if err != nil {
			return -1
		}
		return n
	})
}

func decodeShape(b []byte, info *ValueInfo) error {
	info.Shape = []int64{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != shapeDim || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		size := int64(-1)
		err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num == dimValue && typ == protowire.VarintType {
				d, n := protowire.ConsumeVarint(b)
				size = int64(d)
				return n
			}
			return protowire.ConsumeFieldValue(num, typ, b)
		})
		if err != nil {
			return -1
		}
		info.Shape = append(info.Shape, size)
		return n
	})
}
