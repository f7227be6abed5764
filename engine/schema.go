package engine

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pkg/errors"
)

// BuiltinOperator values follow tensorflow/lite/schema/schema.fbs.
type BuiltinOperator int32

const (
	OpAveragePool2D   BuiltinOperator = 1
	OpConv2D          BuiltinOperator = 3
	OpDepthwiseConv2D BuiltinOperator = 4
	OpFullyConnected  BuiltinOperator = 9
	OpReshape         BuiltinOperator = 22
	OpSoftmax         BuiltinOperator = 25
	OpCustom          BuiltinOperator = 32
)

var builtinNames = map[BuiltinOperator]string{
	OpAveragePool2D:   "AVERAGE_POOL_2D",
	OpConv2D:          "CONV_2D",
	OpDepthwiseConv2D: "DEPTHWISE_CONV_2D",
	OpFullyConnected:  "FULLY_CONNECTED",
	OpReshape:         "RESHAPE",
	OpSoftmax:         "SOFTMAX",
	OpCustom:          "CUSTOM",
}

func (op BuiltinOperator) String() string {
	if name, ok := builtinNames[op]; ok {
		return name
	}
	return fmt.Sprintf("BUILTIN_%d", int32(op))
}

// ModelInfo is the part of the model header the detector checks before
// handing the blob to the runtime.
type ModelInfo struct {
	Version   uint32
	Operators []BuiltinOperator
	CustomOps []string
}

// vtable slots of the Model and OperatorCode tables.
const (
	modelVersionSlot       = 4
	modelOperatorCodesSlot = 6

	opCodeDeprecatedBuiltinSlot = 4
	opCodeCustomCodeSlot        = 6
	opCodeBuiltinSlot           = 10
)

// ReadModelInfo reads the schema version and operator codes out of a
// .tflite flatbuffer.
func ReadModelInfo(blob []byte) (info ModelInfo, err error) {
	if len(blob) < 8 {
		return ModelInfo{}, errors.Wrapf(ErrMalformedModel, "blob is %d bytes", len(blob))
	}
	defer func() {
		if r := recover(); r != nil {
			info = ModelInfo{}
			err = errors.Wrapf(ErrMalformedModel, "%v", r)
		}
	}()

	root := flatbuffers.GetUOffsetT(blob)
	if int(root)+4 > len(blob) {
		return ModelInfo{}, errors.Wrapf(ErrMalformedModel, "root offset %d past end", root)
	}
	tab := &flatbuffers.Table{Bytes: blob, Pos: root}

	if o := flatbuffers.UOffsetT(tab.Offset(modelVersionSlot)); o != 0 {
		info.Version = tab.GetUint32(o + tab.Pos)
	}

	if o := flatbuffers.UOffsetT(tab.Offset(modelOperatorCodesSlot)); o != 0 {
		n := tab.VectorLen(o)
		vec := tab.Vector(o)
		for j := 0; j < n; j++ {
			code := &flatbuffers.Table{Bytes: blob, Pos: tab.Indirect(vec + flatbuffers.UOffsetT(j)*4)}
			op := builtinCode(code)
			info.Operators = append(info.Operators, op)
			if op == OpCustom {
				if co := flatbuffers.UOffsetT(code.Offset(opCodeCustomCodeSlot)); co != 0 {
					info.CustomOps = append(info.CustomOps, string(code.ByteVector(co+code.Pos)))
				}
			}
		}
	}
	return info, nil
}

// builtinCode resolves the operator the way the runtime does: the larger
// of the deprecated int8 field and the int32 field wins.
func builtinCode(code *flatbuffers.Table) BuiltinOperator {
	var deprecated, builtin int32
	if o := flatbuffers.UOffsetT(code.Offset(opCodeDeprecatedBuiltinSlot)); o != 0 {
		deprecated = int32(code.GetInt8(o + code.Pos))
	}
	if o := flatbuffers.UOffsetT(code.Offset(opCodeBuiltinSlot)); o != 0 {
		builtin = code.GetInt32(o + code.Pos)
	}
	if deprecated > builtin {
		return BuiltinOperator(deprecated)
	}
	return BuiltinOperator(builtin)
}
