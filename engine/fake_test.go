package engine

import (
	"errors"

	flatbuffers "github.com/google/flatbuffers/go"
)

const testInputSize = 96 * 96

var personOps = []BuiltinOperator{OpAveragePool2D, OpConv2D, OpDepthwiseConv2D, OpReshape, OpSoftmax}

// buildModel writes a .tflite header with the given version and operator
// codes. legacy models only carry the deprecated int8 builtin code.
func buildModel(version uint32, legacy bool, ops ...BuiltinOperator) []byte {
	b := flatbuffers.NewBuilder(256)
	codes := make([]flatbuffers.UOffsetT, len(ops))
	for i, op := range ops {
		var custom flatbuffers.UOffsetT
		if op == OpCustom {
			custom = b.CreateString("TFLite_Detection_PostProcess")
		}
		b.StartObject(4)
		if custom != 0 {
			b.PrependUOffsetTSlot(1, custom, 0)
		}
		if !legacy {
			b.PrependInt32Slot(3, int32(op), 0)
		}
		if op < 127 {
			b.PrependInt8Slot(0, int8(op), 0)
		}
		codes[i] = b.EndObject()
	}
	b.StartVector(4, len(codes), 4)
	for i := len(codes) - 1; i >= 0; i-- {
		b.PrependUOffsetT(codes[i])
	}
	vec := b.EndVector(len(codes))
	b.StartObject(2)
	b.PrependUint32Slot(0, version, 0)
	b.PrependUOffsetTSlot(1, vec, 0)
	b.Finish(b.EndObject())
	return b.FinishedBytes()
}

func personModel() []byte {
	return buildModel(SchemaVersion, false, personOps...)
}

type fakeTensor struct {
	typ       TensorType
	shape     []int
	data      []byte
	scale     float32
	zeroPoint int32
}

func (t *fakeTensor) Type() TensorType { return t.typ }
func (t *fakeTensor) Shape() []int     { return t.shape }
func (t *fakeTensor) ByteSize() int    { return len(t.data) }

func (t *fakeTensor) CopyFrom(data []byte) error {
	if len(data) != len(t.data) {
		return errors.New("size mismatch")
	}
	copy(t.data, data)
	return nil
}

func (t *fakeTensor) Bytes() ([]byte, error) {
	return append([]byte(nil), t.data...), nil
}

func (t *fakeTensor) Quantization() (float32, int32) { return t.scale, t.zeroPoint }

type fakeInterp struct {
	inputs    []*fakeTensor
	outputs   []*fakeTensor
	allocErr  error
	invokeErr error
	// onInvoke stands in for the model.
	onInvoke func(in, out *fakeTensor)
	invokes  int
	closed   bool
}

func (f *fakeInterp) AllocateTensors() error { return f.allocErr }

func (f *fakeInterp) Invoke() error {
	f.invokes++
	if f.invokeErr != nil {
		return f.invokeErr
	}
	if f.onInvoke != nil {
		f.onInvoke(f.inputs[0], f.outputs[0])
	}
	return nil
}

func (f *fakeInterp) InputCount() int  { return len(f.inputs) }
func (f *fakeInterp) OutputCount() int { return len(f.outputs) }

func (f *fakeInterp) Input(i int) Tensor {
	if i < 0 || i >= len(f.inputs) {
		return nil
	}
	return f.inputs[i]
}

func (f *fakeInterp) Output(i int) Tensor {
	if i < 0 || i >= len(f.outputs) {
		return nil
	}
	return f.outputs[i]
}

func (f *fakeInterp) Close() { f.closed = true }

type fakeRuntime struct {
	interp   *fakeInterp
	err      error
	calls    int
	lastOpts Options
}

func (r *fakeRuntime) NewInterpreter(model []byte, opts Options) (Interpreter, error) {
	r.calls++
	r.lastOpts = opts
	if r.err != nil {
		return nil, r.err
	}
	return r.interp, nil
}

// newPersonInterp mimics the uint8 person model: the first input byte
// becomes the raw person score.
func newPersonInterp() *fakeInterp {
	return &fakeInterp{
		inputs: []*fakeTensor{{typ: TypeUInt8, shape: []int{1, 96, 96, 1}, data: make([]byte, testInputSize)}},
		outputs: []*fakeTensor{{
			typ:   TypeUInt8,
			shape: []int{1, 2},
			data:  make([]byte, 2),
			scale: 1.0 / 256,
		}},
		onInvoke: func(in, out *fakeTensor) {
			out.data[0] = 255 - in.data[0]
			out.data[1] = in.data[0]
		},
	}
}

func frame(first byte) []byte {
	img := make([]byte, testInputSize)
	img[0] = first
	return img
}
