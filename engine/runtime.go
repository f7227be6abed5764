package engine

// TensorType mirrors the subset of TfLiteType the person model can carry.
type TensorType int

const (
	TypeUnknown TensorType = iota
	TypeUInt8
	TypeInt8
	TypeFloat32
)

func (t TensorType) String() string {
	switch t {
	case TypeUInt8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// Tensor is a handle to one interpreter tensor. CopyFrom must be handed
// exactly ByteSize bytes.
type Tensor interface {
	Type() TensorType
	Shape() []int
	ByteSize() int
	CopyFrom(data []byte) error
	Bytes() ([]byte, error)
	Quantization() (scale float32, zeroPoint int32)
}

type Interpreter interface {
	AllocateTensors() error
	Invoke() error
	InputCount() int
	OutputCount() int
	// Input and Output return nil for an index the model does not have.
	Input(i int) Tensor
	Output(i int) Tensor
	Close()
}

// ArenaReporter is implemented by interpreters that know how much of
// their arena the planner actually used.
type ArenaReporter interface {
	ArenaUsedBytes() int
}

type Options struct {
	NumThreads    int
	UseEdgeTPU    bool
	ErrorReporter func(msg string)
}

// Runtime builds interpreters for a model blob. The tflitert package
// provides the libtensorflowlite backed implementation.
type Runtime interface {
	NewInterpreter(model []byte, opts Options) (Interpreter, error)
}
