// Package tflitert runs models through libtensorflowlite_c via go-tflite.
package tflitert

import (
	"PersonDetServer/engine"
	"PersonDetServer/logger"

	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Runtime struct{}

func New() *Runtime {
	return &Runtime{}
}

func (r *Runtime) NewInterpreter(blob []byte, opts engine.Options) (engine.Interpreter, error) {
	model := tflite.NewModel(blob)
	if model == nil {
		return nil, errors.New("cannot load model")
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	if opts.NumThreads > 0 {
		options.SetNumThread(opts.NumThreads)
	}
	if opts.ErrorReporter != nil {
		report := opts.ErrorReporter
		options.SetErrorReporter(func(msg string, _ interface{}) {
			report(msg)
		}, nil)
	}

	release := func() {}
	if opts.UseEdgeTPU {
		rel, err := attachEdgeTPU(options)
		if err != nil {
			logger.Log().Warn("edge TPU unavailable, running on CPU", zap.Error(err))
		} else {
			release = rel
		}
	}

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		release()
		return nil, errors.New("cannot create interpreter")
	}
	return &Interpreter{
		blob:    blob,
		model:   model,
		options: options,
		interp:  interp,
		release: release,
	}, nil
}

type Interpreter struct {
	// blob stays referenced for as long as the model is alive.
	blob    []byte
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
	release func()
}

func (i *Interpreter) AllocateTensors() error {
	if status := i.interp.AllocateTensors(); status != tflite.OK {
		return errors.Errorf("allocate failed: status %v", status)
	}
	return nil
}

func (i *Interpreter) Invoke() error {
	if status := i.interp.Invoke(); status != tflite.OK {
		return errors.Errorf("invoke failed: status %v", status)
	}
	return nil
}

func (i *Interpreter) InputCount() int {
	return i.interp.GetInputTensorCount()
}

func (i *Interpreter) OutputCount() int {
	return i.interp.GetOutputTensorCount()
}

func (i *Interpreter) Input(n int) engine.Tensor {
	if n < 0 || n >= i.InputCount() {
		return nil
	}
	t := i.interp.GetInputTensor(n)
	if t == nil {
		return nil
	}
	return &Tensor{t: t}
}

func (i *Interpreter) Output(n int) engine.Tensor {
	if n < 0 || n >= i.OutputCount() {
		return nil
	}
	t := i.interp.GetOutputTensor(n)
	if t == nil {
		return nil
	}
	return &Tensor{t: t}
}

func (i *Interpreter) Close() {
	i.interp.Delete()
	i.options.Delete()
	i.model.Delete()
	i.release()
	i.blob = nil
}

type Tensor struct {
	t *tflite.Tensor
}

func (t *Tensor) Type() engine.TensorType {
	switch t.t.Type() {
	case tflite.UInt8:
		return engine.TypeUInt8
	case tflite.Int8:
		return engine.TypeInt8
	case tflite.Float32:
		return engine.TypeFloat32
	default:
		return engine.TypeUnknown
	}
}

func (t *Tensor) Shape() []int {
	shape := []int{}
	for idx := 0; idx < t.t.NumDims(); idx++ {
		shape = append(shape, t.t.Dim(idx))
	}
	return shape
}

func (t *Tensor) ByteSize() int {
	return int(t.t.ByteSize())
}

// CopyFrom refuses any buffer whose length differs from the tensor; the C
// side always copies ByteSize bytes.
func (t *Tensor) CopyFrom(data []byte) error {
	if len(data) != t.ByteSize() {
		return errors.Errorf("buffer is %d bytes, tensor takes %d", len(data), t.ByteSize())
	}
	if status := t.t.CopyFromBuffer(data); status != tflite.OK {
		return errors.Errorf("copying to buffer failed: status %v", status)
	}
	return nil
}

func (t *Tensor) Bytes() ([]byte, error) {
	buf := make([]byte, t.ByteSize())
	if len(buf) == 0 {
		return buf, nil
	}
	if status := t.t.CopyToBuffer(buf); status != tflite.OK {
		return nil, errors.Errorf("copying from buffer failed: status %v", status)
	}
	return buf, nil
}

func (t *Tensor) Quantization() (float32, int32) {
	q := t.t.QuantizationParams()
	return float32(q.Scale), int32(q.ZeroPoint)
}
