package engine

import (
	iface "PersonDetServer/interface"
	"PersonDetServer/logger"
	"encoding/binary"
	"math"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Detector struct {
	ModelPath    string
	Threshold    float32
	PersonIndex  int
	ArenaSize    int
	NumThreads   int
	UseEdgeTPU   bool
	State        int
	ErrorMessage string

	mu          sync.Mutex
	runtime     Runtime
	modelData   []byte
	info        ModelInfo
	resolver    *OpResolver
	interp      Interpreter
	input       Tensor
	output      Tensor
	initialized bool
}

// New binds the runtime and preloads DefaultConfig, so a detector that is
// only given model bytes still runs the person model.
func (d *Detector) New(rt Runtime) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runtime = rt
	def := DefaultConfig()
	d.Threshold = def.Threshold
	d.PersonIndex = def.PersonIndex
	d.ArenaSize = def.ArenaSize
	d.NumThreads = def.NumThreads
	d.State = REGISTERED
	return rt != nil
}

// Configure copies cfg into the detector as given; only a zero ArenaSize
// means the default budget. Callers start from DefaultConfig. It has no
// effect on an initialized detector.
func (d *Detector) Configure(cfg iface.EngineConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return
	}
	d.ModelPath = cfg.ModelPath
	d.Threshold = cfg.Threshold
	d.PersonIndex = cfg.PersonIndex
	d.ArenaSize = cfg.ArenaSize
	if d.ArenaSize == 0 {
		d.ArenaSize = DefaultArenaSize
	}
	d.NumThreads = cfg.NumThreads
	d.UseEdgeTPU = cfg.UseEdgeTPU
}

// SetModelData makes Initialize use blob instead of reading ModelPath.
func (d *Detector) SetModelData(blob []byte) {
	d.mu.Lock()
	d.modelData = blob
	d.mu.Unlock()
}

func (d *Detector) LoadModel(cfg iface.EngineConfig) error {
	d.Configure(cfg)
	return d.Initialize()
}

// Initialize is idempotent. The detector is marked initialized only when
// every step succeeded.
func (d *Detector) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if err := d.initialize(); err != nil {
		d.State = ERROR
		d.ErrorMessage = err.Error()
		logger.Log().Error("detector initialization failed", zap.String("model", d.ModelPath), zap.Error(err))
		return err
	}
	d.initialized = true
	d.State = IDLE
	d.ErrorMessage = ""
	logger.Log().Info("detector initialized",
		zap.String("model", d.ModelPath),
		zap.Uint32("schemaVersion", d.info.Version),
		zap.Int("inputBytes", d.input.ByteSize()),
		zap.String("outputType", d.output.Type().String()),
	)
	return nil
}

func (d *Detector) initialize() error {
	if d.runtime == nil {
		return ErrNotConfigured
	}
	if d.ArenaSize == 0 {
		d.ArenaSize = DefaultArenaSize
	}

	blob := d.modelData
	if blob == nil {
		if d.ModelPath == "" {
			return errors.Wrap(ErrNotConfigured, "no model path")
		}
		var err error
		blob, err = os.ReadFile(d.ModelPath)
		if err != nil {
			return errors.Wrap(err, "failed to read model")
		}
	}

	info, err := ReadModelInfo(blob)
	if err != nil {
		return err
	}
	if info.Version != SchemaVersion {
		return errors.Wrapf(ErrSchemaVersion, "model schema version %d not supported, expected %d", info.Version, SchemaVersion)
	}

	resolver, err := NewPersonOpResolver()
	if err != nil {
		return err
	}
	if err := resolver.Check(info); err != nil {
		return err
	}

	interp, err := d.runtime.NewInterpreter(blob, Options{
		NumThreads:    d.NumThreads,
		UseEdgeTPU:    d.UseEdgeTPU,
		ErrorReporter: reportRuntimeError,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create interpreter")
	}
	if interp == nil {
		return errors.New("failed to create interpreter")
	}
	if err := d.bind(interp); err != nil {
		interp.Close()
		return err
	}
	d.info = info
	d.resolver = resolver
	d.modelData = blob
	return nil
}

func (d *Detector) bind(interp Interpreter) error {
	if err := interp.AllocateTensors(); err != nil {
		return errors.Wrap(err, "tensor allocation failed")
	}
	if used, reported := tensorFootprint(interp); used > d.ArenaSize {
		if reported {
			return errors.Wrapf(ErrArenaExhausted, "model needs %d bytes of arena, budget is %d", used, d.ArenaSize)
		}
		return errors.Wrapf(ErrArenaExhausted, "input and output tensors need %d bytes, budget is %d", used, d.ArenaSize)
	}
	input := interp.Input(0)
	if input == nil {
		return ErrNilInput
	}
	output := interp.Output(0)
	if output == nil {
		return errors.New("model has no output tensor")
	}
	switch input.Type() {
	case TypeUInt8, TypeInt8:
	default:
		return errors.Wrapf(ErrUnsupportedType, "input %s", input.Type())
	}
	width := elementSize(output.Type())
	if width == 0 {
		return errors.Wrapf(ErrUnsupportedType, "output %s", output.Type())
	}
	if d.PersonIndex < 0 || (d.PersonIndex+1)*width > output.ByteSize() {
		return errors.Wrapf(ErrOutputIndex, "index %d, output holds %d values", d.PersonIndex, output.ByteSize()/width)
	}
	d.interp = interp
	d.input = input
	d.output = output
	return nil
}

// tensorFootprint is the interpreter's arena use when it reports one.
// Otherwise it is the bytes of every input and output tensor, which bounds
// only the I/O tensors: scratch buffers and intermediates are not counted.
func tensorFootprint(interp Interpreter) (int, bool) {
	if r, ok := interp.(ArenaReporter); ok {
		return r.ArenaUsedBytes(), true
	}
	total := 0
	for i := 0; i < interp.InputCount(); i++ {
		if t := interp.Input(i); t != nil {
			total += t.ByteSize()
		}
	}
	for i := 0; i < interp.OutputCount(); i++ {
		if t := interp.Output(i); t != nil {
			total += t.ByteSize()
		}
	}
	return total, false
}

func reportRuntimeError(msg string) {
	logger.Log().Warn("tflite", zap.String("message", msg))
}

func (d *Detector) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Classify copies exactly size bytes of image into the input tensor, runs
// the model and decodes the person score.
func (d *Detector) Classify(image []byte, size int) (iface.Detection, error) {
	if !d.Initialized() {
		if err := d.Initialize(); err != nil {
			return iface.Detection{}, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return iface.Detection{}, ErrNotConfigured
	}
	if image == nil {
		return iface.Detection{}, ErrNilImage
	}
	if d.input == nil {
		return iface.Detection{}, ErrNilInput
	}
	if want := d.input.ByteSize(); size != want || size > len(image) {
		return iface.Detection{}, errors.Wrapf(ErrInputSize, "got size %d with %d bytes, input tensor takes %d", size, len(image), want)
	}

	d.State = BUSY
	defer func() { d.State = IDLE }()
	start := time.Now()

	if err := d.input.CopyFrom(image[:size]); err != nil {
		return iface.Detection{}, errors.Wrap(err, "failed to fill input tensor")
	}
	if err := d.interp.Invoke(); err != nil {
		return iface.Detection{}, errors.Wrap(err, "inference failed")
	}
	score, raw, err := decodeScore(d.output, d.PersonIndex)
	if err != nil {
		return iface.Detection{}, err
	}
	return iface.Detection{
		Person:    score > d.Threshold,
		Score:     score,
		Raw:       raw,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

func (d *Detector) DetectPerson(image []byte, size int) (bool, error) {
	det, err := d.Classify(image, size)
	if err != nil {
		return false, err
	}
	return det.Person, nil
}

// Input initializes the detector if needed and describes its input tensor.
func (d *Detector) Input() (iface.InputSpec, error) {
	if err := d.Initialize(); err != nil {
		return iface.InputSpec{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.input == nil {
		return iface.InputSpec{}, ErrNilInput
	}
	return iface.InputSpec{
		Type:     d.input.Type().String(),
		Shape:    d.input.Shape(),
		ByteSize: d.input.ByteSize(),
	}, nil
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return iface.EngineConfig{
		ModelPath:   d.ModelPath,
		Threshold:   d.Threshold,
		PersonIndex: d.PersonIndex,
		ArenaSize:   d.ArenaSize,
		NumThreads:  d.NumThreads,
		UseEdgeTPU:  d.UseEdgeTPU,
	}
}

func (d *Detector) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return StateName(d.State)
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interp != nil {
		d.interp.Close()
	}
	d.ModelPath = ""
	d.Threshold = 0
	d.PersonIndex = 0
	d.ArenaSize = 0
	d.NumThreads = 0
	d.UseEdgeTPU = false
	d.ErrorMessage = ""
	d.runtime = nil
	d.modelData = nil
	d.info = ModelInfo{}
	d.resolver = nil
	d.interp = nil
	d.input = nil
	d.output = nil
	d.initialized = false
	d.State = UNREGISTERED
}

// Dequantize maps a quantized value back to a real number.
func Dequantize(raw, zeroPoint int32, scale float32) float32 {
	return float32(raw-zeroPoint) * scale
}

func elementSize(t TensorType) int {
	switch t {
	case TypeUInt8, TypeInt8:
		return 1
	case TypeFloat32:
		return 4
	default:
		return 0
	}
}

func decodeScore(t Tensor, index int) (float32, int32, error) {
	data, err := t.Bytes()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read output tensor")
	}
	width := elementSize(t.Type())
	if width == 0 {
		return 0, 0, errors.Wrapf(ErrUnsupportedType, "output %s", t.Type())
	}
	if index < 0 || (index+1)*width > len(data) {
		return 0, 0, errors.Wrapf(ErrOutputIndex, "index %d of %d bytes", index, len(data))
	}
	scale, zeroPoint := t.Quantization()
	switch t.Type() {
	case TypeUInt8:
		raw := int32(data[index])
		return Dequantize(raw, zeroPoint, scale), raw, nil
	case TypeInt8:
		raw := int32(int8(data[index]))
		return Dequantize(raw, zeroPoint, scale), raw, nil
	default:
		bits := binary.LittleEndian.Uint32(data[index*4:])
		return math.Float32frombits(bits), 0, nil
	}
}
