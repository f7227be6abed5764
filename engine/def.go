package engine

import (
	iface "PersonDetServer/interface"
	"errors"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004
const ERROR = 0x0005

// SchemaVersion is the only .tflite schema version the runtime accepts.
const SchemaVersion = 3

// DefaultArenaSize matches the static arena the gadget firmware reserves.
const DefaultArenaSize = 80 * 1024

const (
	DefaultPersonIndex = 1
	DefaultThreshold   = float32(0.5)
)

// DefaultConfig is the person model's configuration. Zero is a valid
// threshold and person index, so defaults are filled here and nowhere else.
func DefaultConfig() iface.EngineConfig {
	return iface.EngineConfig{
		Threshold:   DefaultThreshold,
		PersonIndex: DefaultPersonIndex,
		ArenaSize:   DefaultArenaSize,
		NumThreads:  1,
	}
}

var (
	ErrSchemaVersion   = errors.New("model schema version not supported")
	ErrMalformedModel  = errors.New("malformed model")
	ErrUnsupportedOp   = errors.New("operator not registered")
	ErrResolverFull    = errors.New("op resolver is full")
	ErrArenaExhausted  = errors.New("tensor budget exceeded")
	ErrNotConfigured   = errors.New("detector not configured")
	ErrNilImage        = errors.New("invalid image data")
	ErrNilInput        = errors.New("invalid input tensor")
	ErrInputSize       = errors.New("image size does not match input tensor")
	ErrOutputIndex     = errors.New("person index outside output tensor")
	ErrUnsupportedType = errors.New("unsupported tensor type")
)

// StateName is used in logs and API responses.
func StateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case REGISTERED:
		return "registered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	case ERROR:
		return "error"
	default:
		return "unknown"
	}
}
