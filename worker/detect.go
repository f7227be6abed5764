package worker

import (
	iface "PersonDetServer/interface"
	"PersonDetServer/preprocess"
	"context"

	"github.com/pkg/errors"
)

// ErrBadFrame marks encoded frames that could not be turned into a tensor.
var ErrBadFrame = errors.New("bad frame")

// Factory builds and initializes a backend from an engine config.
type Factory func(cfg iface.EngineConfig) (iface.Backend, error)

// FrameKind tells Detect how to read a transport payload.
type FrameKind int

const (
	// FrameAuto sniffs for JPEG and PNG magic bytes.
	FrameAuto FrameKind = iota
	// FrameRaw is a tensor buffer, whatever its first bytes are.
	FrameRaw
	// FrameEncoded must decode as JPEG or PNG.
	FrameEncoded
)

func (k FrameKind) String() string {
	switch k {
	case FrameRaw:
		return "raw"
	case FrameEncoded:
		return "encoded"
	default:
		return "auto"
	}
}

// Detect is DetectFrame with FrameAuto.
func (p *Pool) Detect(ctx context.Context, backend iface.Backend, data []byte, size int) (iface.Detection, error) {
	return p.DetectFrame(ctx, backend, data, size, FrameAuto)
}

// DetectFrame is Submit for transport payloads: encoded frames are resized
// to the backend's input first, raw frames go through verbatim. A zero size
// means the whole buffer.
func (p *Pool) DetectFrame(ctx context.Context, backend iface.Backend, data []byte, size int, kind FrameKind) (iface.Detection, error) {
	if kind == FrameEncoded || (kind == FrameAuto && preprocess.IsEncoded(data)) {
		spec, err := backend.Input()
		if err != nil {
			return iface.Detection{}, err
		}
		data, err = preprocess.ToTensor(data, spec)
		if err != nil {
			return iface.Detection{}, errors.Wrapf(ErrBadFrame, "preprocess %s frame: %v", kind, err)
		}
		size = len(data)
	} else if size == 0 {
		size = len(data)
	}
	return p.Submit(ctx, backend, data, size)
}
