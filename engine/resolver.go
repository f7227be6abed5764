package engine

import (
	"github.com/pkg/errors"
)

// OpResolver is a fixed-capacity set of operator kernels. The person model
// needs exactly five.
type OpResolver struct {
	capacity int
	ops      []BuiltinOperator
}

func NewOpResolver(capacity int) *OpResolver {
	return &OpResolver{capacity: capacity}
}

// NewPersonOpResolver registers the kernels of the person-detection model.
func NewPersonOpResolver() (*OpResolver, error) {
	r := NewOpResolver(5)
	for _, add := range []func() error{
		r.AddAveragePool2D,
		r.AddConv2D,
		r.AddDepthwiseConv2D,
		r.AddReshape,
		r.AddSoftmax,
	} {
		if err := add(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *OpResolver) AddAveragePool2D() error   { return r.add(OpAveragePool2D) }
func (r *OpResolver) AddConv2D() error          { return r.add(OpConv2D) }
func (r *OpResolver) AddDepthwiseConv2D() error { return r.add(OpDepthwiseConv2D) }
func (r *OpResolver) AddReshape() error         { return r.add(OpReshape) }
func (r *OpResolver) AddSoftmax() error         { return r.add(OpSoftmax) }
func (r *OpResolver) AddFullyConnected() error  { return r.add(OpFullyConnected) }

func (r *OpResolver) add(op BuiltinOperator) error {
	if r.Has(op) {
		return errors.Errorf("%s already registered", op)
	}
	if len(r.ops) >= r.capacity {
		return errors.Wrapf(ErrResolverFull, "cannot add %s, capacity %d", op, r.capacity)
	}
	r.ops = append(r.ops, op)
	return nil
}

func (r *OpResolver) Has(op BuiltinOperator) bool {
	for _, o := range r.ops {
		if o == op {
			return true
		}
	}
	return false
}

func (r *OpResolver) Registered() []BuiltinOperator {
	return append([]BuiltinOperator(nil), r.ops...)
}

// Check fails on the first operator the model uses that was not registered.
func (r *OpResolver) Check(info ModelInfo) error {
	for _, op := range info.Operators {
		if op == OpCustom {
			name := "unknown"
			if len(info.CustomOps) > 0 {
				name = info.CustomOps[0]
			}
			return errors.Wrapf(ErrUnsupportedOp, "custom op %q", name)
		}
		if !r.Has(op) {
			return errors.Wrapf(ErrUnsupportedOp, "%s", op)
		}
	}
	return nil
}
