//go:build edgetpu

package tflitert

import (
	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"github.com/pkg/errors"
)

func attachEdgeTPU(options *tflite.InterpreterOptions) (func(), error) {
	devices, err := edgetpu.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "could not get EdgeTPU devices")
	}
	if len(devices) == 0 {
		return nil, errors.New("no edge TPU devices found")
	}
	delegate := edgetpu.New(devices[0])
	if delegate == nil {
		return nil, errors.New("could not create EdgeTPU delegate")
	}
	options.AddDelegate(delegate)
	return delegate.Delete, nil
}
