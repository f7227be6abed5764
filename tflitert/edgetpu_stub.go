//go:build !edgetpu

package tflitert

import (
	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
)

// attachEdgeTPU needs libedgetpu; build with -tags edgetpu to enable it.
func attachEdgeTPU(_ *tflite.InterpreterOptions) (func(), error) {
	return nil, errors.New("built without edgetpu support")
}
