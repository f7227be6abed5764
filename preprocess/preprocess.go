// Package preprocess turns camera frames into input tensor bytes.
package preprocess

import (
	iface "PersonDetServer/interface"
	"bytes"
	"encoding/base64"
	"image"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
)

// IsEncoded reports whether data looks like a JPEG or PNG file rather than
// raw tensor bytes.
func IsEncoded(data []byte) bool {
	return bytes.HasPrefix(data, jpegMagic) || bytes.HasPrefix(data, pngMagic)
}

// DecodeBase64 accepts plain base64 or a data URL.
func DecodeBase64(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	return base64.StdEncoding.DecodeString(b64)
}

// ToTensor decodes an encoded image and lays it out for an NHWC input
// tensor: resized to HxW, grayscale for one channel, RGB for three. int8
// inputs are shifted by -128.
func ToTensor(encoded []byte, spec iface.InputSpec) ([]byte, error) {
	if len(spec.Shape) != 4 {
		return nil, errors.Errorf("expected NHWC input, got shape %v", spec.Shape)
	}
	height, width, channels := spec.Shape[1], spec.Shape[2], spec.Shape[3]
	flags := gocv.IMReadColor
	switch channels {
	case 1:
		flags = gocv.IMReadGrayScale
	case 3:
	default:
		return nil, errors.Errorf("unsupported channel count %d", channels)
	}

	img, err := gocv.IMDecode(encoded, flags)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	defer img.Close()
	if img.Empty() {
		return nil, errors.New("decoded image is empty or unsupported format")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	if channels == 3 {
		gocv.CvtColor(resized, &resized, gocv.ColorBGRToRGB)
	}

	data := resized.ToBytes()
	if len(data) != height*width*channels {
		return nil, errors.Errorf("resized frame is %d bytes, want %d", len(data), height*width*channels)
	}
	switch spec.Type {
	case "uint8":
	case "int8":
		for i, v := range data {
			data[i] = byte(int8(int(v) - 128))
		}
	default:
		return nil, errors.Errorf("unsupported input type %q", spec.Type)
	}
	if spec.ByteSize != 0 && len(data) != spec.ByteSize {
		return nil, errors.Errorf("frame is %d bytes, tensor takes %d", len(data), spec.ByteSize)
	}
	return data, nil
}
