package preprocess

import (
	iface "PersonDetServer/interface"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var grayInput = iface.InputSpec{Type: "uint8", Shape: []int{1, 96, 96, 1}, ByteSize: 96 * 96}

func encode(t *testing.T, ext string, rows, cols int, value float64) []byte {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), rows, cols, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.FileExt(ext), mat)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func TestIsEncoded(t *testing.T) {
	assert.True(t, IsEncoded(encode(t, ".jpg", 10, 10, 0)))
	assert.True(t, IsEncoded(encode(t, ".png", 10, 10, 0)))
	assert.False(t, IsEncoded(make([]byte, 96*96)))
	assert.False(t, IsEncoded(nil))
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte{1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeBase64("data:image/jpeg;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeBase64("%%%")
	assert.Error(t, err)
}

func TestToTensor(t *testing.T) {
	data, err := ToTensor(encode(t, ".png", 240, 320, 200), grayInput)
	require.NoError(t, err)
	require.Len(t, data, 96*96)
	assert.Equal(t, byte(200), data[0])
	assert.Equal(t, byte(200), data[len(data)-1])

	int8Input := grayInput
	int8Input.Type = "int8"
	data, err = ToTensor(encode(t, ".png", 96, 96, 200), int8Input)
	require.NoError(t, err)
	assert.Equal(t, byte(72), data[0])

	rgb := iface.InputSpec{Type: "uint8", Shape: []int{1, 32, 32, 3}, ByteSize: 32 * 32 * 3}
	data, err = ToTensor(encode(t, ".png", 64, 64, 10), rgb)
	require.NoError(t, err)
	assert.Len(t, data, 32*32*3)
}

func TestToTensor_Rejects(t *testing.T) {
	_, err := ToTensor([]byte{0xff, 0xd8, 0xff, 0x00}, grayInput)
	assert.Error(t, err)

	_, err = ToTensor(encode(t, ".png", 8, 8, 0), iface.InputSpec{Type: "uint8", Shape: []int{1, 8}})
	assert.Error(t, err)

	_, err = ToTensor(encode(t, ".png", 8, 8, 0), iface.InputSpec{Type: "float32", Shape: []int{1, 8, 8, 1}})
	assert.Error(t, err)
}
