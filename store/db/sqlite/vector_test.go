package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorBLOBRoundTrip(t *testing.T) {
	original := []float32{0.1, -2.5, 3.14159, 0, 1e-12}

	blob := float32ArrayToBLOB(original)
	require.Len(t, blob, len(original)*4)

	decoded, err := blobToFloat32Array(blob)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestVectorBLOBNull(t *testing.T) {
	assert.Nil(t, float32ArrayToBLOB(nil))
	assert.Nil(t, float32ArrayToBLOB([]float32{}))

	decoded, err := blobToFloat32Array(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestVectorBLOBInvalidLength(t *testing.T) {
	_, err := blobToFloat32Array([]byte{1, 2, 3})
	assert.Error(t, err)
}
