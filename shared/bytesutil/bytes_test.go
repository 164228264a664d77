package bytesutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBytes_LittleEndian(t *testing.T) {
	tests := []struct {
		x    uint64
		n    int
		want []byte
	}{
		{0, 1, []byte{0}},
		{1, 1, []byte{1}},
		{5, 2, []byte{5, 0}},
		{256, 2, []byte{0, 1}},
		{1 << 16, 3, []byte{0, 0, 1}},
		{1 << 24, 8, []byte{0, 0, 0, 1, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToBytes(tt.x, tt.n))
	}
}

func TestBytes8(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, Bytes8(0))
	assert.Equal(t, []byte{2, 1, 0, 0, 0, 0, 0, 0}, Bytes8(258))
}

func TestToBytes4_PadsAndTruncates(t *testing.T) {
	assert.Equal(t, [4]byte{1, 2, 0, 0}, ToBytes4([]byte{1, 2}))
	assert.Equal(t, [4]byte{1, 2, 3, 4}, ToBytes4([]byte{1, 2, 3, 4, 5, 6}))
}

func TestToBytes32_Pads(t *testing.T) {
	got := ToBytes32([]byte{0xaa, 0xbb})
	assert.Equal(t, byte(0xaa), got[0])
	assert.Equal(t, byte(0xbb), got[1])
	assert.True(t, bytes.Equal(got[2:], make([]byte, 30)))
}

func TestTrunc(t *testing.T) {
	assert.Equal(t, []byte{1, 2, 3}, Trunc([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, Trunc([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
}
