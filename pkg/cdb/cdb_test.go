package cdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRead10(t *testing.T) {
	b, err := Build(Request{CdbSize: 10, Blocks: 4, StartLBA: 0x1234, IsWrite: false})
	require.NoError(t, err)
	require.Len(t, b, 10)
	require.Equal(t, byte(0x28), b[0])
	require.Equal(t, []byte{0x00, 0x00, 0x12, 0x34}, b[2:6])
	require.Equal(t, []byte{0x00, 0x04}, b[7:9])
}

func TestBuildWrite16(t *testing.T) {
	b, err := Build(Request{CdbSize: 16, Blocks: 128, StartLBA: 0x100000000, IsWrite: true, Fua: true})
	require.NoError(t, err)
	require.Equal(t, byte(0x8A), b[0])
	require.Equal(t, byte(0x08), b[1]&0x08)
	require.Equal(t, uint32(128), beUint32(b[10:14]))
}

func TestBuild6ByteOverflowBlocks(t *testing.T) {
	_, err := Build(Request{CdbSize: 6, Blocks: 257, StartLBA: 0})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestBuild6ByteOverflowLBA(t *testing.T) {
	_, err := Build(Request{CdbSize: 6, Blocks: 1, StartLBA: 1 << 21})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestBuild6ByteFuaRejected(t *testing.T) {
	_, err := Build(Request{CdbSize: 6, Blocks: 1, StartLBA: 0, Fua: true})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestBuild6ByteBlocksWrapTo256(t *testing.T) {
	b, err := Build(Request{CdbSize: 6, Blocks: 256, StartLBA: 0})
	require.NoError(t, err)
	require.Equal(t, byte(0), b[4])
}

func TestBuild10ByteMaxBlocksOverflow(t *testing.T) {
	_, err := Build(Request{CdbSize: 10, Blocks: 0x10000, StartLBA: 0})
	require.ErrorIs(t, err, ErrOverflow)
}

func TestBuildUnsupportedSize(t *testing.T) {
	_, err := Build(Request{CdbSize: 7, Blocks: 1, StartLBA: 0})
	require.Error(t, err)
}

func TestMinSizeFor(t *testing.T) {
	require.Equal(t, 10, MinSizeFor(1000, 128))
	require.Equal(t, 16, MinSizeFor(1<<33, 128))
	require.Equal(t, 16, MinSizeFor(1000, 1<<17))
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
