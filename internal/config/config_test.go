package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOperandsAndFlags(t *testing.T) {
	c, err := Parse([]string{"if=/dev/sg0", "of=/dev/sg1", "bs=4096", "count=1000", "iflag=direct,dio", "oflag=coe"})
	require.NoError(t, err)
	require.Equal(t, "/dev/sg0", c.If)
	require.Equal(t, "/dev/sg1", c.Of)
	require.Equal(t, 4096, c.Bs)
	require.Equal(t, int64(1000), c.Count)
	require.True(t, c.IFlags.Direct)
	require.True(t, c.IFlags.Dio)
	require.True(t, c.OFlags.Coe)
}

func TestParseRejectsUnknownOperand(t *testing.T) {
	_, err := Parse([]string{"bogus=1"})
	require.Error(t, err)
}

func TestParseRejectsMalformedOperand(t *testing.T) {
	_, err := Parse([]string{"notkeyvalue"})
	require.Error(t, err)
}

func TestParseDryRunLongOption(t *testing.T) {
	c, err := Parse([]string{"--dry-run", "if=/dev/sg0"})
	require.NoError(t, err)
	require.True(t, c.DryRun)
}

func TestNormalizeRejectsIbsMismatch(t *testing.T) {
	c := Default()
	c.Ibs = 1024
	require.Error(t, c.Normalize())
}

func TestNormalizeRejectsAppendWithSeek(t *testing.T) {
	c := Default()
	c.OFlags.Append = true
	c.Seek = 10
	require.Error(t, c.Normalize())
}

func TestNormalizeFixedSameFdsMmapCheckCatchesOutFlagsOnly(t *testing.T) {
	c := Default()
	c.IFlags.NoShare = true // satisfy the mmap/noshare precondition
	c.OFlags.Mmap = true
	c.OFlags.SameFds = true // only the OUTPUT side sets same_fds
	err := c.Normalize()
	require.Error(t, err, "the fixed check must catch out_flags.same_fds, unlike the original's duplicated in_flags check")
}

func TestNormalizeBptDemotedFor2048ByteBlocks(t *testing.T) {
	c := Default()
	c.Bs = 2048
	require.NoError(t, c.Normalize())
	require.Equal(t, 32, c.Bpt)
}

func TestNormalizeBptRespectsExplicitValueEvenAt2048(t *testing.T) {
	c := Default()
	c.Bs = 2048
	c.Bpt = 64
	c.BptGiven = true
	require.NoError(t, c.Normalize())
	require.Equal(t, 64, c.Bpt)
}

func TestNormalizePromotesOtherSideToV4(t *testing.T) {
	c := Default()
	c.IFlags.V4 = true
	require.NoError(t, c.Normalize())
	require.True(t, c.OFlags.V4)
}

func TestNormalizeDoesNotPromoteWhenOtherForcesV3(t *testing.T) {
	c := Default()
	c.IFlags.V4 = true
	c.OFlags.V3 = true
	require.NoError(t, c.Normalize())
	require.False(t, c.OFlags.V4)
}

func TestNormalizeAutoPromotesCdbszTo16OnLargeRange(t *testing.T) {
	c := Default()
	c.Count = 1 << 33
	require.NoError(t, c.Normalize())
	require.Equal(t, 16, c.CdbszIn)
	require.Equal(t, 16, c.CdbszOut)
}

func TestNormalizeRejectsThreadCountOutOfRange(t *testing.T) {
	c := Default()
	c.Thr = 32
	require.Error(t, c.Normalize())
}
