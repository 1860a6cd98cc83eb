package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgtools/sgdd/pkg/engine"
)

func TestWriteTextIncludesAllFourGauges(t *testing.T) {
	g := engine.NewGlobalState(512, 4, 100, 0, 0)
	g.In.AddRem(-10)
	g.Out.AddRem(-3)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, g))

	out := buf.String()
	for _, name := range []string{
		"sgdd_in_rem_blocks",
		"sgdd_out_rem_blocks",
		"sgdd_dio_incomplete_total",
		"sgdd_resid_sum_bytes",
	} {
		require.Contains(t, out, name)
	}
	require.Contains(t, out, "sgdd_in_rem_blocks 90")
	require.Contains(t, out, "sgdd_out_rem_blocks 97")
}

func TestWriteTextReflectsAtomicCounters(t *testing.T) {
	g := engine.NewGlobalState(512, 4, 10, 0, 0)
	g.ResidSum = 128
	g.DioIncomplete = 2

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, g))

	out := buf.String()
	require.Contains(t, out, "sgdd_dio_incomplete_total 2")
	require.Contains(t, out, "sgdd_resid_sum_bytes 128")
}
