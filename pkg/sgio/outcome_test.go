package sgio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSenseKeyFixedFormat(t *testing.T) {
	sense := make([]byte, 18)
	sense[0] = 0x70
	sense[2] = byte(senseKeyMediumError)
	key, ok := senseKey(sense)
	require.True(t, ok)
	require.Equal(t, byte(senseKeyMediumError), key)
}

func TestSenseKeyDescriptorFormat(t *testing.T) {
	sense := make([]byte, 18)
	sense[0] = 0x72
	sense[1] = byte(senseKeyUnitAttention)
	key, ok := senseKey(sense)
	require.True(t, ok)
	require.Equal(t, byte(senseKeyUnitAttention), key)
}

func TestSenseKeyUnrecognizedResponseCode(t *testing.T) {
	sense := make([]byte, 18)
	sense[0] = 0x00
	_, ok := senseKey(sense)
	require.False(t, ok)
}

func TestClassifyClean(t *testing.T) {
	require.Equal(t, Clean, classify(0, 0, make([]byte, 18)))
}

func TestClassifyMediumHard(t *testing.T) {
	sense := make([]byte, 18)
	sense[0] = 0x70
	sense[2] = byte(senseKeyHardwareError)
	require.Equal(t, MediumHard, classify(driverSenseBit, 0, sense))
}

func TestClassifyAbortedCommand(t *testing.T) {
	sense := make([]byte, 18)
	sense[0] = 0x70
	sense[2] = byte(senseKeyAbortedCommand)
	require.Equal(t, AbortedCommand, classify(driverSenseBit, 0, sense))
}

func TestClassifyFallsBackToNotReadyOnUnknownError(t *testing.T) {
	require.Equal(t, NotReadyOther, classify(0, 1, make([]byte, 18)))
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "medium-hard", MediumHard.String())
	require.Equal(t, "unknown", Outcome(99).String())
}
