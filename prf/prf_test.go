package prf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv-ooo/rvcore"
	"github.com/rv-ooo/rvcore/prf"
)

func TestWriteThenRead(t *testing.T) {
	f := prf.New(8)
	require.NoError(t, f.Write(3, 42))
	assert.Equal(t, uint64(42), f.Read(3))
}

func TestWriteToZeroIsIgnored(t *testing.T) {
	f := prf.New(8)
	require.NoError(t, f.Write(0, 99))
	assert.Equal(t, uint64(0), f.Read(0))
}

func TestReadBypassedPrefersBypassOverCommitted(t *testing.T) {
	f := prf.New(8)
	require.NoError(t, f.Write(3, 1))
	f.Bypass(3, 2)
	assert.Equal(t, uint64(2), f.ReadBypassed(3))
	assert.Equal(t, uint64(1), f.Read(3))
}

func TestClearBypassDropsForwardedValues(t *testing.T) {
	f := prf.New(8)
	require.NoError(t, f.Write(3, 1))
	f.Bypass(3, 2)
	f.ClearBypass()
	assert.Equal(t, uint64(1), f.ReadBypassed(3))
}

func TestBypassToZeroIsIgnored(t *testing.T) {
	f := prf.New(8)
	f.Bypass(0, 77)
	assert.Equal(t, uint64(0), f.ReadBypassed(0))
}

func TestSecondWriteToSamePregInOneCycleIsDoubleWriteback(t *testing.T) {
	f := prf.New(8)
	require.NoError(t, f.Write(5, 1))
	err := f.Write(5, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, rvcore.ErrDoubleWriteback)
}

func TestClearBypassResetsDoubleWritebackTrackingForNextCycle(t *testing.T) {
	f := prf.New(8)
	require.NoError(t, f.Write(5, 1))
	f.ClearBypass()
	require.NoError(t, f.Write(5, 2))
	assert.Equal(t, uint64(2), f.Read(5))
}
