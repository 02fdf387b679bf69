package csr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rv-ooo/rvcore/csr"
)

func TestEnterTrapLatchesStateAndReturnsEvec(t *testing.T) {
	f := csr.New()
	f.Evec = 0x8000_0000

	target := f.EnterTrap(13, 0xDEAD, 0x1000)

	assert.Equal(t, uint64(0x8000_0000), target)
	assert.Equal(t, uint64(13), f.Cause)
	assert.Equal(t, uint64(0xDEAD), f.Tval)
	assert.Equal(t, uint64(0x1000), f.Epc)
}

func TestAccumulateFflagsOrsIntoExistingFlags(t *testing.T) {
	f := csr.New()
	f.Fflags = 0b0001
	f.AccumulateFflags(0b0010)
	assert.Equal(t, uint8(0b0011), f.Fflags)
}
