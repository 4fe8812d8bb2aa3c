package gpib

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakeogh/gpibtool/internal/visa"
)

func TestOpenRejectsOtherClasses(t *testing.T) {
	addr, err := visa.ParseAddress("ASRL/dev/ttyUSB0::INSTR")
	require.NoError(t, err)

	_, err = New(Options{}).Open(context.Background(), addr)
	assert.Error(t, err)
}

func TestOpenRejectsSecondaryAddressing(t *testing.T) {
	addr, err := visa.ParseAddress("GPIB0::9::96::INSTR")
	require.NoError(t, err)

	transport := New(Options{Controllers: map[int]string{0: "/dev/ttyUSB2"}})
	_, err = transport.Open(context.Background(), addr)
	require.Error(t, err)
	assert.False(t, visa.IsTimeout(err))
	assert.Contains(t, err.Error(), "secondary address")
}

func TestOpenUnconfiguredBoardIsConnectivity(t *testing.T) {
	addr, err := visa.ParseAddress("GPIB3::9::INSTR")
	require.NoError(t, err)

	transport := New(Options{Controllers: map[int]string{0: "/dev/ttyUSB2"}})
	_, err = transport.Open(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, visa.IsConnectivity(err))
	assert.Contains(t, err.Error(), "board 3")
}

func TestOpenHonorsCanceledContext(t *testing.T) {
	addr, err := visa.ParseAddress("GPIB0::9::INSTR")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := New(Options{Controllers: map[int]string{0: "/dev/ttyUSB2"}})
	_, err = transport.Open(ctx, addr)
	assert.ErrorIs(t, err, context.Canceled)
}
