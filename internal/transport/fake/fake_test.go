package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRecordsTraffic(t *testing.T) {
	inst := New("GPIB0::9::INSTR")
	ctx := context.Background()

	require.NoError(t, inst.Write(ctx, "*RST"))

	got, err := inst.Query(ctx, "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "FAKE INSTRUMENTS,MODEL-0,SN000,1.0", got)

	assert.Equal(t, []string{"*RST"}, inst.Writes())
	assert.Equal(t, []string{"*IDN?"}, inst.Queries())
	assert.Equal(t, "GPIB0::9::INSTR", inst.Address())
}

func TestFakeHooksOverrideDefaults(t *testing.T) {
	wantErr := errors.New("bus stuck")
	inst := New("GPIB0::9::INSTR")
	inst.QueryFunc = func(context.Context, string) (string, error) {
		return "", wantErr
	}

	_, err := inst.Query(context.Background(), "*IDN?")
	assert.ErrorIs(t, err, wantErr)
	// The command is still recorded even when the hook fails.
	assert.Equal(t, []string{"*IDN?"}, inst.Queries())
}

func TestFakeHonorsContextCancellation(t *testing.T) {
	inst := New("GPIB0::9::INSTR")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, inst.Write(ctx, "*RST"), context.Canceled)
	_, err := inst.Query(ctx, "*IDN?")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, inst.Writes())
	assert.Empty(t, inst.Queries())
}

func TestFakeClose(t *testing.T) {
	inst := New("GPIB0::9::INSTR")
	require.False(t, inst.Closed())
	require.NoError(t, inst.Close())
	assert.True(t, inst.Closed())

	inst.CloseFunc = func() error { return errors.New("already detached") }
	assert.Error(t, inst.Close())
}
