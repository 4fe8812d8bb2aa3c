package socket

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// startServer runs a one-connection line server whose replies come from
// handle. An empty reply means stay silent.
func startServer(t *testing.T, handle func(line string) string) *visa.Address {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			if reply := handle(scanner.Text()); reply != "" {
				fmt.Fprint(conn, reply)
			}
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	addr, err := visa.ParseAddress(fmt.Sprintf("TCPIP::127.0.0.1::%d::SOCKET", port))
	require.NoError(t, err)
	return addr
}

func TestQueryRoundTrip(t *testing.T) {
	addr := startServer(t, func(line string) string {
		if line == "*IDN?" {
			return "KEITHLEY INSTRUMENTS,MODEL 2400,0123456,C30\n"
		}
		return "UNKNOWN\n"
	})

	inst, err := New(Options{}).Open(context.Background(), addr)
	require.NoError(t, err)
	defer inst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := inst.Query(ctx, "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "KEITHLEY INSTRUMENTS,MODEL 2400,0123456,C30", got)
	assert.Equal(t, addr.Raw, inst.Address())
}

func TestQueryStripsOnlyFramingTerminator(t *testing.T) {
	addr := startServer(t, func(string) string {
		return "VALUE \r\n"
	})

	inst, err := New(Options{}).Open(context.Background(), addr)
	require.NoError(t, err)
	defer inst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := inst.Query(ctx, "MEAS?")
	require.NoError(t, err)
	// Interior and carriage-return whitespace survive; trimming responses
	// for callers happens a layer up.
	assert.Equal(t, "VALUE \r", got)
}

func TestQueryTimesOutOnSilentInstrument(t *testing.T) {
	addr := startServer(t, func(string) string {
		return "" // never answer
	})

	inst, err := New(Options{}).Open(context.Background(), addr)
	require.NoError(t, err)
	defer inst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = inst.Query(ctx, "*IDN?")
	require.Error(t, err)
	assert.True(t, visa.IsTimeout(visa.Normalize("read", addr.Raw, err)))
}

func TestOpenRefusedMapsToConnectivity(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	addr, err := visa.ParseAddress(fmt.Sprintf("TCPIP::127.0.0.1::%d::SOCKET", port))
	require.NoError(t, err)

	_, err = New(Options{DialTimeout: time.Second}).Open(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, visa.IsConnectivity(visa.Normalize("open", addr.Raw, err)))
}

func TestOpenRejectsOtherClasses(t *testing.T) {
	addr, err := visa.ParseAddress("GPIB0::9::INSTR")
	require.NoError(t, err)

	_, err = New(Options{}).Open(context.Background(), addr)
	assert.Error(t, err)
}
