package scanning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen binds a loopback listener and returns it with its port.
func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// freePort returns a loopback port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestTCPProber_Open(t *testing.T) {
	ln, port := listen(t)

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		accepted <- err
	}()

	outcome := NewTCPProber().Probe(context.Background(), Target{Host: "127.0.0.1", Port: port}, time.Second)
	assert.Equal(t, Open(), outcome)

	select {
	case err := <-accepted:
		assert.ErrorIs(t, err, io.EOF, "prober should close the connection without sending data")
	case <-time.After(3 * time.Second):
		t.Fatal("listener never saw the connection")
	}
}

func TestTCPProber_Closed(t *testing.T) {
	port := freePort(t)

	outcome := NewTCPProber().Probe(context.Background(), Target{Host: "127.0.0.1", Port: port}, time.Second)
	assert.Equal(t, Closed(), outcome)
}

func TestTCPProber_IgnoresCancellationOfInFlightDial(t *testing.T) {
	_, port := listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := NewTCPProber().Probe(ctx, Target{Host: "127.0.0.1", Port: port}, time.Second)
	assert.Equal(t, Open(), outcome)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func dialErr(errno syscall.Errno) error {
	return &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: &os.SyscallError{Syscall: "connect", Err: errno},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil is open", nil, Open()},
		{"refused", dialErr(syscall.ECONNREFUSED), Closed()},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, TimedOut()},
		{"deadline exceeded", fmt.Errorf("dial: %w", context.DeadlineExceeded), TimedOut()},
		{"too many open files", dialErr(syscall.EMFILE), Failed(ReasonResourceExhausted)},
		{"file table overflow", dialErr(syscall.ENFILE), Failed(ReasonResourceExhausted)},
		{"no buffer space", dialErr(syscall.ENOBUFS), Failed(ReasonResourceExhausted)},
		{"ephemeral ports exhausted", dialErr(syscall.EADDRNOTAVAIL), Failed(ReasonResourceExhausted)},
		{"host unreachable", dialErr(syscall.EHOSTUNREACH), Failed(ReasonHostUnreachable)},
		{"network unreachable", dialErr(syscall.ENETUNREACH), Failed(ReasonNetworkUnreachable)},
		{"permission denied", dialErr(syscall.EACCES), Failed(ReasonPermissionDenied)},
		{"reset", dialErr(syscall.ECONNRESET), Failed(ReasonConnectionReset)},
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}},
			Failed(ReasonResolutionFailed)},
		{"canceled", fmt.Errorf("dial: %w", context.Canceled), Failed(ReasonCanceled)},
		{"message refused", errors.New("connectex: connection refused"), Closed()},
		{"message fd limit", errors.New("socket: too many open files"), Failed(ReasonResourceExhausted)},
		{"message timed out", errors.New("operation timed out"), TimedOut()},
		{"unknown", errors.New("something odd"), Failed(ReasonUnknown)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestTCPProber_DoesNotLeakDescriptors(t *testing.T) {
	ln, port := listen(t)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	closed := freePort(t)
	p := NewTCPProber()
	for range 500 {
		require.Equal(t, StateOpen, p.Probe(context.Background(), Target{Host: "127.0.0.1", Port: port}, time.Second).State)
		require.Equal(t, StateClosed, p.Probe(context.Background(), Target{Host: "127.0.0.1", Port: closed}, time.Second).State)
	}
}
