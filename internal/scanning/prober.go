package scanning

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

//go:generate mockgen -source=prober.go -destination=mock_prober_test.go -package=scanning

// Prober performs one bounded connection attempt. Implementations never
// return errors; every failure is expressed as an Outcome.
type Prober interface {
	Probe(ctx context.Context, target Target, timeout time.Duration) Outcome
}

// TCPProber classifies targets with a full TCP handshake via connect(2).
type TCPProber struct {
	dialer net.Dialer
}

// NewTCPProber returns a prober using a default dialer.
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe dials target and closes the connection as soon as it is
// established. The attempt is bounded by timeout only: cancelling ctx does
// not abort a dial that has already started.
func (p *TCPProber) Probe(ctx context.Context, target Target, timeout time.Duration) Outcome {
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(dialCtx, "tcp", target.Address())
	if err != nil {
		return Classify(err)
	}
	_ = conn.Close()
	return Open()
}

// Classify maps a dial error to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Open()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Failed(ReasonResolutionFailed)
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return Closed()
	case errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.ENOBUFS),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EADDRNOTAVAIL):
		return Failed(ReasonResourceExhausted)
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.EHOSTDOWN):
		return Failed(ReasonHostUnreachable)
	case errors.Is(err, syscall.ENETUNREACH):
		return Failed(ReasonNetworkUnreachable)
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES):
		return Failed(ReasonPermissionDenied)
	case errors.Is(err, syscall.ECONNRESET):
		return Failed(ReasonConnectionReset)
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut()
	case errors.Is(err, context.Canceled):
		return Failed(ReasonCanceled)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut()
	}

	return classifyMessage(err.Error())
}

// classifyMessage is the fallback for platforms whose dial errors do not
// unwrap to an errno.
func classifyMessage(msg string) Outcome {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "connection refused"):
		return Closed()
	case strings.Contains(msg, "too many open files"),
		strings.Contains(msg, "no buffer space available"),
		strings.Contains(msg, "assign requested address"):
		return Failed(ReasonResourceExhausted)
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "host is down"):
		return Failed(ReasonHostUnreachable)
	case strings.Contains(msg, "network is unreachable"):
		return Failed(ReasonNetworkUnreachable)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return TimedOut()
	default:
		return Failed(ReasonUnknown)
	}
}
