package scanning

import (
	"fmt"
	"iter"
	"net"
	"strconv"
)

const (
	// MinPort is the lowest scannable TCP port.
	MinPort = 1
	// MaxPort is the highest scannable TCP port.
	MaxPort = 65535
)

// Target is one host:port pair to probe.
type Target struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Address returns the dialable host:port form of the target.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// PortRange is an inclusive range of ports.
type PortRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Count returns the number of ports in the range, or 0 for an inverted range.
func (r PortRange) Count() int {
	if r.Max < r.Min {
		return 0
	}
	return r.Max - r.Min + 1
}

// Contains reports whether port lies in the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Min && port <= r.Max
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Targets lazily yields one Target per port of r, in ascending order.
// Each range over the returned sequence starts again from r.Min.
func Targets(host string, r PortRange) iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for port := r.Min; port <= r.Max; port++ {
			if !yield(Target{Host: host, Port: port}) {
				return
			}
		}
	}
}
