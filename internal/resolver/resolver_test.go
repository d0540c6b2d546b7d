package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portsweep/internal/errors"
)

// startDNSServer runs an in-process authoritative server for the test zone.
func startDNSServer(t *testing.T) string {
	t.Helper()

	records := map[string][]string{
		"scanme.test.":  {"scanme.test. 60 IN A 127.0.0.1"},
		"dual.test.":    {"dual.test. 60 IN A 127.0.0.2", "dual.test. 60 IN AAAA ::1"},
		"v6only.test.":  {"v6only.test. 60 IN AAAA ::1"},
		"nothing.test.": {},
	}

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]

		rrs, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		for _, s := range rrs {
			rr, err := dns.NewRR(s)
			if err != nil {
				t.Errorf("bad test record %q: %v", s, err)
				continue
			}
			if rr.Header().Rrtype == q.Qtype {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() {
		_ = srv.Shutdown()
	})

	return pc.LocalAddr().String()
}

func TestDNSResolver_Resolve(t *testing.T) {
	addr := startDNSServer(t)
	r := NewDNSResolver(addr, time.Second)

	tests := []struct {
		name    string
		host    string
		want    string
		wantErr bool
	}{
		{name: "A record", host: "scanme.test", want: "127.0.0.1"},
		{name: "prefers IPv4", host: "dual.test", want: "127.0.0.2"},
		{name: "falls back to AAAA", host: "v6only.test", want: "::1"},
		{name: "IPv4 literal", host: "10.1.2.3", want: "10.1.2.3"},
		{name: "bracketed IPv6 literal", host: "[::1]", want: "::1"},
		{name: "NXDOMAIN", host: "missing.test", wantErr: true},
		{name: "no records", host: "nothing.test", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.host)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.CodeResolution), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDNSResolver_DefaultPort(t *testing.T) {
	r := NewDNSResolver("192.0.2.53", 0)
	assert.Equal(t, "192.0.2.53:53", r.Server())
	assert.Equal(t, defaultQueryTimeout, r.client.Timeout)

	r = NewDNSResolver("192.0.2.53:5353", time.Second)
	assert.Equal(t, "192.0.2.53:5353", r.Server())
}

func TestNew(t *testing.T) {
	_, ok := New("", time.Second).(*SystemResolver)
	assert.True(t, ok, "empty server should use the system resolver")

	_, ok = New("127.0.0.1:53", time.Second).(*DNSResolver)
	assert.True(t, ok, "explicit server should use the DNS resolver")
}

func TestSystemResolver_Resolve(t *testing.T) {
	r := &SystemResolver{}

	t.Run("IP literal skips lookup", func(t *testing.T) {
		got, err := r.Resolve(context.Background(), "127.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", got)
	})

	t.Run("localhost", func(t *testing.T) {
		got, err := r.Resolve(context.Background(), "localhost")
		require.NoError(t, err)
		ip := net.ParseIP(got)
		require.NotNil(t, ip)
		assert.True(t, ip.IsLoopback(), "localhost resolved to %s", got)
	})

	t.Run("reserved TLD fails", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := r.Resolve(ctx, "portsweep-does-not-exist.invalid")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeResolution))
	})
}

func TestPick(t *testing.T) {
	assert.Nil(t, pick(nil))
	assert.Equal(t, "::1", pick([]net.IP{net.ParseIP("::1")}).String())
	assert.Equal(t, "192.0.2.1", pick([]net.IP{net.ParseIP("::1"), net.ParseIP("192.0.2.1")}).String())
}
