package enrichment

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPInfoLocator(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/8.8.8.8/json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ip":"8.8.8.8","city":"Mountain View","country":"US","loc":"37.4,-122.0"}`))
		case "/10.0.0.1/json":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	l := NewIPInfoLocator(srv.URL+"/", "tok", srv.Client())

	t.Run("decodes object", func(t *testing.T) {
		geo, err := l.Locate(t.Context(), "8.8.8.8")
		require.NoError(t, err)
		assert.Equal(t, "/8.8.8.8/json", gotPath)
		assert.Equal(t, "Bearer tok", gotAuth)
		assert.Equal(t, "Mountain View", geo["city"])
		assert.Equal(t, "US", geo["country"])
	})

	t.Run("non-2xx status", func(t *testing.T) {
		_, err := l.Locate(t.Context(), "10.0.0.1")
		assert.ErrorContains(t, err, "429")
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := l.Locate(t.Context(), "1.1.1.1")
		assert.ErrorContains(t, err, "decode")
	})

	t.Run("unreachable", func(t *testing.T) {
		dead := NewIPInfoLocator("http://127.0.0.1:1", "", nil)
		_, err := dead.Locate(t.Context(), "8.8.8.8")
		assert.Error(t, err)
	})

	t.Run("no token header", func(t *testing.T) {
		_, _ = NewIPInfoLocator(srv.URL, "", srv.Client()).Locate(t.Context(), "8.8.8.8")
		assert.Empty(t, gotAuth)
	})
}

func TestIPInfoLocator_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := NewIPInfoLocator(srv.URL, "", srv.Client()).Locate(ctx, "8.8.8.8")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRDAPWhois(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ip/192.0.2.1":
			w.Header().Set("Content-Type", "application/rdap+json")
			_, _ = w.Write([]byte(`{
				"objectClassName": "ip network",
				"handle": "NET-192-0-2-0-1",
				"name": "TEST-NET-1",
				"country": "US",
				"startAddress": "192.0.2.0",
				"endAddress": "192.0.2.255",
				"type": "IANA-RESERVED",
				"entities": [{"handle": "IANA"}]
			}`))
		case "/ip/198.51.100.1":
			_, _ = w.Write([]byte(`{"objectClassName": "ip network"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	w := NewRDAPWhois(srv.URL, srv.Client())

	t.Run("flattens network", func(t *testing.T) {
		got, err := w.Whois(t.Context(), "192.0.2.1")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"handle":        "NET-192-0-2-0-1",
			"name":          "TEST-NET-1",
			"country":       "US",
			"start_address": "192.0.2.0",
			"end_address":   "192.0.2.255",
			"type":          "IANA-RESERVED",
		}, got)
	})

	t.Run("empty object", func(t *testing.T) {
		_, err := w.Whois(t.Context(), "198.51.100.1")
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := w.Whois(t.Context(), "203.0.113.1")
		assert.ErrorIs(t, err, ErrNoData)
	})
}

// startDNSServer serves PTR answers from records on a random UDP port.
func startDNSServer(t *testing.T, records map[string]string, rcode int) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			if name, ok := records[q.Name]; ok && q.Qtype == dns.TypePTR {
				m.Answer = append(m.Answer, &dns.PTR{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
					Ptr: name,
				})
			} else {
				m.Rcode = rcode
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startDNSServer(t, map[string]string{
		"1.2.0.192.in-addr.arpa.": "host.example.net.",
	}, dns.RcodeNameError)
	r := NewDNSResolver(addr)

	t.Run("ptr answer", func(t *testing.T) {
		name, err := r.Reverse(t.Context(), "192.0.2.1")
		require.NoError(t, err)
		assert.Equal(t, "host.example.net", name)
	})

	t.Run("nxdomain", func(t *testing.T) {
		_, err := r.Reverse(t.Context(), "192.0.2.99")
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := r.Reverse(t.Context(), "not-an-ip")
		assert.Error(t, err)
	})
}

func TestDNSResolver_ServerFailure(t *testing.T) {
	addr := startDNSServer(t, nil, dns.RcodeServerFailure)

	_, err := NewDNSResolver(addr).Reverse(t.Context(), "192.0.2.1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoData)
	assert.ErrorContains(t, err, "SERVFAIL")
}

func TestNewDNSResolver_ServerAddress(t *testing.T) {
	assert.Equal(t, "9.9.9.9:53", NewDNSResolver("9.9.9.9").Server())
	assert.Equal(t, "127.0.0.1:5353", NewDNSResolver("127.0.0.1:5353").Server())
}

func TestSystemNameserver(t *testing.T) {
	dir := t.TempDir()

	conf := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.WriteFile(conf, []byte("search example\nnameserver 192.0.2.53\nnameserver 192.0.2.54\n"), 0o600))
	assert.Equal(t, "192.0.2.53:53", systemNameserver(conf))

	assert.Equal(t, fallbackNameserver, systemNameserver(filepath.Join(dir, "missing")))
}

func TestOpenMaxMindLocator_MissingDatabase(t *testing.T) {
	_, err := OpenMaxMindLocator(filepath.Join(t.TempDir(), "GeoLite2-City.mmdb"), "")
	assert.Error(t, err)
}
