package storage

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

type srvRecord struct {
	target   string
	port     uint16
	priority uint16
}

// startSRVResolver runs a local DNS server answering every SRV query with the
// given records. Returns the resolver address to point the source at.
func startSRVResolver(t *testing.T, records []srvRecord) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err, "should bind test resolver")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		for _, rec := range records {
			m.Answer = append(m.Answer, &dns.SRV{
				Hdr: dns.RR_Header{
					Name:   r.Question[0].Name,
					Rrtype: dns.TypeSRV,
					Class:  dns.ClassINET,
					Ttl:    60,
				},
				Priority: rec.priority,
				Weight:   5,
				Port:     rec.port,
				Target:   rec.target,
			})
		}
		_ = w.WriteMsg(m)
	})

	server := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func serverPort(t *testing.T, ts *httptest.Server) uint16 {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.ParseUint(u.Port(), 10, 16)
	require.NoError(t, err)
	return uint16(port)
}

func TestSRVSourceFetch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payload := []byte(`{"version":7}`)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/configs/security_config.json" {
			w.Write(payload)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	// Lower priority number wins; the dead endpoint must be tried first.
	resolver := startSRVResolver(t, []srvRecord{
		{target: "127.0.0.1.", port: 1, priority: 20},
		{target: "127.0.0.1.", port: serverPort(t, ts), priority: 10},
	})

	source, err := NewSRVSource("_guard-config._tcp.example.com", "configs", "http", resolver, logger)
	require.NoError(t, err)

	ctx := context.Background()

	data, err := source.Fetch(ctx, testAssetName(t))
	require.NoError(t, err, "should fetch from the highest priority endpoint")
	assert.Equal(t, payload, data)

	missing, err := interfaces.NewAssetName("missing.json")
	require.NoError(t, err)
	_, err = source.Fetch(ctx, missing)
	assert.ErrorIs(t, err, interfaces.ErrAssetNotFound)

	assert.True(t, source.Available(ctx))
	assert.Equal(t, "srv-_guard-config._tcp.example.com", source.Name())
}

func TestSRVSourceEndpointOrdering(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	resolver := startSRVResolver(t, []srvRecord{
		{target: "backup.example.com.", port: 8443, priority: 20},
		{target: "primary.example.com.", port: 443, priority: 10},
	})

	source, err := NewSRVSource("_guard-config._tcp.example.com", "", "https", resolver, logger)
	require.NoError(t, err)

	endpoints, err := source.resolveEndpoints()
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "primary.example.com:443", endpoints[0], "lower priority value should sort first")
	assert.Equal(t, "backup.example.com:8443", endpoints[1])
}

func TestSRVSourceNoRecords(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	resolver := startSRVResolver(t, nil)

	source, err := NewSRVSource("_guard-config._tcp.example.com", "", "https", resolver, logger)
	require.NoError(t, err)

	ctx := context.Background()
	assert.False(t, source.Available(ctx))

	_, err = source.Fetch(ctx, testAssetName(t))
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestSRVSourceValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewSRVSource("", "", "https", "", logger)
	assert.Error(t, err, "empty domain should be rejected")

	_, err = NewSRVSource("_guard._tcp.example.com", "", "gopher", "", logger)
	assert.Error(t, err, "unsupported proto should be rejected")

	source, err := NewSRVSource("_guard._tcp.example.com", "", "", "", logger)
	require.NoError(t, err)
	assert.Contains(t, source.LocationURI(), "proto=https", "proto should default to https")

	err = source.Store(context.Background(), testAssetName(t), []byte("x"))
	assert.Error(t, err, "srv sources are read-only")
}
