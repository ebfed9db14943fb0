package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

const defaultResolverAddr = "127.0.0.53:53"

// SRVSource discovers configuration servers through DNS SRV records and
// fetches named assets from them over HTTP(S). This lets a fleet locate its
// config endpoints without baking hostnames into the device image. The source
// is read-only.
type SRVSource struct {
	domain       string
	basePath     string
	proto        string
	resolverAddr string
	client       *http.Client
	log          *slog.Logger
	locationURI  string
}

// NewSRVSource creates an SRV-discovered asset source.
//
// Parameters:
//   - domain: SRV record name (e.g. _guard-config._tcp.example.com)
//   - basePath: request path prefix on the resolved servers, may be empty
//   - proto: "https" (default) or "http"
//   - resolverAddr: DNS server address, defaults to the local stub resolver
//   - log: Structured logger for operational insights
func NewSRVSource(domain, basePath, proto, resolverAddr string, log *slog.Logger) (*SRVSource, error) {
	if domain == "" {
		return nil, fmt.Errorf("srv source requires a domain")
	}
	if proto == "" {
		proto = "https"
	}
	if proto != "http" && proto != "https" {
		return nil, fmt.Errorf("unsupported srv proto %q, expected http or https", proto)
	}
	if resolverAddr == "" {
		resolverAddr = defaultResolverAddr
	}
	basePath = strings.Trim(basePath, "/")

	return &SRVSource{
		domain:       domain,
		basePath:     basePath,
		proto:        proto,
		resolverAddr: resolverAddr,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:         log,
		locationURI: fmt.Sprintf("srv://%s/%s?proto=%s", domain, basePath, proto),
	}, nil
}

// resolveEndpoints queries the SRV record and returns host:port endpoints
// ordered by record priority.
func (b *SRVSource) resolveEndpoints() ([]string, error) {
	m1 := new(dns.Msg)
	m1.Id = dns.Id()
	m1.RecursionDesired = true
	m1.Question = make([]dns.Question, 1)
	m1.Question[0] = dns.Question{Name: dns.Fqdn(b.domain), Qtype: dns.TypeSRV, Qclass: dns.ClassINET}

	c := new(dns.Client)
	in, _, err := c.Exchange(m1, b.resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("srv lookup for %s failed: %w", b.domain, err)
	}

	var records []*dns.SRV
	for _, ans := range in.Answer {
		if srv, ok := ans.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no srv records for %s", b.domain)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	endpoints := make([]string, 0, len(records))
	for _, srv := range records {
		host := strings.TrimSuffix(srv.Target, ".")
		endpoints = append(endpoints, fmt.Sprintf("%s:%d", host, srv.Port))
	}

	return endpoints, nil
}

// Fetch resolves the SRV record and tries each endpoint in priority order
// until one returns the asset. Returns ErrAssetNotFound when an endpoint
// answers 404, ErrBackendUnavailable when none can be reached.
func (b *SRVSource) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	endpoints, err := b.resolveEndpoints()
	if err != nil {
		b.log.Warn("SRV resolution failed",
			slog.String("domain", b.domain),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	sawNotFound := false
	var lastErr error

	for _, endpoint := range endpoints {
		url := fmt.Sprintf("%s://%s/%s", b.proto, endpoint, name)
		if b.basePath != "" {
			url = fmt.Sprintf("%s://%s/%s/%s", b.proto, endpoint, b.basePath, name)
		}

		data, err := b.fetchURL(ctx, url)
		if err == nil {
			b.log.Debug("Fetched asset from SRV endpoint",
				slog.String("name", name.String()),
				slog.String("endpoint", endpoint),
				slog.Int("size", len(data)),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrAssetNotFound) {
			sawNotFound = true
			continue
		}

		b.log.Debug("SRV endpoint failed",
			slog.String("endpoint", endpoint),
			"err", err)
		lastErr = err
	}

	if sawNotFound {
		return nil, interfaces.ErrAssetNotFound
	}
	return nil, fmt.Errorf("%w: all %d srv endpoints failed, last error: %v",
		interfaces.ErrBackendUnavailable, len(endpoints), lastErr)
}

func (b *SRVSource) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, interfaces.ErrAssetNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// Store is not supported. SRV sources are read-only.
func (b *SRVSource) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	return fmt.Errorf("srv source is read-only, cannot store %s", name)
}

// Available checks that the SRV record resolves to at least one endpoint.
func (b *SRVSource) Available(ctx context.Context) bool {
	endpoints, err := b.resolveEndpoints()
	if err != nil {
		b.log.Debug("SRV source unavailable", "err", err)
		return false
	}
	return len(endpoints) > 0
}

// Name returns a unique identifier for this asset source.
func (b *SRVSource) Name() string {
	return fmt.Sprintf("srv-%s", b.domain)
}

// LocationURI returns the URI that identifies this asset source.
func (b *SRVSource) LocationURI() string {
	return b.locationURI
}
