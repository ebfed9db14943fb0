package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// HTTPSource fetches named assets from an HTTP(S) endpoint, typically a CDN
// or a plain file server that publishes signed configuration. The source is
// read-only; publishing happens through a writable source or out of band.
type HTTPSource struct {
	client      *http.Client
	baseURL     string
	authToken   string
	log         *slog.Logger
	locationURI string
}

// NewHTTPSource creates an HTTP source rooted at baseURL. authToken, when
// non-empty, is sent as a bearer token on every request.
func NewHTTPSource(baseURL, authToken string, log *slog.Logger) *HTTPSource {
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &HTTPSource{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     baseURL,
		authToken:   authToken,
		log:         log,
		locationURI: baseURL,
	}
}

// Fetch downloads the named asset from baseURL/name. Returns
// ErrAssetNotFound on a 404 response.
func (s *HTTPSource) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s", s.baseURL, name.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, interfaces.ErrAssetNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching asset: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	s.log.Debug("Fetched asset over HTTP",
		slog.String("url", url),
		slog.Int("size", len(data)))

	return data, nil
}

// Store is not supported. HTTP sources are read-only.
func (s *HTTPSource) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	return fmt.Errorf("http source is read-only, cannot store %s", name)
}

// Available checks the endpoint responds. Any status below 500 counts as
// available since the base URL itself may not serve content.
func (s *HTTPSource) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL, nil)
	if err != nil {
		return false
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("HTTP source unavailable", "err", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

// Name returns a unique identifier for this source.
func (s *HTTPSource) Name() string {
	return fmt.Sprintf("http-%s", s.baseURL)
}

// LocationURI returns the URI that identifies this source.
func (s *HTTPSource) LocationURI() string {
	return s.locationURI
}
