package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

func TestHTTPSourceFetch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payload := []byte(`{"version":3}`)

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/configs/security_config.json":
			w.Write(payload)
		case "/configs/broken.json":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL+"/configs/", "fleet-token", logger)
	ctx := context.Background()

	data, err := source.Fetch(ctx, testAssetName(t))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "Bearer fleet-token", gotAuth, "auth token should be sent as bearer")

	missing, err := interfaces.NewAssetName("missing.json")
	require.NoError(t, err)
	_, err = source.Fetch(ctx, missing)
	assert.ErrorIs(t, err, interfaces.ErrAssetNotFound)

	broken, err := interfaces.NewAssetName("broken.json")
	require.NoError(t, err)
	_, err = source.Fetch(ctx, broken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrAssetNotFound, "server errors are not missing assets")
}

func TestHTTPSourceIsReadOnly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := NewHTTPSource("https://cdn.example.com/configs", "", logger)

	err := source.Store(context.Background(), testAssetName(t), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestHTTPSourceAvailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A 404 on the base URL still means the server is reachable
		w.WriteHeader(http.StatusNotFound)
	}))
	source := NewHTTPSource(server.URL, "", logger)
	assert.True(t, source.Available(context.Background()))

	server.Close()
	assert.False(t, source.Available(context.Background()), "closed server should be unavailable")
}
