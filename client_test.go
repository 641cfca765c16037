package holdfast_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grafana/holdfast"
	"github.com/grafana/holdfast/storage"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseURL string
		options []holdfast.Option
		wantErr string
	}{
		{
			name:    "empty base URL",
			baseURL: "",
			wantErr: "base URL cannot be empty",
		},
		{
			name:    "unsupported scheme",
			baseURL: "ftp://api.example.com",
			wantErr: "only HTTP and HTTPS URLs are supported",
		},
		{
			name:    "nil storage",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithStorage(nil)},
			wantErr: "store cannot be nil",
		},
		{
			name:    "nil logger",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithLogger(nil)},
			wantErr: "logger cannot be nil",
		},
		{
			name:    "nil http client",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithHTTPClient(nil)},
			wantErr: "httpClient is nil",
		},
		{
			name:    "zero timeout",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithTimeout(0)},
			wantErr: "timeout must be positive",
		},
		{
			name:    "empty health path",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithHealthPath("")},
			wantErr: "health path cannot be empty",
		},
		{
			name:    "zero probe interval",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithProbeInterval(0)},
			wantErr: "probe interval must be positive",
		},
		{
			name:    "zero inline retries",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithInlineRetries(0)},
			wantErr: "inline retries must be at least 1",
		},
		{
			name:    "nil token provider",
			baseURL: "https://api.example.com",
			options: []holdfast.Option{holdfast.WithTokenAuth(nil, nil)},
			wantErr: "token provider cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := holdfast.New(tt.baseURL, tt.options...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
			require.Nil(t, client)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := holdfast.New(srv.URL, nil) // nil options are skipped
	require.NoError(t, err)
	defer client.Close()

	require.NotNil(t, client.Notifications())
	require.NotNil(t, client.Connectivity())
	require.NotNil(t, client.Queue())
	require.True(t, client.Connectivity().Online())
}

func TestClient_CachePassthroughs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":1}}`))
	}))
	defer srv.Close()

	client, err := holdfast.New(srv.URL,
		holdfast.WithStorage(storage.NewMemory()),
		holdfast.WithProbeInterval(time.Hour))
	require.NoError(t, err)
	defer client.Close()

	resp := client.Get(context.Background(), "/things/1", &holdfast.RequestOptions{CacheKey: "thing-1"})
	require.True(t, resp.Success)

	require.True(t, client.HasCachedData("thing-1"))
	data, ok := client.GetCachedData("thing-1")
	require.True(t, ok)
	require.JSONEq(t, `{"id":1}`, string(data))

	client.ClearCache()
	require.False(t, client.HasCachedData("thing-1"))
}
