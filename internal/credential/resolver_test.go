package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraping-service/pkg/keyservice"
)

func newVault(t *testing.T, handler http.HandlerFunc) (*Resolver, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewResolver(keyservice.NewClient(srv.URL, "ks-key")), &calls
}

func okKey(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"provider":"firecrawl","key":"` + key + `"}`))
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		kind    string
		want    Source
		wantErr bool
	}{
		{"", BYOK{OrgID: "org_1"}, false},
		{"byok", BYOK{OrgID: "org_1"}, false},
		{"app", App{AppID: "app_1"}, false},
		{"platform", Platform{}, false},
		{"team", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := ParseSource(tt.kind, "org_1", "app_1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_BYOK(t *testing.T) {
	r, calls := newVault(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/internal/keys/firecrawl/decrypt", req.URL.Path)
		assert.Equal(t, "org_1", req.URL.Query().Get("orgId"))
		assert.Equal(t, "POST", req.Header.Get("x-caller-method"))
		assert.Equal(t, "/scrape", req.Header.Get("x-caller-path"))
		okKey("fc-org")(w, req)
	})

	key, err := r.Resolve(context.Background(), "firecrawl", BYOK{OrgID: "org_1"}, Caller{Method: "POST", Path: "/scrape"})
	require.NoError(t, err)
	assert.Equal(t, "fc-org", key)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_App(t *testing.T) {
	r, _ := newVault(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/internal/app-keys/firecrawl/decrypt", req.URL.Path)
		assert.Equal(t, "mcpfactory", req.URL.Query().Get("appId"))
		okKey("fc-app")(w, req)
	})

	key, err := r.Resolve(context.Background(), "firecrawl", App{AppID: "mcpfactory"}, Caller{Method: "POST", Path: "/map"})
	require.NoError(t, err)
	assert.Equal(t, "fc-app", key)
}

func TestResolve_PlatformNeedsNoIDs(t *testing.T) {
	r, calls := newVault(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/internal/platform-keys/firecrawl/decrypt", req.URL.Path)
		assert.Empty(t, req.URL.RawQuery)
		okKey("fc-platform")(w, req)
	})

	src, err := ParseSource("platform", "", "")
	require.NoError(t, err)
	key, err := r.Resolve(context.Background(), "firecrawl", src, Caller{Method: "POST", Path: "/scrape"})
	require.NoError(t, err)
	assert.Equal(t, "fc-platform", key)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_MissingParameterFailsLocally(t *testing.T) {
	tests := []struct {
		name   string
		source Source
	}{
		{"app without appId", App{}},
		{"byok without orgId", BYOK{}},
		{"nil source", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, calls := newVault(t, okKey("never"))

			_, err := r.Resolve(context.Background(), "firecrawl", tt.source, Caller{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingParameter))
			assert.Equal(t, int32(0), calls.Load(), "no vault call for a local precondition failure")
		})
	}
}

func TestResolve_VaultErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found maps to not configured", http.StatusNotFound, ErrNotConfigured},
		{"server error maps to unavailable", http.StatusInternalServerError, ErrServiceUnavailable},
		{"unauthorized maps to unavailable", http.StatusUnauthorized, ErrServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newVault(t, func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("nope"))
			})

			_, err := r.Resolve(context.Background(), "firecrawl", BYOK{OrgID: "org_1"}, Caller{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestResolve_TransportError(t *testing.T) {
	r := NewResolver(keyservice.NewClient("http://127.0.0.1:1", "k"))

	_, err := r.Resolve(context.Background(), "firecrawl", Platform{}, Caller{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
}
