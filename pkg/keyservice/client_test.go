package keyservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "ks-secret")
}

func TestDecrypt_Scopes(t *testing.T) {
	tests := []struct {
		name      string
		lookup    Lookup
		wantPath  string
		wantQuery string
	}{
		{
			name:      "org",
			lookup:    Lookup{Provider: "firecrawl", Scope: ScopeOrg, OrgID: "org_abc"},
			wantPath:  "/internal/keys/firecrawl/decrypt",
			wantQuery: "orgId=org_abc",
		},
		{
			name:      "app",
			lookup:    Lookup{Provider: "firecrawl", Scope: ScopeApp, AppID: "mcpfactory"},
			wantPath:  "/internal/app-keys/firecrawl/decrypt",
			wantQuery: "appId=mcpfactory",
		},
		{
			name:     "platform",
			lookup:   Lookup{Provider: "firecrawl", Scope: ScopePlatform},
			wantPath: "/internal/platform-keys/firecrawl/decrypt",
		},
		{
			name:      "org id is escaped",
			lookup:    Lookup{Provider: "firecrawl", Scope: ScopeOrg, OrgID: "org a&b"},
			wantPath:  "/internal/keys/firecrawl/decrypt",
			wantQuery: "orgId=org+a%26b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				assert.Equal(t, "ks-secret", r.Header.Get("x-api-key"))
				assert.Equal(t, "scraping-service", r.Header.Get("x-caller-service"))
				assert.Equal(t, "POST", r.Header.Get("x-caller-method"))
				assert.Equal(t, "/scrape", r.Header.Get("x-caller-path"))
				json.NewEncoder(w).Encode(DecryptedKey{Provider: "firecrawl", Key: "fc-key-123"})
			})

			key, err := c.Decrypt(context.Background(), tt.lookup, Caller{Method: "POST", Path: "/scrape"})
			require.NoError(t, err)
			assert.Equal(t, "fc-key-123", key.Key)
			assert.Equal(t, "firecrawl", key.Provider)
		})
	}
}

func TestDecrypt_NonOK(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusUnauthorized} {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("Key not configured"))
		})

		_, err := c.Decrypt(context.Background(), Lookup{Provider: "firecrawl", Scope: ScopeOrg, OrgID: "o"}, Caller{Method: "POST", Path: "/map"})
		require.Error(t, err)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, status, apiErr.StatusCode)
		assert.Contains(t, apiErr.Error(), "Key not configured")
	}
}

func TestDecrypt_EmptyKey(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"provider":"firecrawl","key":""}`))
	})

	_, err := c.Decrypt(context.Background(), Lookup{Provider: "firecrawl", Scope: ScopePlatform}, Caller{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty key")
}

func TestDecrypt_UnknownScope(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "k")
	_, err := c.Decrypt(context.Background(), Lookup{Provider: "firecrawl", Scope: "team"}, Caller{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scope")
}

func TestDecrypt_NoBaseURL(t *testing.T) {
	c := NewClient("", "k")
	_, err := c.Decrypt(context.Background(), Lookup{Provider: "firecrawl", Scope: ScopePlatform}, Caller{})
	require.Error(t, err)
}
