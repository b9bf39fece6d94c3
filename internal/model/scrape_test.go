package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheEntry_Fresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry *CacheEntry
		want  bool
	}{
		{"valid and unexpired", &CacheEntry{IsValid: true, ExpiresAt: now.Add(time.Hour)}, true},
		{"invalidated", &CacheEntry{IsValid: false, ExpiresAt: now.Add(time.Hour)}, false},
		{"expired", &CacheEntry{IsValid: true, ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", &CacheEntry{IsValid: true, ExpiresAt: now}, false},
		{"nil entry", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Fresh(now))
		})
	}
}

func TestRequestStatus_Terminal(t *testing.T) {
	assert.False(t, RequestStatusPending.Terminal())
	assert.False(t, RequestStatusProcessing.Terminal())
	assert.True(t, RequestStatusCompleted.Terminal())
	assert.True(t, RequestStatusFailed.Terminal())
}
