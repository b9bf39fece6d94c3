package model

import (
	"encoding/json"
	"time"
)

// RequestStatus represents the lifecycle state of a scrape request.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// ScrapeOptions are the extraction options forwarded to the provider.
type ScrapeOptions struct {
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent *bool    `json:"onlyMainContent,omitempty"`
	IncludeTags     []string `json:"includeTags,omitempty"`
	ExcludeTags     []string `json:"excludeTags,omitempty"`
	WaitFor         int      `json:"waitFor,omitempty"` // milliseconds
}

// ScrapeRequest is the audit record of one attempted extraction.
type ScrapeRequest struct {
	ID            string         `json:"id"`
	SourceService string         `json:"sourceService"`
	OrgID         string         `json:"orgId"`
	SourceRefID   string         `json:"sourceRefId,omitempty"`
	RunID         string         `json:"runId,omitempty"`
	URL           string         `json:"url"`
	Options       *ScrapeOptions `json:"options,omitempty"`
	Status        RequestStatus  `json:"status"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// ScrapeResult is the durable extraction output for a normalized URL.
// At most one row exists per NormalizedURL.
type ScrapeResult struct {
	ID            string          `json:"id"`
	RequestID     *string         `json:"requestId"`
	URL           string          `json:"url"`
	NormalizedURL string          `json:"normalizedUrl"`
	CompanyName   *string         `json:"companyName"`
	Description   *string         `json:"description"`
	Industry      *string         `json:"industry"`
	EmployeeCount *string         `json:"employeeCount"`
	FoundedYear   *int            `json:"foundedYear"`
	Headquarters  *string         `json:"headquarters"`
	Website       *string         `json:"website"`
	Email         *string         `json:"email"`
	Phone         *string         `json:"phone"`
	LinkedInURL   *string         `json:"linkedinUrl"`
	TwitterURL    *string         `json:"twitterUrl"`
	Products      []string        `json:"products"`
	Services      []string        `json:"services"`
	RawMarkdown   *string         `json:"rawMarkdown"`
	RawMetadata   json.RawMessage `json:"rawMetadata,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// CacheEntry points a normalized URL at its current ScrapeResult.
type CacheEntry struct {
	ID            string    `json:"id"`
	NormalizedURL string    `json:"normalizedUrl"`
	ResultID      string    `json:"resultId"`
	CompanyName   *string   `json:"companyName"`
	Industry      *string   `json:"industry"`
	IsValid       bool      `json:"isValid"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Fresh reports whether the entry may be served as a cache hit at now.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return e != nil && e.IsValid && e.ExpiresAt.After(now)
}
