package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/internal/model"
	"github.com/sells-group/scraping-service/internal/scraping"
)

type scrapeRequest struct {
	URL           string               `json:"url"`
	OrgID         string               `json:"orgId"`
	SourceOrgID   string               `json:"sourceOrgId"`
	SourceService string               `json:"sourceService"`
	SourceRefID   string               `json:"sourceRefId"`
	SkipCache     bool                 `json:"skipCache"`
	Options       *model.ScrapeOptions `json:"options"`
	KeySource     string               `json:"keySource"`
	runFields
}

type mapRequest struct {
	URL               string `json:"url"`
	OrgID             string `json:"orgId"`
	SourceOrgID       string `json:"sourceOrgId"`
	Search            string `json:"search"`
	Limit             int    `json:"limit"`
	IgnoreSitemap     *bool  `json:"ignoreSitemap"`
	SitemapOnly       *bool  `json:"sitemapOnly"`
	IncludeSubdomains bool   `json:"includeSubdomains"`
	KeySource         string `json:"keySource"`
	runFields
}

// runFields accepts both current and legacy names for the run context.
type runFields struct {
	AppID        string `json:"appId"`
	BrandID      string `json:"brandId"`
	CampaignID   string `json:"campaignId"`
	UserID       string `json:"userId"`
	ClerkUserID  string `json:"clerkUserId"`
	ParentRunID  string `json:"parentRunId"`
	WorkflowName string `json:"workflowName"`
}

func (f runFields) toRunContext() scraping.RunContext {
	return scraping.RunContext{
		AppID:        f.AppID,
		BrandID:      f.BrandID,
		CampaignID:   f.CampaignID,
		UserID:       firstOf(f.UserID, f.ClerkUserID),
		ParentRunID:  f.ParentRunID,
		WorkflowName: f.WorkflowName,
	}
}

// resultView is the public shape of a stored result.
type resultView struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	CompanyName   *string   `json:"companyName"`
	Description   *string   `json:"description"`
	Industry      *string   `json:"industry"`
	EmployeeCount *string   `json:"employeeCount"`
	FoundedYear   *int      `json:"foundedYear"`
	Headquarters  *string   `json:"headquarters"`
	Website       *string   `json:"website"`
	Email         *string   `json:"email"`
	Phone         *string   `json:"phone"`
	LinkedInURL   *string   `json:"linkedinUrl"`
	TwitterURL    *string   `json:"twitterUrl"`
	Products      []string  `json:"products"`
	Services      []string  `json:"services"`
	RawMarkdown   *string   `json:"rawMarkdown"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newResultView(r *model.ScrapeResult) *resultView {
	if r == nil {
		return nil
	}
	return &resultView{
		ID:            r.ID,
		URL:           r.URL,
		CompanyName:   r.CompanyName,
		Description:   r.Description,
		Industry:      r.Industry,
		EmployeeCount: r.EmployeeCount,
		FoundedYear:   r.FoundedYear,
		Headquarters:  r.Headquarters,
		Website:       r.Website,
		Email:         r.Email,
		Phone:         r.Phone,
		LinkedInURL:   r.LinkedInURL,
		TwitterURL:    r.TwitterURL,
		Products:      r.Products,
		Services:      r.Services,
		RawMarkdown:   r.RawMarkdown,
		CreatedAt:     r.CreatedAt,
	}
}

type scrapeResponse struct {
	Cached    bool        `json:"cached"`
	RequestID string      `json:"requestId,omitempty"`
	RunID     string      `json:"runId,omitempty"`
	Result    *resultView `json:"result"`
}

type byURLResponse struct {
	Cached  bool        `json:"cached"`
	Expired bool        `json:"expired"`
	Result  *resultView `json:"result"`
}

type mapResponse struct {
	Success bool     `json:"success"`
	URLs    []string `json:"urls"`
	Count   int      `json:"count"`
	RunID   string   `json:"runId,omitempty"`
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := scraping.ScrapeInput{
		URL:           req.URL,
		OrgID:         firstOf(req.OrgID, req.SourceOrgID),
		SourceService: firstOf(req.SourceService, sourceServiceFrom(r.Context())),
		SourceRefID:   req.SourceRefID,
		SkipCache:     req.SkipCache,
		Options:       req.Options,
		KeySource:     req.KeySource,
		RunContext:    req.toRunContext(),
	}

	out, err := s.svc.Scrape(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		Cached:    out.Cached,
		RequestID: out.RequestID,
		RunID:     out.RunID,
		Result:    newResultView(out.Result),
	})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": newResultView(out.Result)})
}

func (s *Server) scrapeByURL(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.GetByURL(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, byURLResponse{
		Cached:  true,
		Expired: out.Expired,
		Result:  newResultView(out.Result),
	})
}

func (s *Server) mapSite(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := s.svc.Map(r.Context(), scraping.MapInput{
		URL:               req.URL,
		OrgID:             firstOf(req.OrgID, req.SourceOrgID),
		Search:            req.Search,
		Limit:             req.Limit,
		IgnoreSitemap:     req.IgnoreSitemap,
		SitemapOnly:       req.SitemapOnly,
		IncludeSubdomains: req.IncludeSubdomains,
		KeySource:         req.KeySource,
		RunContext:        req.toRunContext(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapResponse{
		Success: true,
		URLs:    out.URLs,
		Count:   out.Count,
		RunID:   out.RunID,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return false
	}
	return true
}

type errorResponse struct {
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
	RunID     string `json:"runId,omitempty"`
}

// writeServiceError maps a scraping error to a status and JSON body.
// Internal errors never leak their cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := scraping.KindOf(err)
	body := errorResponse{Error: "Internal server error"}

	var se *scraping.Error
	if errors.As(err, &se) {
		body.RequestID = se.RequestID
		body.RunID = se.RunID
		if kind != scraping.KindInternal {
			body.Error = se.Message
		}
	}
	if r.URL.Path == "/map" {
		f := false
		body.Success = &f
	}

	if kind == scraping.KindInternal {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, kind.HTTPStatus(), body)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
