package scraping

import (
	"strings"

	"github.com/sells-group/scraping-service/pkg/firecrawl"
)

// BlockType describes the kind of anti-bot page detected.
type BlockType string

// Block types reported by DetectBlock.
const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock reports whether an extracted page looks like an anti-bot
// interstitial rather than site content. Firecrawl returns success for
// these, so the result is still cached; the caller only logs and counts it.
func DetectBlock(page *firecrawl.PageData) BlockType {
	if page == nil {
		return BlockNone
	}

	body := page.Markdown
	if body == "" {
		body = page.HTML
	}
	lower := strings.ToLower(body)
	status := page.Metadata.StatusCode

	if (status == 403 || status == 503) && strings.Contains(lower, "cloudflare") {
		return BlockCloudflare
	}
	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return BlockCloudflare
	}

	if strings.Contains(lower, "captcha") {
		return BlockCaptcha
	}

	// A near-empty page asking for JavaScript.
	if len(body) < 500 && strings.Contains(lower, "enable javascript") {
		return BlockJSShell
	}

	return BlockNone
}
