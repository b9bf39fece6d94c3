// Package cost names the billable units this service consumes and estimates
// their dollar value from plan pricing.
package cost

// Cost names reported to the runs service.
const (
	FirecrawlScrapeCredit = "firecrawl-scrape-credit"
	FirecrawlMapCredit    = "firecrawl-map-credit"
)

// LineItem is one consumed cost unit.
type LineItem struct {
	Name     string
	Quantity int
}

// Scrape returns the line items for one successful page extraction.
func Scrape() []LineItem {
	return []LineItem{{Name: FirecrawlScrapeCredit, Quantity: 1}}
}

// Map returns the line items for one successful site map.
func Map() []LineItem {
	return []LineItem{{Name: FirecrawlMapCredit, Quantity: 1}}
}

// Rates holds per-provider pricing configuration.
type Rates struct {
	Firecrawl FirecrawlRate `yaml:"firecrawl" mapstructure:"firecrawl"`
}

// FirecrawlRate holds Firecrawl plan pricing.
type FirecrawlRate struct {
	PlanMonthly     float64 `yaml:"plan_monthly" mapstructure:"plan_monthly"`
	CreditsIncluded float64 `yaml:"credits_included" mapstructure:"credits_included"`
}

// Calculator estimates USD cost for consumed units.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// FirecrawlCredits returns the cost of n Firecrawl credits at the plan's
// effective per-credit price.
func (c *Calculator) FirecrawlCredits(n int) float64 {
	if c.rates.Firecrawl.CreditsIncluded <= 0 {
		return 0
	}
	return float64(n) * c.rates.Firecrawl.PlanMonthly / c.rates.Firecrawl.CreditsIncluded
}

// Estimate sums the USD cost of items. Unknown cost names are free.
func (c *Calculator) Estimate(items []LineItem) float64 {
	var total float64
	for _, it := range items {
		switch it.Name {
		case FirecrawlScrapeCredit, FirecrawlMapCredit:
			total += c.FirecrawlCredits(it.Quantity)
		}
	}
	return total
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Firecrawl: FirecrawlRate{PlanMonthly: 19.00, CreditsIncluded: 3000},
	}
}
