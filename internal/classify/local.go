package classify

import (
	"context"
	"sort"
	"strings"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// Default confidence levels for the keyword fallback. A keyword hit is strong
// evidence, a clean pass over a short extract is weaker.
const (
	localViolationConfidence = 0.8
	localCompliantConfidence = 0.6
)

// defaultTaxonomy maps violation categories to the keyword lists the local
// fallback scans for. The first keyword matched in a category decides that
// category.
func defaultTaxonomy() map[string][]string {
	return map[string][]string{
		"gambling": {
			"casino", "betting", "poker", "slot machine", "jackpot",
			"sportsbook", "roulette", "blackjack", "wager",
		},
		"adult": {
			"porn", "xxx", "adult content", "explicit", "nsfw",
			"webcam girls", "escort service",
		},
		"violence": {
			"gore", "beheading", "graphic violence", "torture",
			"mutilation",
		},
		"drugs": {
			"buy cocaine", "buy heroin", "meth for sale", "drug marketplace",
			"narcotics", "mdma", "illegal drugs",
		},
		"political": {
			"extremist", "radicalization", "militia recruitment",
			"insurgent", "terrorist propaganda",
		},
	}
}

// categoryOrder keeps local verdicts deterministic regardless of map
// iteration order.
var categoryOrder = []string{"gambling", "adult", "violence", "drugs", "political"}

// LocalProvider is the terminal entry in the provider chain. It scans text
// for a keyword taxonomy and never returns an error, so a scan always ends
// with some verdict even when every remote provider is down.
type LocalProvider struct {
	taxonomy map[string][]string
}

// NewLocalProvider builds the keyword fallback. A nil or empty taxonomy
// selects the built-in category lists.
func NewLocalProvider(taxonomy map[string][]string) *LocalProvider {
	if len(taxonomy) == 0 {
		taxonomy = defaultTaxonomy()
	}
	normalized := make(map[string][]string, len(taxonomy))
	for category, keywords := range taxonomy {
		kept := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kept = append(kept, kw)
			}
		}
		normalized[strings.ToLower(category)] = kept
	}
	return &LocalProvider{taxonomy: normalized}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Method() scanner.DetectionMethod { return scanner.MethodLocalHeuristic }

// Classify scans the text for each category and records at most one
// violation per category, the first keyword that matched. Image references
// carry no scannable text, so they pass as compliant with the baseline
// confidence.
func (p *LocalProvider) Classify(_ context.Context, content scanner.Content) (scanner.ProviderVerdict, error) {
	if content.Text == "" {
		return scanner.ProviderVerdict{
			Compliant:  true,
			Confidence: localCompliantConfidence,
		}, nil
	}

	lower := strings.ToLower(content.Text)
	var violations []scanner.Violation
	for _, category := range p.categories() {
		for _, kw := range p.taxonomy[category] {
			if strings.Contains(lower, kw) {
				violations = append(violations, scanner.Violation{
					Type:       category,
					Keyword:    kw,
					Confidence: localViolationConfidence,
				})
				break
			}
		}
	}

	if len(violations) > 0 {
		return scanner.ProviderVerdict{
			Compliant:  false,
			Violations: violations,
			Confidence: localViolationConfidence,
		}, nil
	}
	return scanner.ProviderVerdict{
		Compliant:  true,
		Confidence: localCompliantConfidence,
	}, nil
}

func (p *LocalProvider) categories() []string {
	known := make([]string, 0, len(p.taxonomy))
	for _, category := range categoryOrder {
		if _, ok := p.taxonomy[category]; ok {
			known = append(known, category)
		}
	}
	var extra []string
	for category := range p.taxonomy {
		if !containsString(known, category) {
			extra = append(extra, category)
		}
	}
	sort.Strings(extra)
	return append(known, extra...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
