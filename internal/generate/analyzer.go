package generate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/cache"
	"github.com/bamarler/geo-optimizer/internal/domain"
	apperrors "github.com/bamarler/geo-optimizer/pkg/errors"
)

const analyzerTimeout = 15 * time.Second

// WebsiteAnalyzer profiles the site under test: page metadata comes from a
// direct fetch, the business description and brand summary from the model.
// Analyses are cached by URL since they are the most expensive input to
// regenerate.
type WebsiteAnalyzer struct {
	httpClient *http.Client
	generator  JSONGenerator
	cache      *cache.CacheService
	logger     *zap.Logger
}

func NewWebsiteAnalyzer(generator JSONGenerator, cacheService *cache.CacheService, logger *zap.Logger) *WebsiteAnalyzer {
	return &WebsiteAnalyzer{
		httpClient: &http.Client{
			Timeout: analyzerTimeout,
		},
		generator: generator,
		cache:     cacheService,
		logger:    logger,
	}
}

type analysisResponse struct {
	Analysis     string `json:"analysis"`
	BrandSummary string `json:"brand_summary"`
}

// Analyze returns the website profile for url, from cache when possible.
func (a *WebsiteAnalyzer) Analyze(ctx context.Context, url string) (*domain.WebsiteAnalysis, error) {
	if a.cache != nil {
		if cached, hit := a.cache.GetWebsiteAnalysis(ctx, url); hit {
			a.logger.Debug("website analysis cache hit", zap.String("url", url))
			return cached, nil
		}
	}

	title, description := a.fetchMetadata(ctx, url)
	if title == "" {
		title = titleFromURL(url)
	}

	prompt := fmt.Sprintf(`Analyze the website %s and provide a comprehensive description including:

1. What the business/website is about
2. Main products or services offered
3. Target audience and customer segments
4. Key value propositions
5. Industry and market position
6. Any unique features or differentiators

Site title: %s
Site description: %s

Return ONLY valid JSON in this exact format (no extra text):
{
  "analysis": "the detailed structured analysis",
  "brand_summary": "a single concise paragraph (3-4 sentences) describing what this business is and who it serves"
}`, url, title, description)

	var resp analysisResponse
	metadata, err := a.generator.GenerateJSON(ctx, prompt, PresetPrecise, &resp, nil)
	if err != nil {
		return nil, apperrors.NewGenerateError("website analysis failed", "analyzer", err)
	}

	analysis := &domain.WebsiteAnalysis{
		URL:          url,
		Title:        title,
		Description:  description,
		Analysis:     resp.Analysis,
		BrandSummary: resp.BrandSummary,
		FetchedAt:    time.Now().UTC(),
	}

	a.logger.Info("website analyzed",
		zap.String("url", url),
		zap.String("title", title),
		zap.String("provider", metadata.Provider),
		zap.Bool("used_fallback", metadata.UsedFallback))

	if a.cache != nil {
		a.cache.SetWebsiteAnalysis(ctx, analysis)
	}
	return analysis, nil
}

// fetchMetadata pulls the page title and meta description. Fetch failures are
// not fatal: the model analysis can work from the URL alone.
func (a *WebsiteAnalyzer) fetchMetadata(ctx context.Context, url string) (title, description string) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		a.logger.Warn("invalid website URL", zap.String("url", url), zap.Error(err))
		return "", ""
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; GeoOptimizer/1.0)")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("website fetch failed", zap.String("url", url), zap.Error(err))
		return "", ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		a.logger.Warn("website fetch returned non-200",
			zap.String("url", url), zap.Int("status", resp.StatusCode))
		return "", ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		a.logger.Warn("website parse failed", zap.String("url", url), zap.Error(err))
		return "", ""
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if meta, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		description = strings.TrimSpace(meta)
	}
	if description == "" {
		if meta, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
			description = strings.TrimSpace(meta)
		}
	}
	return title, description
}

// titleFromURL falls back to the bare host when the page exposes no title.
func titleFromURL(url string) string {
	title := strings.TrimPrefix(url, "https://")
	title = strings.TrimPrefix(title, "http://")
	if idx := strings.Index(title, "/"); idx >= 0 {
		title = title[:idx]
	}
	return title
}
