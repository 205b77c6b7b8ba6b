package generate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/domain"
	apperrors "github.com/bamarler/geo-optimizer/pkg/errors"
)

const (
	minPrompts = 1
	maxPrompts = 10
)

// PromptGenerator asks the model for problem-focused search queries. The
// brand name is deliberately excluded: the study measures whether the brand
// surfaces on its own.
type PromptGenerator struct {
	generator JSONGenerator
	logger    *zap.Logger
}

func NewPromptGenerator(generator JSONGenerator, logger *zap.Logger) *PromptGenerator {
	return &PromptGenerator{
		generator: generator,
		logger:    logger,
	}
}

type promptWire struct {
	Prompt   string `json:"prompt"`
	Category string `json:"category"`
	Intent   string `json:"intent"`
}

// Generate produces count test prompts for the analyzed website, clamped to
// [1, 10]. Prompts with an unknown category fall back to informational.
func (g *PromptGenerator) Generate(ctx context.Context, analysis *domain.WebsiteAnalysis, count int) (*domain.PromptSet, error) {
	if analysis == nil || (analysis.Analysis == "" && analysis.BrandSummary == "") {
		return nil, apperrors.NewGenerateError("website analysis is required", "prompts", nil)
	}
	if count < minPrompts {
		count = minPrompts
	}
	if count > maxPrompts {
		count = maxPrompts
	}

	description := analysis.BrandSummary
	if description == "" {
		description = analysis.Analysis
	}

	prompt := fmt.Sprintf(`Based on this business description, generate %d realistic search queries that people would use when looking for a SOLUTION to their problem - NOT when searching for this specific brand.

Business: %s
Description: %s

IMPORTANT: Generate queries about the PROBLEM/NEED this business solves, NOT about the brand itself.

Examples:
- If the business is "Tinder" (dating app), generate: "What are good online dating platforms?" or "How can I meet new people?"
- If the business is "Stripe" (payments), generate: "How do I accept credit cards on my website?" or "Best payment processing for small business"
- If the business is "Notion" (productivity), generate: "What's a good tool for team collaboration?" or "How to organize project notes?"

Generate %d diverse prompts that:
1. Focus on the USER'S PROBLEM or NEED (not the brand name)
2. Represent different search intents (informational, transactional, comparison)
3. Vary in specificity (broad problems and specific use cases)
4. Sound like natural questions a potential customer would ask
5. Should trigger the brand to appear in AI responses if the brand is well-optimized

DO NOT mention the brand name "%s" in the prompts.

Return ONLY valid JSON in this exact format (no extra text):
[
  {
    "prompt": "The actual query or question about the problem/need",
    "category": "informational|transactional|comparison",
    "intent": "What problem the user is trying to solve"
  }
]

Make prompts realistic and problem-focused.`, count, analysis.Title, description, count, analysis.Title)

	var wire []promptWire
	metadata, err := g.generator.GenerateJSON(ctx, prompt, PresetCreative, &wire, nil)
	if err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return nil, apperrors.NewGenerateError("model returned no prompts", "prompts", nil)
	}

	prompts := make([]domain.Prompt, 0, len(wire))
	for _, w := range wire {
		if w.Prompt == "" {
			continue
		}
		category := domain.PromptCategory(w.Category)
		if !category.IsValid() {
			g.logger.Warn("unknown prompt category, defaulting to informational",
				zap.String("category", w.Category))
			category = domain.CategoryInformational
		}
		prompts = append(prompts, domain.Prompt{
			ID:       uuid.NewString(),
			Text:     w.Prompt,
			Category: category,
			Intent:   w.Intent,
		})
	}
	if len(prompts) == 0 {
		return nil, apperrors.NewGenerateError("all generated prompts were empty", "prompts", nil)
	}

	g.logger.Info("prompts generated",
		zap.String("website", analysis.URL),
		zap.Int("requested", count),
		zap.Int("usable", len(prompts)),
		zap.String("provider", metadata.Provider))

	return &domain.PromptSet{
		WebsiteURL:   analysis.URL,
		WebsiteTitle: analysis.Title,
		Prompts:      prompts,
	}, nil
}
