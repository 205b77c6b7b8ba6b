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
	minPersonas = 1
	maxPersonas = 5
)

// PersonaGenerator asks the model for synthetic customer profiles grounded in
// the website analysis and shapes them into a persisted bundle.
type PersonaGenerator struct {
	generator JSONGenerator
	logger    *zap.Logger
}

func NewPersonaGenerator(generator JSONGenerator, logger *zap.Logger) *PersonaGenerator {
	return &PersonaGenerator{
		generator: generator,
		logger:    logger,
	}
}

type personaWire struct {
	Name       string `json:"name"`
	Age        string `json:"age"`
	Occupation string `json:"occupation"`
	Location   struct {
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
	} `json:"location"`
	Goals      []string `json:"goals"`
	PainPoints []string `json:"painPoints"`
	Behavior   string   `json:"behavior"`
	Quote      string   `json:"quote"`
}

// Generate produces count personas for the analyzed website. Count is clamped
// to [1, 5]. Each persona gets a fresh UUID; the bundle id is assigned at
// save time.
func (g *PersonaGenerator) Generate(ctx context.Context, analysis *domain.WebsiteAnalysis, count int) (*domain.PersonaSet, error) {
	if analysis == nil || (analysis.Analysis == "" && analysis.BrandSummary == "") {
		return nil, apperrors.NewGenerateError("website analysis is required", "personas", nil)
	}
	if count < minPersonas {
		count = minPersonas
	}
	if count > maxPersonas {
		count = maxPersonas
	}

	description := analysis.BrandSummary
	if description == "" {
		description = analysis.Analysis
	}

	prompt := fmt.Sprintf(`Based on this business description, generate %d detailed, realistic customer personas:

Business: %s
Description: %s

For each persona, create:
1. Name (realistic first name only)
2. Age range (e.g., "25-34")
3. Occupation (specific job title)
4. Location (city, region, country)
5. Goals (2-3 specific goals related to this business)
6. Pain Points (2-3 challenges this business solves)
7. Behavior (how they would use this product/service)
8. Quote (one sentence in first person expressing their need)

Return ONLY valid JSON in this exact format (no extra text):
[
  {
    "name": "string",
    "age": "string",
    "occupation": "string",
    "location": {"city": "string", "region": "string", "country": "string"},
    "goals": ["string", "string"],
    "painPoints": ["string", "string"],
    "behavior": "string",
    "quote": "string"
  }
]

Make personas diverse, realistic, and specific to this business.`, count, analysis.Title, description)

	var wire []personaWire
	metadata, err := g.generator.GenerateJSON(ctx, prompt, PresetCreative, &wire, nil)
	if err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return nil, apperrors.NewGenerateError("model returned no personas", "personas", nil)
	}

	personas := make([]domain.Persona, 0, len(wire))
	for _, w := range wire {
		if w.Name == "" || w.Occupation == "" {
			g.logger.Warn("dropping incomplete persona", zap.String("name", w.Name))
			continue
		}
		personas = append(personas, domain.Persona{
			ID:         uuid.NewString(),
			Name:       w.Name,
			AgeRange:   w.Age,
			Occupation: w.Occupation,
			Location: domain.Location{
				City:    w.Location.City,
				Region:  w.Location.Region,
				Country: w.Location.Country,
			},
			Goals:      w.Goals,
			PainPoints: w.PainPoints,
			Behavior:   w.Behavior,
			Quote:      w.Quote,
		})
	}
	if len(personas) == 0 {
		return nil, apperrors.NewGenerateError("all generated personas were incomplete", "personas", nil)
	}

	g.logger.Info("personas generated",
		zap.String("website", analysis.URL),
		zap.Int("requested", count),
		zap.Int("usable", len(personas)),
		zap.String("provider", metadata.Provider))

	return &domain.PersonaSet{
		WebsiteURL:   analysis.URL,
		WebsiteTitle: analysis.Title,
		Personas:     personas,
	}, nil
}
