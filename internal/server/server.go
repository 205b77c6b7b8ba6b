// Package server exposes the HTTP API: website analysis, persona and prompt
// generation, run control, and result retrieval, plus a websocket progress
// feed.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/domain"
)

// WebsiteAnalyzer resolves a URL to its analysis profile.
type WebsiteAnalyzer interface {
	Analyze(ctx context.Context, url string) (*domain.WebsiteAnalysis, error)
}

// PersonaSource generates a persona bundle from an analysis.
type PersonaSource interface {
	Generate(ctx context.Context, analysis *domain.WebsiteAnalysis, count int) (*domain.PersonaSet, error)
}

// PromptSource generates a prompt bundle from an analysis.
type PromptSource interface {
	Generate(ctx context.Context, analysis *domain.WebsiteAnalysis, count int) (*domain.PromptSet, error)
}

// BundleStore persists and resolves persona/prompt bundles.
type BundleStore interface {
	SavePersonaSet(ctx context.Context, set *domain.PersonaSet) (string, error)
	GetPersonaSet(ctx context.Context, id string) (*domain.PersonaSet, error)
	ListPersonaSets(ctx context.Context) ([]*domain.PersonaSet, error)
	SavePromptSet(ctx context.Context, set *domain.PromptSet) (string, error)
	GetPromptSet(ctx context.Context, id string) (*domain.PromptSet, error)
	ListPromptSets(ctx context.Context) ([]*domain.PromptSet, error)
}

// ResultReader reads persisted run output.
type ResultReader interface {
	FindByRunID(ctx context.Context, runID string) ([]*domain.TestResult, error)
	AggregateStats(ctx context.Context, filter map[string]any) (*domain.AggregateStats, error)
}

// StatsCache holds aggregate stats between polls. May be nil.
type StatsCache interface {
	GetRunStats(ctx context.Context, runID string) (*domain.AggregateStats, bool)
	SetRunStats(ctx context.Context, runID string, stats *domain.AggregateStats)
}

type Server struct {
	cfg      config.ServerConfig
	defaults config.GenerationConfig
	analyzer WebsiteAnalyzer
	personas PersonaSource
	prompts  PromptSource
	bundles  BundleStore
	results  ResultReader
	stats    StatsCache
	runs     *RunCoordinator
	hub      *Hub
	engine   *gin.Engine
	logger   *zap.Logger
}

type Deps struct {
	Analyzer WebsiteAnalyzer
	Personas PersonaSource
	Prompts  PromptSource
	Bundles  BundleStore
	Results  ResultReader
	Stats    StatsCache
	Runs     *RunCoordinator
	Hub      *Hub
}

func New(cfg config.ServerConfig, defaults config.GenerationConfig, deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		defaults: defaults,
		analyzer: deps.Analyzer,
		personas: deps.Personas,
		prompts:  deps.Prompts,
		bundles:  deps.Bundles,
		results:  deps.Results,
		stats:    deps.Stats,
		runs:     deps.Runs,
		hub:      deps.Hub,
		logger:   logger,
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/scrape", s.handleScrape)
		api.POST("/personas/generate", s.handleGeneratePersonas)
		api.POST("/personas/save", s.handleSavePersonas)
		api.GET("/personas", s.handleListPersonaSets)
		api.GET("/personas/:id", s.handleGetPersonaSet)
		api.POST("/prompts/generate", s.handleGeneratePrompts)
		api.POST("/prompts/save", s.handleSavePrompts)
		api.GET("/prompts", s.handleListPromptSets)
		api.GET("/prompts/:id", s.handleGetPromptSet)
		api.POST("/run-geo-test", s.handleRunGeoTest)
		api.GET("/runs/:runID", s.handleGetRun)
		api.GET("/test-results/:runID", s.handleTestResults)
	}

	if s.hub != nil {
		router.GET("/ws/progress", s.hub.HandleWS)
	}

	return router
}

// Engine exposes the router for tests and for the HTTP server in main.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("API server listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type scrapeRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) handleScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	analysis, err := s.analyzer.Analyze(c.Request.Context(), req.URL)
	if err != nil {
		s.logger.Error("website analysis failed", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze website"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analysis": analysis,
	})
}

type generatePersonasRequest struct {
	URL         string `json:"url" binding:"required"`
	NumPersonas int    `json:"num_personas"`
}

func (s *Server) handleGeneratePersonas(c *gin.Context) {
	var req generatePersonasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	if req.NumPersonas == 0 {
		req.NumPersonas = s.defaults.NumPersonas
	}

	analysis, err := s.analyzer.Analyze(c.Request.Context(), req.URL)
	if err != nil {
		s.logger.Error("website analysis failed", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze website"})
		return
	}

	set, err := s.personas.Generate(c.Request.Context(), analysis, req.NumPersonas)
	if err != nil {
		s.logger.Error("persona generation failed", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "persona generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"personas":      set.Personas,
		"count":         len(set.Personas),
		"website_url":   set.WebsiteURL,
		"website_title": set.WebsiteTitle,
	})
}

func (s *Server) handleSavePersonas(c *gin.Context) {
	var set domain.PersonaSet
	if err := c.ShouldBindJSON(&set); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona set"})
		return
	}
	if len(set.Personas) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "persona set is empty"})
		return
	}

	id, err := s.bundles.SavePersonaSet(c.Request.Context(), &set)
	if err != nil {
		s.logger.Error("failed to save persona set", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save persona set"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      id,
		"message": fmt.Sprintf("Saved %d personas for %s", len(set.Personas), set.WebsiteTitle),
	})
}

func (s *Server) handleListPersonaSets(c *gin.Context) {
	sets, err := s.bundles.ListPersonaSets(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list persona sets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list persona sets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"persona_sets": sets, "count": len(sets)})
}

func (s *Server) handleGetPersonaSet(c *gin.Context) {
	set, err := s.bundles.GetPersonaSet(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("failed to load persona set", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load persona set"})
		return
	}
	if set == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persona set not found"})
		return
	}
	c.JSON(http.StatusOK, set)
}

type generatePromptsRequest struct {
	URL        string `json:"url" binding:"required"`
	NumPrompts int    `json:"num_prompts"`
}

func (s *Server) handleGeneratePrompts(c *gin.Context) {
	var req generatePromptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	if req.NumPrompts == 0 {
		req.NumPrompts = s.defaults.NumPrompts
	}

	analysis, err := s.analyzer.Analyze(c.Request.Context(), req.URL)
	if err != nil {
		s.logger.Error("website analysis failed", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze website"})
		return
	}

	set, err := s.prompts.Generate(c.Request.Context(), analysis, req.NumPrompts)
	if err != nil {
		s.logger.Error("prompt generation failed", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "prompt generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"prompts":       set.Prompts,
		"count":         len(set.Prompts),
		"website_url":   set.WebsiteURL,
		"website_title": set.WebsiteTitle,
	})
}

func (s *Server) handleSavePrompts(c *gin.Context) {
	var set domain.PromptSet
	if err := c.ShouldBindJSON(&set); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prompt set"})
		return
	}
	if len(set.Prompts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt set is empty"})
		return
	}

	id, err := s.bundles.SavePromptSet(c.Request.Context(), &set)
	if err != nil {
		s.logger.Error("failed to save prompt set", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save prompt set"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      id,
		"message": fmt.Sprintf("Saved %d prompts for %s", len(set.Prompts), set.WebsiteTitle),
	})
}

func (s *Server) handleListPromptSets(c *gin.Context) {
	sets, err := s.bundles.ListPromptSets(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list prompt sets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list prompt sets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompt_sets": sets, "count": len(sets)})
}

func (s *Server) handleGetPromptSet(c *gin.Context) {
	set, err := s.bundles.GetPromptSet(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("failed to load prompt set", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load prompt set"})
		return
	}
	if set == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "prompt set not found"})
		return
	}
	c.JSON(http.StatusOK, set)
}

type runRequest struct {
	PersonaSetID string `json:"persona_set_id" binding:"required"`
	PromptSetID  string `json:"prompt_set_id" binding:"required"`
}

func (s *Server) handleRunGeoTest(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "persona_set_id and prompt_set_id are required"})
		return
	}

	personaSet, err := s.bundles.GetPersonaSet(c.Request.Context(), req.PersonaSetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load persona set"})
		return
	}
	if personaSet == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persona set not found"})
		return
	}

	promptSet, err := s.bundles.GetPromptSet(c.Request.Context(), req.PromptSetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load prompt set"})
		return
	}
	if promptSet == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "prompt set not found"})
		return
	}

	runID, err := s.runs.Start(personaSet, promptSet)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"run_id":  runID,
		"total":   len(personaSet.Personas) * len(promptSet.Prompts),
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("runID")
	summary, ok := s.runs.Get(runID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleTestResults(c *gin.Context) {
	runID := c.Param("runID")

	results, err := s.results.FindByRunID(c.Request.Context(), runID)
	if err != nil {
		s.logger.Error("failed to load results", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load results"})
		return
	}

	stats := s.lookupStats(c.Request.Context(), runID)

	c.JSON(http.StatusOK, gin.H{
		"run_id":  runID,
		"count":   len(results),
		"results": results,
		"stats":   stats,
	})
}

// lookupStats serves aggregate stats cache-first; failures degrade to a nil
// stats block rather than failing the request.
func (s *Server) lookupStats(ctx context.Context, runID string) *domain.AggregateStats {
	if s.stats != nil {
		if cached, hit := s.stats.GetRunStats(ctx, runID); hit {
			return cached
		}
	}

	stats, err := s.results.AggregateStats(ctx, map[string]any{"run_id": runID})
	if err != nil {
		s.logger.Warn("failed to aggregate stats", zap.String("run_id", runID), zap.Error(err))
		return nil
	}
	if s.stats != nil {
		s.stats.SetRunStats(ctx, runID, stats)
	}
	return stats
}
