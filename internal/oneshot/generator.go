// Package oneshot renders standalone countdown images on request and stores
// them as uniquely named files under the output directory.
package oneshot

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koios/countdown-renderer/internal/engine"
	"github.com/koios/countdown-renderer/internal/frame"
	"github.com/koios/countdown-renderer/internal/markup"
	"github.com/koios/countdown-renderer/internal/metrics"
	"github.com/koios/countdown-renderer/pkg/models"
	"go.uber.org/zap"
)

// URLPrefix is the path generated files are served under
const URLPrefix = "/timers"

// Option configures a Generator
type Option func(*Generator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithIDSource replaces the random filename suffix
func WithIDSource(newID func() string) Option {
	return func(g *Generator) { g.newID = newID }
}

// Generator owns a dedicated engine, separate from the live loop, and
// renders one image at a time on it
type Generator struct {
	mu        sync.Mutex
	engine    engine.Engine
	outputDir string
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewGenerator creates a generator writing into outputDir
func NewGenerator(eng engine.Engine, outputDir string, logger *zap.Logger, opts ...Option) *Generator {
	g := &Generator{
		engine:    eng,
		outputDir: outputDir,
		logger:    logger,
		now:       time.Now,
		newID:     shortID,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func shortID() string {
	return uuid.NewString()[:8]
}

// Render merges patch over the one-shot defaults and returns the PNG
func (g *Generator) Render(ctx context.Context, patch models.Patch) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cfg := models.OneShotDefaults(now).Merge(patch)

	html, err := markup.Build(cfg, now)
	if err != nil {
		return nil, fmt.Errorf("build markup: %w", err)
	}

	if !g.engine.Ready() {
		err := g.engine.EnsureReady(ctx)
		metrics.ObserveLaunch(err)
		if err != nil {
			g.engine.Teardown()
			return nil, err
		}
	}

	start := time.Now()
	png, err := g.engine.RenderToImage(ctx, html)
	metrics.ObserveRender(metrics.SourceOneShot, time.Since(start), err)
	if err != nil {
		g.engine.Teardown()
		return nil, err
	}

	g.logger.Debug("One-shot timer rendered",
		zap.Time("target", cfg.Target),
		zap.Int("size_bytes", len(png)),
		zap.Duration("render_time", time.Since(start)))

	return png, nil
}

// Generate renders a timer and writes it to timer-<unixms>-<id>.png
func (g *Generator) Generate(ctx context.Context, patch models.Patch) (models.GenerateResult, error) {
	png, err := g.Render(ctx, patch)
	if err != nil {
		return models.GenerateResult{}, err
	}

	filename := fmt.Sprintf("timer-%d-%s.png", g.now().UnixMilli(), g.newID())
	if err := frame.WriteFileAtomic(filepath.Join(g.outputDir, filename), png); err != nil {
		return models.GenerateResult{}, fmt.Errorf("save %s: %w", filename, err)
	}

	g.logger.Info("Generated countdown image",
		zap.String("filename", filename),
		zap.Int("size_bytes", len(png)))

	return models.GenerateResult{
		Filename: filename,
		ImageURL: path.Join(URLPrefix, filename),
		PNG:      png,
	}, nil
}

// Close tears down the generator's engine
func (g *Generator) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.engine.Teardown()
}

// Ready reports whether the generator's engine is up
func (g *Generator) Ready() bool {
	return g.engine.Ready()
}
