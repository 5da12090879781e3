package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/canonical"
	"github.com/steveyegge/dealfinder/internal/convergence"
	"github.com/steveyegge/dealfinder/internal/discovery"
	"github.com/steveyegge/dealfinder/internal/extraction"
	"github.com/steveyegge/dealfinder/internal/merge"
	"github.com/steveyegge/dealfinder/internal/retry"
	"github.com/steveyegge/dealfinder/internal/review"
	"github.com/steveyegge/dealfinder/internal/storage"
)

// pipeline is everything a run needs, wired from configuration.
type pipeline struct {
	stores     *storage.Stores
	controller *convergence.Controller
	area       string
}

func (p *pipeline) Close() error {
	return p.stores.Close()
}

func buildCanonicalizer() (*canonical.Canonicalizer, error) {
	aliases, err := cfg.Aliases()
	if err != nil {
		return nil, err
	}
	return canonical.New(aliases), nil
}

func buildResolver() (*merge.Resolver, error) {
	mc := cfg.MergeConfig()
	return merge.NewResolver(mc, merge.NewKeywordSourceClassifier(mc.PrimarySourceKeywords))
}

func buildExtractor(area string) (convergence.Extractor, error) {
	fetcher, err := extraction.NewHTTPFetcher(cfg.Fetcher, nil, logger)
	if err != nil {
		return nil, err
	}
	if cfg.UseAnthropic() {
		logger.Info("using model extraction", zap.String("model", cfg.Anthropic.Model))
		return extraction.NewAnthropicExtractor(cfg.AnthropicConfig(area), fetcher, logger)
	}
	logger.Info("using rule-based extraction")
	return extraction.NewRuleExtractor(fetcher), nil
}

// openPipeline opens storage and wires the controller.
func openPipeline(ctx context.Context, metrics convergence.MetricsCollector) (*pipeline, error) {
	reviewCfg, err := cfg.ReviewConfig()
	if err != nil {
		return nil, err
	}
	policy, err := review.NewPolicy(reviewCfg, logger)
	if err != nil {
		return nil, err
	}
	canon, err := buildCanonicalizer()
	if err != nil {
		return nil, err
	}
	resolver, err := buildResolver()
	if err != nil {
		return nil, err
	}
	registry, err := discovery.FromConfig(cfg.Discovery, &http.Client{Timeout: cfg.Discovery.Timeout}, logger)
	if err != nil {
		return nil, err
	}
	extractor, err := buildExtractor(reviewCfg.Vocabulary.TherapeuticArea)
	if err != nil {
		return nil, err
	}

	stores, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	ctrl, err := convergence.NewController(cfg.Convergence, convergence.Deps{
		Discoverer:    registry,
		Extractor:     extractor,
		Ledger:        stores.Ledger,
		Checkpoints:   stores.Checkpoints,
		Policy:        policy,
		Canonicalizer: canon,
		Resolver:      resolver,
		Retrier:       retry.New(cfg.Retry, logger),
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		stores.Close()
		return nil, err
	}
	return &pipeline{stores: stores, controller: ctrl, area: reviewCfg.Vocabulary.TherapeuticArea}, nil
}

// startMetricsServer serves /metrics when metrics.listen is set. The returned
// func shuts the server down.
func startMetricsServer(reg *prometheus.Registry) func() {
	if cfg.Metrics.Listen == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Listen))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func header(title string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== "+title+" ==="))
}
