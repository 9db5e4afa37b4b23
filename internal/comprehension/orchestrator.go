// Package comprehension runs the staged text-generation passes that turn
// crawled pages into a raw extraction.
package comprehension

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/fetcher"
	"github.com/JakeFAU/capability-registry/internal/llm"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Pass names, used in logs and metrics.
const (
	PassMetadata     = "metadata"
	PassCapabilities = "capabilities"
	PassPricing      = "pricing"
	PassLimitations  = "limitations"
)

// Config names the fast and deep model variants.
type Config struct {
	FastModel string
	DeepModel string
}

// Orchestrator implements registry.Extractor.
type Orchestrator struct {
	gen    registry.TextGenerator
	cfg    Config
	logger *zap.Logger
}

type pass struct {
	name      string
	model     string
	prompt    string
	maxTokens int
	wantList  bool
}

// New builds an Orchestrator.
func New(gen registry.TextGenerator, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{gen: gen, cfg: cfg, logger: logging.OrNop(logger)}
}

// Extract runs the four passes concurrently. A pass that fails yields an empty
// value of its expected shape; Extract itself never fails.
func (o *Orchestrator) Extract(ctx context.Context, crawl registry.CrawlResult) registry.RawExtraction {
	content := PrepareContent(crawl)
	passes := []pass{
		{PassMetadata, o.cfg.FastModel, render(metadataPrompt, fetcher.Truncate(content, metadataWindow)), 2000, false},
		{PassCapabilities, o.cfg.DeepModel, render(capabilitiesPrompt, fetcher.Truncate(content, capabilityWindow)), 3000, true},
		{PassPricing, o.cfg.FastModel, render(pricingPrompt, PricingContent(crawl)), 1500, false},
		{PassLimitations, o.cfg.DeepModel, render(limitationsPrompt, fetcher.Truncate(content, limitationWindow)), 1500, false},
	}

	out := registry.RawExtraction{
		Metadata:     map[string]any{},
		Capabilities: []any{},
		Pricing:      map[string]any{},
		Limitations:  map[string]any{},
		PagesCrawled: crawl.TotalPages,
		Model:        o.cfg.DeepModel,
	}
	values := make([]any, len(passes))
	var wg sync.WaitGroup
	for i, p := range passes {
		wg.Go(func() { values[i] = o.run(ctx, crawl.Domain, p) })
	}
	wg.Wait()

	for i, p := range passes {
		switch p.name {
		case PassMetadata:
			out.Metadata = asMap(values[i])
		case PassCapabilities:
			out.Capabilities = asList(values[i])
		case PassPricing:
			out.Pricing = asMap(values[i])
		case PassLimitations:
			out.Limitations = asMap(values[i])
		}
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, domain string, p pass) any {
	o.logger.Info("comprehension pass",
		zap.String("domain", domain),
		zap.String("pass", p.name),
		zap.String("model", p.model),
	)
	reply, err := o.gen.Generate(ctx, registry.Prompt{Model: p.model, Text: p.prompt, MaxTokens: p.maxTokens})
	if err != nil {
		metrics.ObservePass(p.name, "error")
		o.logger.Warn("comprehension pass failed",
			zap.String("domain", domain),
			zap.String("pass", p.name),
			zap.Error(err),
		)
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(llm.CleanJSON(reply)), &value); err != nil {
		metrics.ObservePass(p.name, "parse_error")
		o.logger.Warn("comprehension pass returned malformed json",
			zap.String("domain", domain),
			zap.String("pass", p.name),
			zap.Error(err),
		)
		return nil
	}
	if p.wantList {
		if m, ok := value.(map[string]any); ok {
			value = m[PassCapabilities]
		}
	}
	metrics.ObservePass(p.name, "ok")
	return value
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
}
