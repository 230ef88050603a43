package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/carelingo/edgecache/internal/fusion"
)

// Translator is the external translation backend. It is consumed, never
// owned: the engine only calls it to materialize a prefetch.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang, context string) (string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, text, sourceLang, targetLang, context string) (string, error)

// Translate implements Translator.
func (f TranslatorFunc) Translate(ctx context.Context, text, sourceLang, targetLang, context string) (string, error) {
	return f(ctx, text, sourceLang, targetLang, context)
}

// SeedProvider supplies representative phrases to warm for a prediction
// that carries no explicit terms.
type SeedProvider func(p fusion.Prediction) []string

// DefaultSeeds warms the prediction's terms, falling back to the context
// name as a minimal seed.
func DefaultSeeds(p fusion.Prediction) []string {
	if len(p.Terms) > 0 {
		return p.Terms
	}
	return []string{p.Context}
}

// WarmingBackend turns a ranked prediction into translate-and-cache
// calls against the external collaborators.
type WarmingBackend struct {
	translator Translator
	store      Store
	seeds      SeedProvider
	log        *zap.Logger
}

// NewWarmingBackend wires the external translator and cache store.
func NewWarmingBackend(translator Translator, store Store, seeds SeedProvider, log *zap.Logger) *WarmingBackend {
	if seeds == nil {
		seeds = DefaultSeeds
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WarmingBackend{translator: translator, store: store, seeds: seeds, log: log}
}

// Prefetch translates and caches the seed phrases for one prediction.
func (b *WarmingBackend) Prefetch(ctx context.Context, p fusion.Prediction) error {
	for _, text := range b.seeds(p) {
		key := Key(p.SourceLang, p.TargetLang, p.Context, text)

		if _, ok, err := b.store.Get(ctx, key); err == nil && ok {
			// Already warm; just bump its priority.
			_ = b.store.Prioritize(ctx, key, string(p.Reason))
			continue
		}

		translated, err := b.translator.Translate(ctx, text, p.SourceLang, p.TargetLang, p.Context)
		if err != nil {
			return fmt.Errorf("cache: prefetch %s: %w", key, err)
		}
		if err := b.store.Set(ctx, key, []byte(translated)); err != nil {
			return fmt.Errorf("cache: store %s: %w", key, err)
		}
		if err := b.store.Prioritize(ctx, key, string(p.Reason)); err != nil {
			b.log.Warn("prioritize failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
