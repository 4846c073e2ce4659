package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

const generationKey = "prompts.generation"

func filteringKey(kind domain.ContentKind) string {
	return "prompts.filtering." + string(kind)
}

// Store reads prompt templates through the config repository and falls back
// to the built-in defaults when a document is absent or invalid.
type Store struct {
	repo   ports.ConfigRepository
	logger *slog.Logger
}

// NewStore wires a config repository; repo may be nil to use defaults only.
func NewStore(repo ports.ConfigRepository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, logger: logger}
}

// FilteringPrompt returns the filter template for kind. It never fails.
func (s *Store) FilteringPrompt(ctx context.Context, kind domain.ContentKind) Template {
	key := filteringKey(kind)
	text, ok := s.load(ctx, key)
	if !ok {
		return DefaultFilteringPrompt(kind)
	}
	t, err := Parse(key, text, PlaceholderMessage)
	if err != nil {
		s.logger.Warn("stored filtering prompt rejected, using default", "key", key, "error", err)
		return DefaultFilteringPrompt(kind)
	}
	return t
}

// GenerationPrompt returns the devotional base prompt. It never fails.
func (s *Store) GenerationPrompt(ctx context.Context) Template {
	text, ok := s.load(ctx, generationKey)
	if !ok {
		return DefaultGenerationPrompt()
	}
	t, err := Parse(generationKey, text)
	if err != nil {
		s.logger.Warn("stored generation prompt rejected, using default", "key", generationKey, "error", err)
		return DefaultGenerationPrompt()
	}
	return t
}

// SaveFilteringPrompt validates and replaces the filter template for kind.
func (s *Store) SaveFilteringPrompt(ctx context.Context, kind domain.ContentKind, text string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown content kind %q", kind)
	}
	key := filteringKey(kind)
	if _, err := Parse(key, text, PlaceholderMessage); err != nil {
		return err
	}
	return s.save(ctx, key, text)
}

// SaveGenerationPrompt validates and replaces the devotional base prompt.
func (s *Store) SaveGenerationPrompt(ctx context.Context, text string) error {
	if _, err := Parse(generationKey, text); err != nil {
		return err
	}
	return s.save(ctx, generationKey, text)
}

func (s *Store) load(ctx context.Context, key string) (string, bool) {
	if s.repo == nil {
		return "", false
	}
	text, err := s.repo.GetText(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("load prompt failed, using default", "key", key, "error", err)
		}
		return "", false
	}
	return text, true
}

func (s *Store) save(ctx context.Context, key, text string) error {
	if s.repo == nil {
		return fmt.Errorf("prompt store has no repository")
	}
	if err := s.repo.PutText(ctx, key, text); err != nil {
		return fmt.Errorf("save prompt %s: %w", key, err)
	}
	return nil
}
