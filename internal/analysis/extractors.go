package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/bainianlaoyao/stream-note/internal/extractor"
	"github.com/bainianlaoyao/stream-note/internal/llm"
	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/store"
)

// SettingsFor merges an owner's provider override onto defaults. Empty or
// non-positive override fields keep the default.
func SettingsFor(defaults llm.Settings, p *model.ProviderSetting) llm.Settings {
	s := defaults
	if p == nil {
		return s
	}
	if p.Provider != "" {
		s.Provider = p.Provider
	}
	if p.BaseURL != "" {
		s.BaseURL = p.BaseURL
	}
	if p.APIKey != "" {
		s.APIKey = p.APIKey
	}
	if p.Model != "" {
		s.Model = p.Model
	}
	if p.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(p.TimeoutSeconds * float64(time.Second))
	}
	if p.MaxAttempts > 0 {
		s.MaxAttempts = p.MaxAttempts
	}
	s.DisableThinking = p.DisableThinking
	return s
}

// ProviderExtractors returns an ExtractorSource that uses the owner's stored
// provider setting when present and defaults otherwise. newClient builds the
// LLM client for a settings value.
func ProviderExtractors(s store.Store, defaults llm.Settings, newClient func(llm.Settings) llm.Client, opts ...extractor.Option) ExtractorSource {
	base := extractor.New(newClient(defaults), defaults, opts...)
	return func(ctx context.Context, ownerID string) (TaskExtractor, error) {
		var setting *model.ProviderSetting
		err := s.View(ctx, func(tx *store.Tx) error {
			var err error
			setting, err = tx.ProviderSetting(ctx, ownerID)
			return err
		})
		if errors.Is(err, store.ErrNotFound) {
			return base, nil
		}
		if err != nil {
			return nil, err
		}
		merged := SettingsFor(defaults, setting)
		return extractor.New(newClient(merged), merged, opts...), nil
	}
}

// OpenAIClients builds go-openai backed clients.
func OpenAIClients(s llm.Settings) llm.Client {
	return llm.NewOpenAIClient(s)
}
