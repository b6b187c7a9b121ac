package store

import (
	"context"
	"fmt"

	"github.com/bainianlaoyao/stream-note/internal/model"
)

// ProviderSetting returns the owner's LLM provider override.
func (tx *Tx) ProviderSetting(ctx context.Context, ownerID string) (*model.ProviderSetting, error) {
	var p model.ProviderSetting
	var updatedAt string
	err := tx.q.QueryRowContext(ctx,
		`SELECT owner_id, provider, base_url, api_key, model, timeout_seconds,
		        max_attempts, disable_thinking, updated_at
		 FROM provider_settings WHERE owner_id = ?`, ownerID).Scan(
		&p.OwnerID, &p.Provider, &p.BaseURL, &p.APIKey, &p.Model, &p.TimeoutSeconds,
		&p.MaxAttempts, &p.DisableThinking, &updatedAt)
	if err != nil {
		return nil, notFound(err, "provider setting for owner "+ownerID)
	}
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// PutProviderSetting creates or replaces the owner's provider override.
func (tx *Tx) PutProviderSetting(ctx context.Context, p model.ProviderSetting) (*model.ProviderSetting, error) {
	p.UpdatedAt = tx.now
	_, err := tx.q.ExecContext(ctx,
		`INSERT INTO provider_settings (owner_id, provider, base_url, api_key, model,
			timeout_seconds, max_attempts, disable_thinking, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET
			provider = excluded.provider,
			base_url = excluded.base_url,
			api_key = excluded.api_key,
			model = excluded.model,
			timeout_seconds = excluded.timeout_seconds,
			max_attempts = excluded.max_attempts,
			disable_thinking = excluded.disable_thinking,
			updated_at = excluded.updated_at`,
		p.OwnerID, p.Provider, p.BaseURL, p.APIKey, p.Model, p.TimeoutSeconds,
		p.MaxAttempts, p.DisableThinking, formatTime(p.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("put provider setting: %w", err)
	}
	return &p, nil
}
