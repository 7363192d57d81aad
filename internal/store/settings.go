package store

import (
	"context"
	"fmt"
	"time"
)

const settingsColumns = `type, resend_api_key, send_from, r2_account_id, r2_access_key_id,
        r2_secret_access_key, r2_bucket, r2_public_url, created_at, updated_at`

// GetSettings returns the settings record, creating it with empty values on
// first use.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings (type, created_at, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT(type) DO NOTHING;`, settingsType, now, now)
	if err != nil {
		return Settings{}, fmt.Errorf("init settings: %w", err)
	}

	var settings Settings
	if err := s.db.GetContext(ctx, &settings, `SELECT `+settingsColumns+` FROM settings WHERE type = ?;`, settingsType); err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings overwrites every credential field of the settings record.
func (s *Store) UpdateSettings(ctx context.Context, settings Settings) error {
	now := time.Now().UTC()
	settings.Type = settingsType
	settings.CreatedAt = now
	settings.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO settings (`+settingsColumns+`)
        VALUES (:type, :resend_api_key, :send_from, :r2_account_id, :r2_access_key_id,
            :r2_secret_access_key, :r2_bucket, :r2_public_url, :created_at, :updated_at)
        ON CONFLICT(type) DO UPDATE SET
            resend_api_key = excluded.resend_api_key,
            send_from = excluded.send_from,
            r2_account_id = excluded.r2_account_id,
            r2_access_key_id = excluded.r2_access_key_id,
            r2_secret_access_key = excluded.r2_secret_access_key,
            r2_bucket = excluded.r2_bucket,
            r2_public_url = excluded.r2_public_url,
            updated_at = excluded.updated_at;`, settings)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
