package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"outreach_engine/internal/model"
)

const (
	emailSettingsKey   = "email_settings"
	configOverridesKey = "config_overrides"
)

func (s *Store) getSetting(ctx context.Context, key string, dst any) (bool, error) {
	var valueJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_json FROM settings WHERE key = ?
	`, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(valueJSON), dst); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putSetting(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), time.Now().UnixMilli())
	return err
}

func (s *Store) GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error) {
	var out model.EmailSettings
	ok, err := s.getSetting(ctx, emailSettingsKey, &out)
	if err != nil || !ok {
		return model.EmailSettings{}, false, err
	}
	return out, true, nil
}

func (s *Store) UpsertEmailSettings(ctx context.Context, v model.EmailSettings) (model.EmailSettings, error) {
	v.Host = strings.TrimSpace(v.Host)
	v.From = strings.TrimSpace(v.From)
	var to []string
	for _, addr := range v.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	v.To = to
	if err := s.putSetting(ctx, emailSettingsKey, v); err != nil {
		return model.EmailSettings{}, err
	}
	return v, nil
}

// LoadOverrides returns the stored configuration overrides keyed by dotted path.
func (s *Store) LoadOverrides(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if _, err := s.getSetting(ctx, configOverridesKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveOverrides(ctx context.Context, overrides map[string]any) error {
	if overrides == nil {
		overrides = map[string]any{}
	}
	return s.putSetting(ctx, configOverridesKey, overrides)
}
