package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"outreach_engine/internal/model"
)

var ErrNotFound = errors.New("not found")

func (s *Store) UpsertCampaign(ctx context.Context, c model.Campaign) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	var completedAt int64
	if !c.CompletedAt.IsZero() {
		completedAt = c.CompletedAt.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, status, config_json, total, completed, failed, pending, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			config_json = excluded.config_json,
			total = excluded.total,
			completed = excluded.completed,
			failed = excluded.failed,
			pending = excluded.pending,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`, c.ID, c.Name, string(c.Status), string(cfg), c.Counters.Total, c.Counters.Completed, c.Counters.Failed, c.Counters.Pending,
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(), completedAt)
	return err
}

const campaignColumns = `id, name, status, config_json, total, completed, failed, pending, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(r rowScanner) (model.Campaign, error) {
	var row struct {
		id          string
		name        string
		status      string
		configJSON  string
		total       int
		completed   int
		failed      int
		pending     int
		createdAt   int64
		updatedAt   int64
		completedAt int64
	}
	if err := r.Scan(&row.id, &row.name, &row.status, &row.configJSON, &row.total, &row.completed, &row.failed, &row.pending,
		&row.createdAt, &row.updatedAt, &row.completedAt); err != nil {
		return model.Campaign{}, err
	}
	out := model.Campaign{
		ID:     row.id,
		Name:   row.name,
		Status: model.CampaignStatus(row.status),
		Counters: model.CampaignCounters{
			Total:     row.total,
			Completed: row.completed,
			Failed:    row.failed,
			Pending:   row.pending,
		},
		CreatedAt: time.UnixMilli(row.createdAt),
		UpdatedAt: time.UnixMilli(row.updatedAt),
	}
	if row.completedAt > 0 {
		out.CompletedAt = time.UnixMilli(row.completedAt)
	}
	if err := json.Unmarshal([]byte(row.configJSON), &out.Config); err != nil {
		return model.Campaign{}, err
	}
	return out, nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Campaign{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCampaign removes the campaign and its recorded outcomes.
func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_outcomes WHERE campaign_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
