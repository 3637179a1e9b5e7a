package sqlite

import (
	"context"

	"github.com/google/uuid"

	"outreach_engine/internal/model"
)

const defaultOutcomeLimit = 200

func (s *Store) InsertTaskOutcome(ctx context.Context, o model.TaskOutcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outcomes (id, task_id, campaign_id, category, status, domain, url, retry_count, detail, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.TaskID, o.CampaignID, string(o.Category), string(o.Status), o.Domain, o.URL, o.RetryCount, o.Detail, o.AtMs)
	return err
}

// ListTaskOutcomes returns the most recent outcomes of a campaign, newest first.
func (s *Store) ListTaskOutcomes(ctx context.Context, campaignID string, limit int) ([]model.TaskOutcome, error) {
	if limit <= 0 {
		limit = defaultOutcomeLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, campaign_id, category, status, domain, url, retry_count, detail, at_ms
		FROM task_outcomes WHERE campaign_id = ? ORDER BY at_ms DESC, rowid DESC LIMIT ?
	`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.TaskOutcome{}
	for rows.Next() {
		var (
			o        model.TaskOutcome
			category string
			status   string
		)
		if err := rows.Scan(&o.ID, &o.TaskID, &o.CampaignID, &category, &status, &o.Domain, &o.URL, &o.RetryCount, &o.Detail, &o.AtMs); err != nil {
			return nil, err
		}
		o.Category = model.Category(category)
		o.Status = model.TaskStatus(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
